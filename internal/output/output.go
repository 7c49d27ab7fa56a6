package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"tablesnap/internal/snapshot"
)

// InferFormat returns the snapshot file format implied by the extension
// of path: "xlsx" for .xlsx, "csv" otherwise.
func InferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return "xlsx"
	default:
		return "csv"
	}
}

// Write serializes s to path, replacing any existing file. The content is
// written to a temporary file in the same directory and renamed into place,
// so readers never observe a partial file.
func Write(s *snapshot.Snapshot, path string) error {
	encode := func(w io.Writer) error { return encodeCSV(s, w) }
	if InferFormat(path) == "xlsx" {
		encode = func(w io.Writer) error { return encodeXLSX(s, w) }
	}
	return writeAtomic(path, encode)
}

// Read loads a snapshot previously produced by Write.
func Read(path string) (*snapshot.Snapshot, error) {
	if InferFormat(path) == "xlsx" {
		return readXLSX(path)
	}
	return ReadCSV(path)
}

func writeAtomic(path string, encode func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &snapshot.IOError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &snapshot.IOError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := encode(tmp); err != nil {
		return &snapshot.IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &snapshot.IOError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &snapshot.IOError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return &snapshot.IOError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &snapshot.IOError{Op: "rename", Path: path, Err: fmt.Errorf("move %s into place: %w", tmpName, err)}
	}
	committed = true
	return nil
}
