// Package publisher delivers a written snapshot to remote destinations.
//
// Each Sink is independent: a failure in one never affects another, and
// every Publish call is bounded by the caller's context.
package publisher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"

	"tablesnap/internal/snapshot"
)

// Sink publishes a local file (or, for chat sinks, the run's report text)
// to one remote destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, localPath string, t Target) (Receipt, error)
}

// MessageSink is a Sink that posts text rather than files. It needs no
// local file and can relay failure notifications.
type MessageSink interface {
	Sink
	Send(ctx context.Context, text string) error
}

// Target carries the per-run publish parameters shared by all sinks.
type Target struct {
	// Path is the destination path inside the remote repository. Empty
	// means the base name of the local file.
	Path string
	// Message is the commit message for version-control sinks.
	Message string
	// Text is the message body for chat sinks.
	Text string
}

// Receipt describes a successful publish.
type Receipt struct {
	Sink      string `json:"sink"`
	Location  string `json:"location,omitempty"`
	Revision  string `json:"revision,omitempty"`
	Unchanged bool   `json:"unchanged,omitempty"`
}

// BlobSHA returns the git blob object id of content, the same value the
// repository contents API reports as a file's sha.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func readLocal(sink, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Sink: sink, Kind: KindConfig, Err: &snapshot.IOError{Op: "read", Path: path, Err: err}}
	}
	return data, nil
}
