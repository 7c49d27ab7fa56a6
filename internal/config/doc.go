// Package config loads tablesnap run configuration from environment
// variables. CLI flags override these values in main.
//
// Sections:
//   - Run: source URL or site preset, selector, output path template, sinks
//   - GitHub: contents API commit sink
//   - Git: local repository push sink
//   - Drive: Google Drive upload sink
//   - Telegram: chat sink and failure notifications
//   - Metrics: optional Pushgateway
//   - Logging: level and development encoding
//
// Credentials are read from the variables named here and nowhere else.
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
package config
