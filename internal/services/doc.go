// Package services defines shared helpers consumed by the ingest pipeline and
// the CLI.
//
// Key responsibilities:
//   - Context helpers that stamp run identifiers, stage names, and capture
//     paths for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into consistent exit codes and report categories.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability) stays uniform across packages.
package services
