// Package textutil provides text normalization shared by the capture and
// catalog packages.
//
// The primary use cases are:
//   - Cleaning datamined display names of icon glyphs and lookalike characters
//   - Deriving stable keys for map identifiers across capture sources
//   - Sanitizing filenames and path segments for safe filesystem use
package textutil
