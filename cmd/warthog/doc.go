// Package main hosts the warthog CLI entrypoint and command graph.
//
// Commands resolve configuration once through commandContext, then hand off
// to the internal packages: ingest runs the batch pipeline, catalog manages
// vehicle snapshots, list and export read the record store, and doctor checks
// the environment. Keep domain logic in internal/ and surface it here.
package main
