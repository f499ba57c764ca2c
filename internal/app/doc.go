// Package app wires application dependencies for the CLI.
//
// It builds the logging backend, the on-disk stores, the relay client and
// the metrics registry from a config.Config, exposing them via the Wire
// struct, and constructs otrkit Kits on top of them for commands to use.
package app
