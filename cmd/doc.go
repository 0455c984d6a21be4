// Package cmd implements the command-line interface for the hstat hierarchical
// statistics aggregation engine. It provides a hierarchical command structure
// for exercising and inspecting the engine.
//
// The package is organized into several subpackages:
//
//   - sim: Workload simulator driving concurrent per-CPU writers and a periodic
//     flusher against a randomly shaped accounting tree
//   - util: Shared utilities for command-line processing, configuration and
//     logging (internal use)
//
// See hstat -help for a list of all commands.
package cmd
