// Package cli defines the Cobra command tree for the stackforge CLI. Each
// file registers one top-level command (setup, check, fix, detect, etc.)
// with the root command. Commands delegate to internal/engine for the
// pipeline and only handle flags, settings and output formatting.
package cli
