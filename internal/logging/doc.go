// Package logging builds the structured zap logger shared by the engine.
// User-facing output does not go through the logger; commands print to the
// cobra output stream and diagnostics go to stderr.
package logging
