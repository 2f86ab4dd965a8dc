// Package engine runs the detection and synthesis pipeline for one project
// root: collect signals, evaluate rules, resolve the toolchain, plan, then
// preview or apply. It owns the advisory project lock and maps outcomes to
// exit codes.
package engine
