// Package rules evaluates the detection matrix: each Rule is a pure
// predicate over a signal.Set that produces one Feature when it fires.
// Rules run in a single pass and never observe each other's output.
package rules
