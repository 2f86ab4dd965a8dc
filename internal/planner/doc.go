// Package planner turns a feature set, its resolved plugins and the active
// artifacts into an ordered execution plan, and applies that plan as one
// transaction: installs, then file writes, then git hook registration.
//
// Every step carries an idempotency key describing its post-condition and
// the key of what is on disk now; equal keys make the step a no-op, so a
// second run over an unchanged project does nothing. A failed or cancelled
// apply rolls back every step it started, in reverse order.
package planner
