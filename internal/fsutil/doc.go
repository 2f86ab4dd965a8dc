// Package fsutil holds the file-system primitives the planner relies on:
// root-confined path joins, staged atomic writes, snapshots for rollback,
// and the advisory project lock.
package fsutil
