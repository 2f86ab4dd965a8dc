// Package synth renders configuration artifacts from the active feature set
// and reconciles them with files already on disk. Each artifact carries a
// merge strategy; user content outside the regions the engine owns is
// never deleted.
package synth
