// Package report renders plans and apply results for people: a preview
// with unified diffs of every pending write, and a summary of what an
// apply run did. Rendering is pure; the same plan always prints the same
// text.
package report
