// Package resolver maps a feature set onto the toolchain plugins each
// ecosystem needs, merging duplicate package requests and rejecting
// incompatible version constraints. It also builds the installer command
// an ecosystem uses to add the resolved packages.
package resolver
