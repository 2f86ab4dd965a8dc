// Package faults defines the error taxonomy shared by the detection and
// synthesis pipeline and maps each kind onto a process exit code.
package faults
