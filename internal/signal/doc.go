// Package signal collects file-system evidence about a project: which files
// exist, which manifests declare which dependencies and scripts, and which
// lockfiles are present. The collector is read-only and its output is a
// normalized, order-independent Set.
package signal
