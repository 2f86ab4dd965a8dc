// Package registry loads the static, versioned tables that drive detection
// and synthesis: ecosystems, rules, exclusions, plugins and artifacts. Each
// table is a YAML document validated against an embedded JSON Schema before
// it is compiled into the types the pipeline consumes. A default set is
// embedded in the binary; a user directory can override entries by id.
package registry
