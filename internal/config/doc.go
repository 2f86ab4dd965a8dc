// Package config manages stackforge settings using Viper. The user file at
// ~/.stackforge/config.yaml is read first, the project's .stackforge.yaml is
// merged on top, and STACKFORGE_* environment variables override both.
package config
