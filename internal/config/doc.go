// Package config loads keeper configuration from YAML files with
// ${VAR} environment substitution, applies defaults, and validates
// required fields.
package config
