// Package config loads codeindex settings with viper from flags,
// CODEINDEX_* environment variables, an optional codeindex.yaml and
// defaults, in that order of precedence.
package config
