// Package configs provides the embedded default config.json template.
//
// It is embedded at build time via go:embed, so the example config.json
// ships inside the binary without a separate asset.
package configs

import _ "embed"

// DefaultConfigTemplate holds the contents of config.example.json.
//
//go:embed config.example.json
var DefaultConfigTemplate string
