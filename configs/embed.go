// Package configs embeds configuration templates so they ship inside the
// binary regardless of how it was installed.
//
// The template is written by `doclens init` to the per-user config location
// (see internal/config.DefaultConfigPath). Edit the .yaml file here and
// rebuild to change what init generates.
package configs

import _ "embed"

// ConfigTemplate is the annotated default configuration written by
// `doclens init`.
//
//go:embed config.example.yaml
var ConfigTemplate string
