// Package configs provides the embedded configuration template for
// guideline-rag. The template is embedded at build time so it ships
// with every distribution of the binary.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// 'guideline-rag config init'.
//
//go:embed guideline-rag.example.yaml
var ConfigTemplate string
