// Package templates provides the embedded prompt templates.
package templates

import "embed"

// Prompts contains the markdown prompt templates, one file per prompt name.
//
//go:embed prompts/*.md
var Prompts embed.FS
