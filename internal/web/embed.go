// ABOUTME: Embedded filesystem for status page templates
// ABOUTME: Templates are compiled into the binary via go:embed

package web

import "embed"

//go:embed templates
var templateFS embed.FS
