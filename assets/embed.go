// Package assets embeds the demo seed data served by `osem serve --demo`.
package assets

import "embed"

// DemoFS holds the demo organizations, land polygons, reference layers and
// the matching toggle layer catalog under demo/.
//
//go:embed demo
var DemoFS embed.FS
