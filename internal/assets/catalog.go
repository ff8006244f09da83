package assets

import _ "embed"

// CatalogData holds the raw JSON style and milestone catalog.
//
//go:embed catalog.json
var CatalogData []byte
