// Package api embeds the OpenAPI specification of the control plane's HTTP
// surface.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
