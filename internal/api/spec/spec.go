// Package spec embeds the wallet API's OpenAPI document.
package spec

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"net/http"
	"time"
)

// Path is where the router mounts the document; the Swagger UI loads it
// from here.
const Path = "/openapi.yaml"

//go:embed openapi.yaml
var document []byte

var etag = func() string {
	sum := sha256.Sum256(document)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}()

// OpenAPIHandler serves the document. A request whose If-None-Match carries
// the current ETag gets a 304.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("ETag", etag)
		http.ServeContent(w, r, "openapi.yaml", time.Time{}, bytes.NewReader(document))
	}
}
