package webserver

import (
	"embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

// assetPrefix is where the files the builtin components link to are served
// from, regardless of the web root's content.
const assetPrefix = "/veneer/"

//go:embed assets
var assetFS embed.FS

// serveAsset serves one embedded asset. Assets only change with the binary,
// so clients may cache them for a day.
func (s *Server) serveAsset(c *gin.Context, name string) {
	data, err := assetFS.ReadFile("assets/" + name)
	if err != nil {
		c.String(http.StatusNotFound, "Not found: %s", c.Request.URL.Path)
		return
	}
	h := c.Writer.Header()
	h.Set("Content-Type", contentTypeFor(name))
	h.Set("Cache-Control", "public, max-age=86400")
	c.Status(http.StatusOK)
	_, _ = c.Writer.Write(data)
}
