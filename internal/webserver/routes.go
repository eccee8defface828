package webserver

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentic-research/veneer/internal/httperr"
)

const indexFile = "index.sql"

// handle routes every request. SQL files render; a trailing slash means the
// directory's index.sql; a path without extension resolves to its .sql
// sibling or redirects to its directory; anything else is served from the
// web root as-is.
func (s *Server) handle(c *gin.Context) {
	reqPath := c.Request.URL.Path
	if strings.Contains(reqPath, "..") {
		c.String(http.StatusForbidden, "Forbidden: the requested path contains '..'")
		return
	}
	if name, ok := strings.CutPrefix(reqPath, assetPrefix); ok {
		s.serveAsset(c, name)
		return
	}
	rel := strings.TrimPrefix(path.Clean("/"+reqPath), "/")
	switch {
	case strings.HasSuffix(reqPath, "/"):
		s.renderFile(c, path.Join(rel, indexFile))
	case path.Ext(rel) == ".sql":
		s.renderFile(c, rel)
	case path.Ext(rel) == "":
		s.resolveExtensionless(c, rel)
	default:
		s.serveStatic(c, rel)
	}
}

// resolveExtensionless maps /page to page.sql when that file exists, and
// otherwise redirects to /page/ when the directory has an index.
func (s *Server) resolveExtensionless(c *gin.Context, rel string) {
	if s.fileExists(rel + ".sql") {
		s.renderFile(c, rel+".sql")
		return
	}
	if s.fileExists(path.Join(rel, indexFile)) {
		target := c.Request.URL.Path + "/"
		if q := c.Request.URL.RawQuery; q != "" {
			target += "?" + q
		}
		c.Redirect(http.StatusMovedPermanently, target)
		return
	}
	c.String(http.StatusNotFound, "Not found: %s", c.Request.URL.Path)
}

func (s *Server) fileExists(rel string) bool {
	info, err := s.webFS.Stat(rel)
	return err == nil && !info.IsDir()
}

// renderFile loads the SQL file at rel through the cache and streams the
// rendered page.
func (s *Server) renderFile(c *gin.Context, rel string) {
	file, err := s.sqlCache.Get(c.Request.Context(), rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = httperr.New(http.StatusNotFound, "the file %q was not found", rel)
		}
		s.writeError(c, err)
		return
	}
	s.renderSQL(c, file)
}

// serveStatic streams a non-SQL file from the web root, honoring
// If-Modified-Since so unchanged files are not re-sent.
func (s *Server) serveStatic(c *gin.Context, rel string) {
	info, err := s.webFS.Stat(rel)
	if err != nil || info.IsDir() {
		c.String(http.StatusNotFound, "Not found: %s", c.Request.URL.Path)
		return
	}
	modTime := info.ModTime().UTC().Truncate(time.Second)
	if since := c.GetHeader("If-Modified-Since"); since != "" {
		if t, err := http.ParseTime(since); err == nil && !modTime.After(t) {
			c.Status(http.StatusNotModified)
			return
		}
	}
	f, err := s.webFS.Open(rel)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer func() { _ = f.Close() }() // safe to ignore: read-only handle
	h := c.Writer.Header()
	h.Set("Content-Type", contentTypeFor(rel))
	h.Set("Last-Modified", modTime.Format(http.TimeFormat))
	securityHeaders(h)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, f); err != nil {
		s.logger.DebugContext(c.Request.Context(), "http: client closed the connection mid-file", "error", err)
	}
}

func contentTypeFor(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
