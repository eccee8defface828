package webserver

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentic-research/veneer/internal/database"
	"github.com/agentic-research/veneer/internal/httperr"
	"github.com/agentic-research/veneer/internal/render"
	"github.com/agentic-research/veneer/internal/request"
	"github.com/agentic-research/veneer/internal/sqlparse"
)

// headResult is the single message the pipeline sends once the response head
// is final. Either err is set and no body will follow, or head describes the
// response and hasBody says whether chunks are coming.
type headResult struct {
	head    *render.ResponseHead
	hasBody bool
	err     error
}

// renderSQL executes one parsed SQL file and streams the rendered page to
// the client. The head is written as soon as the first body byte is known,
// before the database has finished producing rows.
func (s *Server) renderSQL(c *gin.Context, file *sqlparse.File) {
	ctx := c.Request.Context()
	info := request.Extract(c.Request)
	items := s.db.Stream(ctx, file, info)

	head := make(chan headResult, 1)
	body := make(chan []byte, maxPendingChunks)
	go s.streamPage(ctx, items, head, body)

	res := <-head
	if res.err != nil {
		s.writeError(c, res.err)
		return
	}
	writeHead(c, res.head)
	if !res.hasBody {
		return
	}
	for chunk := range body {
		if _, err := c.Writer.Write(chunk); err != nil {
			s.logger.DebugContext(ctx, "http: client closed the connection mid-page", "error", err)
			return
		}
		c.Writer.Flush()
	}
}

// streamPage drives the renderer over the database items. It sends exactly
// one headResult and closes body when the page is done or the client is
// gone. Rendering blocks once maxPendingChunks chunks are waiting.
func (s *Server) streamPage(ctx context.Context, items <-chan database.DbItem, head chan<- headResult, body chan []byte) {
	defer close(body)
	w := &responseWriter{out: body, gone: ctx.Done()}
	renderer, ok := s.renderHead(ctx, items, head, w)
	if !ok {
		return
	}
	s.renderBody(ctx, items, renderer, w)
}

// renderHead consumes items until the response head is final. It returns the
// body renderer, or ok == false when the whole response was already decided
// (an early error, or a page made only of header directives).
func (s *Server) renderHead(ctx context.Context, items <-chan database.DbItem, head chan<- headResult, w *responseWriter) (*render.RenderContext, bool) {
	hctx := render.NewHeaderContext(s.store, w, s.logger)
	for item := range items {
		var (
			page render.PageContext
			err  error
		)
		switch it := item.(type) {
		case database.FinishedQuery:
			s.logger.DebugContext(ctx, "pipeline: query finished before the body started")
			continue
		case database.Row:
			page, err = hctx.HandleRow(ctx, it.Data)
		case database.Error:
			page, err = hctx.HandleError(ctx, it.Err)
		}
		if err != nil {
			head <- headResult{err: err}
			return nil, false
		}
		switch pc := page.(type) {
		case render.KeepHeader:
			hctx = pc.Ctx
		case render.StartBody:
			head <- headResult{head: pc.Head, hasBody: true}
			return pc.Renderer, true
		}
	}
	head <- headResult{head: hctx.Close()}
	return nil, false
}

// renderBody streams the rest of the items through the body renderer,
// flushing after every item. A rendering failure is displayed in the page;
// if displaying it fails too, the page is closed with the nested error as a
// plain trailing notice.
func (s *Server) renderBody(ctx context.Context, items <-chan database.DbItem, renderer *render.RenderContext, w *responseWriter) {
	for item := range items {
		var err error
		switch it := item.(type) {
		case database.Row:
			err = renderer.HandleRow(ctx, it.Data)
		case database.FinishedQuery:
			renderer.FinishQuery(ctx)
		case database.Error:
			err = renderer.HandleError(ctx, it.Err)
		}
		if err != nil {
			if nested := renderer.HandleError(ctx, err); nested != nil {
				s.logger.ErrorContext(ctx, "pipeline: an error occurred while displaying an other error",
					"error", err, "nested_error", nested)
				renderer.Close(ctx)
				w.closeWithError(nested)
				return
			}
		}
		if err := w.Flush(); err != nil {
			s.logger.InfoContext(ctx, "pipeline: stopping rendering early, the client stopped reading")
			return
		}
	}
	renderer.Close(ctx)
	if err := w.Flush(); err != nil {
		s.logger.DebugContext(ctx, "pipeline: client was gone before the page closing", "error", err)
		return
	}
	s.logger.DebugContext(ctx, "pipeline: page rendered")
}

// writeHead copies the accumulated head onto the wire before any body chunk.
func writeHead(c *gin.Context, head *render.ResponseHead) {
	h := c.Writer.Header()
	for name, values := range head.Header {
		h[name] = values
	}
	securityHeaders(h)
	c.Status(head.Status)
	c.Writer.WriteHeaderNow()
}

// writeError reports an error that happened before any response byte was
// sent. Errors carrying an explicit status keep it; everything else is a 500.
func (s *Server) writeError(c *gin.Context, err error) {
	s.logger.ErrorContext(c.Request.Context(), "http: an error occurred before the response body started", "error", err)
	status := http.StatusInternalServerError
	var statusErr *httperr.Error
	if errors.As(err, &statusErr) {
		status = statusErr.Status
	}
	switch status {
	case http.StatusUnauthorized:
		c.Header("WWW-Authenticate", `Basic realm="Authentication required", charset="UTF-8"`)
		c.String(status, "Sorry, but you are not authorized to access this page.")
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", strconv.Itoa(rand.IntN(15)+1))
		fallthrough
	default:
		c.String(status, "Sorry, but we were not able to process your request. \n\nError:\n\n %v", err)
	}
}
