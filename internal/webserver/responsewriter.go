package webserver

import (
	"bytes"
	"fmt"
)

// maxPendingChunks bounds how many flushed chunks may sit between the
// rendering goroutine and the HTTP connection. When the client reads slower
// than the database produces rows, rendering blocks instead of buffering the
// whole page.
const maxPendingChunks = 128

// ErrClientGone reports that the client stopped reading the response while
// the page was still being rendered.
var ErrClientGone = fmt.Errorf("the HTTP response writer with a capacity of %d has already been closed", maxPendingChunks)

// responseWriter collects rendered bytes and hands them to the response
// goroutine one chunk per Flush. Write never fails; Flush fails once the
// client is gone.
type responseWriter struct {
	buf  bytes.Buffer
	out  chan<- []byte
	gone <-chan struct{}
}

func (w *responseWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// Flush sends the buffered bytes as one chunk, blocking while the client
// catches up. An empty buffer is a no-op.
func (w *responseWriter) Flush() error {
	if w.buf.Len() == 0 {
		return nil
	}
	chunk := bytes.Clone(w.buf.Bytes())
	w.buf.Reset()
	select {
	case w.out <- chunk:
		return nil
	case <-w.gone:
		return ErrClientGone
	}
}

// closeWithError appends a last notice to the already rendered output so a
// truncated page shows why it stopped.
func (w *responseWriter) closeWithError(cause error) {
	_ = w.Flush()
	w.buf.WriteString(cause.Error())
	_ = w.Flush()
}
