package render

import "net/http"

// ResponseHead is the status and header set decided during the header phase.
// It is final once the first body record appears; everything after it is
// body bytes.
type ResponseHead struct {
	Status int
	Header http.Header
}

func newResponseHead() *ResponseHead {
	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	return &ResponseHead{Status: http.StatusOK, Header: h}
}
