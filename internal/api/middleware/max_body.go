package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pagewise/hub/internal/api/response"
)

// RequestBodyTooLargeRecorder counts requests rejected by MaxBody. Nil when metrics are disabled.
type RequestBodyTooLargeRecorder interface {
	RecordRequestBodyTooLarge(ctx context.Context)
}

// MaxBody caps request bodies at maxBytes and answers 413 when a change event or search
// request exceeds it. maxBytes <= 0 disables the limit.
//
// A declared Content-Length over the limit is rejected before the handler runs. Otherwise
// the handler's response for POST/PUT/PATCH is held back until it returns, so that a read
// that hit the limit halfway through decoding can still be turned into a 413.
func MaxBody(maxBytes int64, recorder RequestBodyTooLargeRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}

		return &bodyLimiter{next: next, limit: maxBytes, recorder: recorder}
	}
}

type bodyLimiter struct {
	next     http.Handler
	limit    int64
	recorder RequestBodyTooLargeRecorder
}

func (l *bodyLimiter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > l.limit {
		l.reject(w, r)

		return
	}

	body := &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, l.limit)}
	r.Body = body

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		l.next.ServeHTTP(w, r)

		return
	}

	held := &heldResponse{ResponseWriter: w}
	l.next.ServeHTTP(held, r)

	if body.exceeded {
		l.reject(w, r)

		return
	}

	held.release()
}

func (l *bodyLimiter) reject(w http.ResponseWriter, r *http.Request) {
	if l.recorder != nil {
		l.recorder.RecordRequestBodyTooLarge(r.Context())
	}

	response.RespondError(w, http.StatusRequestEntityTooLarge,
		"Request Entity Too Large", fmt.Sprintf("request body exceeds %d bytes", l.limit))
}

// limitedBody remembers whether the MaxBytesReader tripped.
type limitedBody struct {
	io.ReadCloser

	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == nil || errors.Is(err, io.EOF) {
		return n, err //nolint:wrapcheck // decoders compare io.EOF by identity
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		b.exceeded = true
	}

	return n, fmt.Errorf("read body: %w", err)
}

// heldResponse buffers status and body until release.
type heldResponse struct {
	http.ResponseWriter

	status int
	body   bytes.Buffer
}

func (h *heldResponse) WriteHeader(code int) {
	if h.status == 0 {
		h.status = code
	}
}

func (h *heldResponse) Write(p []byte) (int, error) {
	if h.status == 0 {
		h.status = http.StatusOK
	}

	n, err := h.body.Write(p)
	if err != nil {
		return n, fmt.Errorf("buffer write: %w", err)
	}

	return n, nil
}

func (h *heldResponse) release() {
	if h.status != 0 {
		h.ResponseWriter.WriteHeader(h.status)
	}

	_, _ = h.body.WriteTo(h.ResponseWriter)
}
