package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
)

// Content types the upstream story endpoint answers with.
const (
	ContentTypeText = "text/plain"
	ContentTypeJSON = "application/json"
)

// Kind classifies a response body.
type Kind int

const (
	KindUnknown Kind = iota
	KindStream       // text/plain byte stream, terminated by EOF
	KindPayload      // one complete JSON Payload
)

// Response is an opened generation response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
}

// Kind reports how the body must be consumed. A text stream is only accepted
// with a 2xx status; a JSON payload is accepted with any status because error
// payloads carry the reason.
func (r *Response) Kind() Kind {
	mediaType, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(r.ContentType))
	}
	switch {
	case mediaType == ContentTypeText && r.StatusCode >= 200 && r.StatusCode < 300:
		return KindStream
	case mediaType == ContentTypeJSON:
		return KindPayload
	}
	return KindUnknown
}

// Source opens one generation attempt.
type Source interface {
	Open(ctx context.Context) (*Response, error)
}

// Payload is the one-shot fallback body: either story or error is set.
type Payload struct {
	Story *string `json:"story,omitempty"`
	Error *string `json:"error,omitempty"`
}

// HTTPSource POSTs a JSON generation request to an upstream story endpoint.
type HTTPSource struct {
	URL     string
	APIKey  string
	Request any
	Client  *http.Client
}

func (s *HTTPSource) Open(ctx context.Context) (*Response, error) {
	body, err := json.Marshal(s.Request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeJSON)
	req.Header.Set("Accept", ContentTypeText+", "+ContentTypeJSON)
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	client := s.Client
	if client == nil {
		client = NewHTTPClient()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}

// NewHTTPClient returns a client suited to long-lived streaming responses: it
// bounds connection setup but not the body, which the caller's context bounds.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 2 * time.Minute,
		ForceAttemptHTTP2:     true,
	}
	transport.DialContext = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{Transport: transport}
}

// ReaderSource streams text from any reader, e.g. stdin or a pipe.
type ReaderSource struct {
	R io.Reader
}

func (s *ReaderSource) Open(ctx context.Context) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, ok := s.R.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(s.R)
	}
	return &Response{
		StatusCode:  http.StatusOK,
		ContentType: ContentTypeText + "; charset=utf-8",
		Body:        rc,
	}, nil
}

// PayloadSource delivers a complete story (or error) as the JSON fallback.
type PayloadSource struct {
	Payload    Payload
	StatusCode int
}

// NewStorySource wraps a complete story string.
func NewStorySource(story string) *PayloadSource {
	return &PayloadSource{Payload: Payload{Story: &story}, StatusCode: http.StatusOK}
}

// NewErrorSource wraps an upstream error message.
func NewErrorSource(msg string, status int) *PayloadSource {
	return &PayloadSource{Payload: Payload{Error: &msg}, StatusCode: status}
}

func (s *PayloadSource) Open(ctx context.Context) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(s.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	status := s.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &Response{
		StatusCode:  status,
		ContentType: ContentTypeJSON,
		Body:        io.NopCloser(bytes.NewReader(data)),
	}, nil
}
