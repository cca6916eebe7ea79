package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// RESTRequest is a single outbound REST call (spec §3.6).
type RESTRequest struct {
	Method  string
	Path    string
	Body    []byte
	Headers map[string]string
}

// RESTResponse is the outcome of a RESTRequest (spec §3.6, §6.4).
type RESTResponse struct {
	Success  bool
	HTTPCode int
	Body     []byte
	Err      error
}

// RESTClient is the outbound REST collaborator the core consumes (spec
// §6.4): it accepts a request and invokes a completion callback. The core
// never implements the platform's actual REST surface (Non-goal); this
// package provides only a thin default so the module is usable standalone.
type RESTClient interface {
	Do(ctx context.Context, req RESTRequest, done func(RESTResponse))
}

// httpRESTClient is the default [RESTClient], built directly on net/http:
// no ecosystem REST framework in the retrieval pack targets an outbound
// client role beyond stdlib, so this one component is intentionally
// stdlib-only (see DESIGN.md).
type httpRESTClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRESTClient returns a [RESTClient] that issues requests against
// baseURL using client (or http.DefaultClient if nil).
func NewHTTPRESTClient(baseURL string, client *http.Client) RESTClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpRESTClient{baseURL: baseURL, client: client}
}

func (h *httpRESTClient) Do(ctx context.Context, req RESTRequest, done func(RESTResponse)) {
	go func() {
		var bodyReader io.Reader
		if len(req.Body) > 0 {
			bodyReader = bytes.NewReader(req.Body)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, h.baseURL+req.Path, bodyReader)
		if err != nil {
			done(RESTResponse{Success: false, Err: err})
			return
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := h.client.Do(httpReq)
		if err != nil {
			done(RESTResponse{Success: false, Err: err})
			return
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			done(RESTResponse{Success: false, HTTPCode: resp.StatusCode, Err: err})
			return
		}

		done(RESTResponse{
			Success:  resp.StatusCode < 400,
			HTTPCode: resp.StatusCode,
			Body:     body,
		})
	}()
}
