// Package carddav is the HTTP transport used to talk to contact providers.
package carddav

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starford/cardsync/internal/apperr"
)

// DefaultContentType is sent when a request does not set its own.
const DefaultContentType = "application/json; charset=UTF-8"

// VCardContentType is the media type of pushed contact documents.
const VCardContentType = "text/vcard; charset=UTF-8"

// Request describes one exchange with a provider. Username and Password
// are sent as basic auth when Username is set.
type Request struct {
	Method   string
	URL      string
	Username string
	Password string
	Header   map[string]string
	Body     []byte
}

// Response is what the caller sees of the provider's reply.
type Response struct {
	Status     int
	StatusText string
	Body       []byte
}

// OK reports whether the status is one of codes.
func (r *Response) OK(codes ...int) bool {
	for _, c := range codes {
		if r.Status == c {
			return true
		}
	}
	return false
}

// Client sends requests without retrying; callers own retry policy.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient returns a Client. A nil httpClient gets one with the given
// timeout; timeout 0 leaves the transport default.
func NewClient(httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{httpClient: httpClient, userAgent: "cardsync/1.0"}
}

// Do performs req. Only failures to complete the exchange are errors; any
// HTTP status is returned in the Response. Errors match apperr.ErrTransport.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, apperr.Transport("carddav: "+strings.ToLower(req.Method), err)
	}
	httpReq.Header.Set("Content-Type", DefaultContentType)
	httpReq.Header.Set("User-Agent", c.userAgent)
	for key, value := range req.Header {
		httpReq.Header.Set(key, value)
	}
	if req.Username != "" {
		httpReq.SetBasicAuth(req.Username, req.Password)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.Transport("carddav: "+strings.ToLower(req.Method), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transport("carddav: read body", err)
	}
	return &Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Body:       payload,
	}, nil
}

// Get fetches url.
func (c *Client) Get(ctx context.Context, url, username, password string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url, Username: username, Password: password})
}

// Put uploads body to url with the given content type.
func (c *Client) Put(ctx context.Context, url, username, password, contentType string, body []byte) (*Response, error) {
	return c.Do(ctx, Request{
		Method:   http.MethodPut,
		URL:      url,
		Username: username,
		Password: password,
		Header:   map[string]string{"Content-Type": contentType},
		Body:     body,
	})
}

// Post sends body to url with the default content type.
func (c *Client) Post(ctx context.Context, url string, body []byte) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: url, Body: body})
}

// Delete removes url.
func (c *Client) Delete(ctx context.Context, url, username, password string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, URL: url, Username: username, Password: password})
}

// statusText strips the numeric code from resp.Status ("404 Not Found").
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
