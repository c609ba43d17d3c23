// Package upstream is the JSON-over-HTTP plumbing shared by the payment and
// shipping provider clients: bearer auth, bounded waits, and classification
// of failures into the storefront's error taxonomy.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
)

// StatusError is a non-2xx reply from the provider.
type StatusError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Service, e.StatusCode, e.Message)
}

type Client struct {
	service   string
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
}

func New(service, baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) WithUserAgent(ua string) *Client {
	c.userAgent = ua
	return c
}

// Do sends in (when non-nil) as JSON and decodes the reply into out (when
// non-nil). Errors are *apperr.Error: ErrTimeout when the bounded wait is
// exceeded, ErrUpstream for anything else, wrapping a *StatusError for
// non-2xx replies.
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperr.ErrInternal.Wrap(fmt.Errorf("failed to encode %s request: %w", c.service, err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperr.ErrInternal.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return apperr.ErrTimeout.Withf("%s did not answer in time", c.service).Wrap(err)
		}
		return apperr.ErrUpstream.Withf("failed to reach %s", c.service).Wrap(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.ErrUpstream.Withf("failed to read %s response", c.service).Wrap(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Service: c.service, StatusCode: resp.StatusCode, Message: providerMessage(raw)}
		return apperr.ErrUpstream.Withf("%s", se.Error()).Wrap(se)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.ErrUpstream.Withf("invalid %s response", c.service).Wrap(err)
	}
	return nil
}

// StatusCode returns the provider status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func providerMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
