// Package client talks to a running nmbsim server over its REST API.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
	"github.com/nmbsim/nmbsim/internal/domain/simulation"
	"github.com/nmbsim/nmbsim/pkg/pagination"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// errorBody covers both the simulation error shape and echo's default one.
type errorBody struct {
	Errors  []string `json:"errors"`
	Message string   `json:"message"`
}

type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// New returns a client for the server at baseURL. An empty token sends no
// Authorization header, which only works against a development server.
func New(baseURL, token string, logger zerolog.Logger) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Accept", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{http: rc, logger: logger}
}

// Simulate runs req on the server. Cached reports the server's X-Cache header.
func (c *Client) Simulate(ctx context.Context, req simulation.Request) (*simulation.Outcome, error) {
	var body simulation.SimulationResponse
	resp, err := c.post(ctx, "/api/v1/simulations", req, &body)
	if err != nil {
		return nil, err
	}
	if body.SimulationResult == nil {
		return nil, fmt.Errorf("simulate: empty response body")
	}
	return &simulation.Outcome{
		Result:   body.SimulationResult,
		Warnings: body.Warnings,
		Cached:   resp.Header().Get(simulation.CacheHeader) == "HIT",
	}, nil
}

func (c *Client) Validate(ctx context.Context, req simulation.Request) (*simulation.ValidationReport, error) {
	var report simulation.ValidationReport
	if _, err := c.post(ctx, "/api/v1/validate", req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) Parameters(ctx context.Context, p pkpd.Patient) (*simulation.ParametersResponse, error) {
	var out simulation.ParametersResponse
	if _, err := c.post(ctx, "/api/v1/parameters", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Models fetches the whole model catalogue in one page.
func (c *Client) Models(ctx context.Context) ([]simulation.ModelInfo, error) {
	var page struct {
		Data []simulation.ModelInfo `json:"data"`
	}
	var apiErr errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(pagination.MaxLimit)).
		SetResult(&page).
		SetError(&apiErr).
		Get("/api/v1/models")
	if err := c.check(resp, err, &apiErr); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// Export returns the exported file and the server's suggested filename.
func (c *Client) Export(ctx context.Context, req simulation.Request, format string) ([]byte, string, error) {
	var apiErr errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("format", format).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetError(&apiErr).
		Post("/api/v1/simulations/export")
	if err := c.check(resp, err, &apiErr); err != nil {
		return nil, "", err
	}
	return resp.Body(), attachmentName(resp.Header().Get("Content-Disposition")), nil
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) (*resty.Response, error) {
	var apiErr errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(result).
		SetError(&apiErr).
		Post(path)
	if err := c.check(resp, err, &apiErr); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) check(resp *resty.Response, err error, apiErr *errorBody) error {
	if err != nil {
		c.logger.Error().Err(err).Msg("nmbsim api call failed")
		return fmt.Errorf("call nmbsim api: %w", err)
	}
	if !resp.IsError() {
		return nil
	}

	e := &APIError{StatusCode: resp.StatusCode(), Messages: apiErr.Errors}
	if len(e.Messages) == 0 && apiErr.Message != "" {
		e.Messages = []string{apiErr.Message}
	}
	c.logger.Debug().
		Int("status", e.StatusCode).
		Str("path", resp.Request.URL).
		Strs("errors", e.Messages).
		Msg("nmbsim api returned error")
	return e
}

func attachmentName(disposition string) string {
	_, after, ok := strings.Cut(disposition, "filename=")
	if !ok {
		return ""
	}
	return strings.Trim(after, `"`)
}
