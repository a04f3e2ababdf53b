// Package elvanto fetches the calendar events and services resources from
// the Elvanto v1 API.
package elvanto

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"elvcal/internal/clock"
	appLog "elvcal/internal/log"
	"elvcal/internal/model"
)

const (
	DefaultBaseURL = "https://api.elvanto.com/v1"
	DefaultTimeout = 30 * time.Second

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 16 << 20

	resourceEvents   = "events"
	resourceServices = "services"
)

// Client talks to the two upstream resources. It is safe for concurrent use.
type Client struct {
	client  *http.Client
	baseURL string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root (tests use an
// httptest server).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// New creates a Client with a 30s per-request timeout.
func New(opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: DefaultTimeout},
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchEvents reads the calendar events in win. With an empty apiKey it
// returns immediately without a request. On error the returned slice is
// empty; the diagnostics are filled in either way.
func (c *Client) FetchEvents(ctx context.Context, apiKey string, win model.Window) ([]model.RawEvent, model.EndpointDiagnostics, error) {
	var diag model.EndpointDiagnostics
	diag.Method = http.MethodGet
	if apiKey == "" {
		diag.Skipped = true
		return nil, diag, nil
	}

	reqURL := c.eventsURL(apiKey, win)
	diag.URL = c.eventsURL("REDACTED", win)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, diag, c.fail(&diag, &FetchError{Resource: resourceEvents, Kind: KindTransport, Err: err})
	}

	raws, err := c.do(req, resourceEvents, "event", &diag)
	if err != nil {
		return nil, diag, err
	}

	events, invalid := decodeRecords[model.RawEvent](raws)
	diag.Invalid = invalid
	appLog.Info("elvanto fetch success", "resource", resourceEvents, "count", len(events), "invalid", invalid)
	return events, diag, nil
}

// FetchServices reads the services in win, requesting series names and
// pictures. Same contract as FetchEvents.
func (c *Client) FetchServices(ctx context.Context, apiKey string, win model.Window) ([]model.RawService, model.EndpointDiagnostics, error) {
	var diag model.EndpointDiagnostics
	diag.Method = http.MethodPost
	if apiKey == "" {
		diag.Skipped = true
		return nil, diag, nil
	}

	diag.URL = c.servicesURL()
	req, err := c.servicesRequest(ctx, apiKey, win, []string{"series_name", "picture"})
	if err != nil {
		return nil, diag, c.fail(&diag, &FetchError{Resource: resourceServices, Kind: KindTransport, Err: err})
	}

	raws, err := c.do(req, resourceServices, "service", &diag)
	if err != nil {
		return nil, diag, err
	}

	services, invalid := decodeRecords[model.RawService](raws)
	diag.Invalid = invalid
	appLog.Info("elvanto fetch success", "resource", resourceServices, "count", len(services), "invalid", invalid)
	return services, diag, nil
}

func (c *Client) eventsURL(apiKey string, win model.Window) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/calendar/events/getAll.json")
	b.WriteString("?apikey=" + url.QueryEscape(apiKey))
	b.WriteString("&start=" + clock.DateString(win.Start))
	b.WriteString("&end=" + clock.DateString(win.End))
	b.WriteString("&fields[0]=register_url")
	b.WriteString("&fields[1]=locations")
	return b.String()
}

func (c *Client) servicesURL() string {
	return c.baseURL + "/services/getAll.json"
}

type servicesBody struct {
	Start  string   `json:"start"`
	End    string   `json:"end"`
	Fields []string `json:"fields,omitempty"`
}

func (c *Client) servicesRequest(ctx context.Context, apiKey string, win model.Window, fields []string) (*http.Request, error) {
	body, err := json.Marshal(servicesBody{
		Start:  clock.DateString(win.Start),
		End:    clock.DateString(win.End),
		Fields: fields,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.servicesURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", BasicAuth(apiKey))
	return req, nil
}

// BasicAuth builds the services credential header: base64(apiKey + ":x").
func BasicAuth(apiKey string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(apiKey+":x"))
}

// do executes req and returns the raw records found in the envelope.
func (c *Client) do(req *http.Request, resource, singular string, diag *model.EndpointDiagnostics) ([]json.RawMessage, error) {
	appLog.Info("elvanto fetch start", "resource", resource, "method", req.Method, "url", diag.URL)

	started := time.Now()
	resp, err := c.client.Do(req)
	diag.Duration = time.Since(started)
	if err != nil {
		return nil, c.fail(diag, &FetchError{Resource: resource, Kind: KindTransport, Err: redactURLError(err, diag.URL)})
	}
	defer resp.Body.Close()

	diag.StatusCode = resp.StatusCode
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail(diag, &FetchError{Resource: resource, Kind: KindTransport, StatusCode: resp.StatusCode, Err: err})
	}

	env, err := parseEnvelope(body, resource, singular)
	if err != nil {
		kind := KindDecode
		if resp.StatusCode >= http.StatusBadRequest {
			kind = KindStatus
		}
		return nil, c.fail(diag, &FetchError{Resource: resource, Kind: kind, StatusCode: resp.StatusCode, Message: resp.Status, Err: err})
	}

	diag.APIStatus = env.Status
	diag.TopLevelKeys = env.TopLevelKeys
	diag.WrapperKeys = env.WrapperKeys
	diag.Pagination = env.Pagination
	diag.Count = len(env.Records)
	if len(env.Records) > 0 {
		diag.Sample = env.Records[0]
	}

	if env.APIError != nil {
		diag.APIError = env.APIError
		return nil, c.fail(diag, &FetchError{
			Resource:   resource,
			Kind:       KindAPI,
			StatusCode: resp.StatusCode,
			Message:    apiErrorMessage(env.APIError),
		})
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.fail(diag, &FetchError{Resource: resource, Kind: KindStatus, StatusCode: resp.StatusCode, Message: resp.Status})
	}

	return env.Records, nil
}

func (c *Client) fail(diag *model.EndpointDiagnostics, ferr *FetchError) error {
	diag.Error = ferr.Error()
	diag.ErrorKind = string(ferr.Kind)
	appLog.Error("elvanto fetch failed", ferr, "resource", ferr.Resource, "kind", ferr.Kind, "url", diag.URL)
	return ferr
}

// redactURLError swaps the request URL inside a *url.Error, which may
// carry the API key, for the redacted form.
func redactURLError(err error, redacted string) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = redacted
	}
	return err
}

// decodeRecords unmarshals each raw record into T, skipping anything that
// is not an object or does not decode.
func decodeRecords[T any](raws []json.RawMessage) ([]T, int) {
	out := make([]T, 0, len(raws))
	invalid := 0
	for _, raw := range raws {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			invalid++
			continue
		}
		var rec T
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			invalid++
			continue
		}
		out = append(out, rec)
	}
	return out, invalid
}

func apiErrorMessage(raw json.RawMessage) string {
	var obj struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		if obj.Code != nil {
			return fmt.Sprintf("%v: %s", obj.Code, obj.Message)
		}
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return string(raw)
}

// IsKind reports whether err is a *FetchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ferr *FetchError
	return errors.As(err, &ferr) && ferr.Kind == kind
}
