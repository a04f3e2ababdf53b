package elvanto

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"elvcal/internal/model"
)

// ConnectionReport is a one-line summary per endpoint, for the operator's
// "test connection" action.
type ConnectionReport struct {
	Events   string `json:"events"`
	Services string `json:"services"`
}

// TestConnection issues one request to each endpoint and summarizes the
// outcome as "HTTP <code> - API Status: <status> - Error: <message>".
// The services probe omits the field list.
func (c *Client) TestConnection(ctx context.Context, apiKey string, win model.Window) (ConnectionReport, error) {
	if apiKey == "" {
		return ConnectionReport{}, fmt.Errorf("no API key configured")
	}

	var report ConnectionReport

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.eventsURL(apiKey, win), nil)
	if err != nil {
		return report, err
	}
	report.Events = c.probe(req, resourceEvents, "event", c.eventsURL("REDACTED", win))

	req, err = c.servicesRequest(ctx, apiKey, win, nil)
	if err != nil {
		return report, err
	}
	report.Services = c.probe(req, resourceServices, "service", c.servicesURL())

	return report, nil
}

func (c *Client) probe(req *http.Request, resource, singular, redacted string) string {
	resp, err := c.client.Do(req)
	if err != nil {
		return "Error: " + redactURLError(err, redacted).Error()
	}
	defer resp.Body.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %d", resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return b.String()
	}
	env, err := parseEnvelope(body, resource, singular)
	if err != nil {
		return b.String()
	}
	if env.Status != "" {
		fmt.Fprintf(&b, " - API Status: %s", env.Status)
	}
	if env.APIError != nil {
		fmt.Fprintf(&b, " - Error: %s", apiErrorMessage(env.APIError))
	}
	return b.String()
}
