package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"auditledger/internal/config"
	"auditledger/internal/types"
)

// herokuAccept is the versioned media type the enterprise audit-trail
// endpoint requires.
const herokuAccept = "application/vnd.heroku+json; version=3"

// defaultUserAgent identifies this service to the provider.
const defaultUserAgent = "auditledger-collector/1.0"

// statusMessages supplies a human-readable diagnostic when the provider
// returns an error status with an empty body.
var statusMessages = map[int]string{
	http.StatusBadRequest:          "Bad Request",
	http.StatusUnauthorized:        "Unauthorized - Invalid or missing API token",
	http.StatusForbidden:           "Forbidden - Insufficient permissions",
	http.StatusNotFound:            "Not Found - Resource not found (check account ID/name)",
	http.StatusTooManyRequests:     "Too Many Requests - Rate limit exceeded",
	http.StatusInternalServerError: "Internal Server Error",
	http.StatusBadGateway:          "Bad Gateway",
	http.StatusServiceUnavailable:  "Service Unavailable",
}

// herokuErrorBody is the provider's documented error envelope.
type herokuErrorBody struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// eventsEnvelope is the response shape of the audit-trail events endpoint.
type eventsEnvelope struct {
	Data []types.AuditEvent `json:"data"`
}

// AuditEventsClient fetches the enterprise audit-event feed for a calendar
// day. Provider-reported failures (4xx/5xx, transport errors, timeouts)
// surface as a structured FetchResult.Failure rather than a Go error, so
// the orchestrator can tell "provider said no" apart from "something
// broke".
type AuditEventsClient struct {
	base      *BaseClient
	baseURL   string
	token     types.SecretString
	accountID string

	filterType       string
	filterAction     string
	filterActorEmail string
}

// NewAuditEventsClient builds a client from the Heroku configuration. The
// http.Client's Timeout bounds each request; hitting it surfaces as a
// structured failure, never a hang.
func NewAuditEventsClient(cfg config.HerokuConfig, httpClient *http.Client) *AuditEventsClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &AuditEventsClient{
		base:             NewBaseClient(httpClient, "heroku-audit-events", DefaultRetryPolicy(), defaultUserAgent),
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		token:            cfg.APIToken,
		accountID:        cfg.AccountID,
		filterType:       cfg.FilterType,
		filterAction:     cfg.FilterAction,
		filterActorEmail: cfg.FilterActorEmail,
	}
}

// FetchEvents retrieves the audit events for the given UTC calendar day.
//
// The returned error is reserved for faults outside the provider contract
// (request construction, response decoding); everything the provider or
// the network did wrong is carried in FetchResult.Failure.
func (c *AuditEventsClient) FetchEvents(ctx context.Context, day time.Time) (*types.FetchResult, error) {
	endpoint := fmt.Sprintf("%s/enterprise-accounts/%s/events", c.baseURL, url.PathEscape(c.accountID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building audit events request: %w", err)
	}

	params := req.URL.Query()
	params.Set("day", types.NormalizeDate(day).Format(types.ProcessDateLayout))
	params.Set("order", "asc")
	if c.filterType != "" {
		params.Set("type", c.filterType)
	}
	if c.filterAction != "" {
		params.Set("action", c.filterAction)
	}
	if c.filterActorEmail != "" {
		params.Set("actor", c.filterActorEmail)
	}
	req.URL.RawQuery = params.Encode()

	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())
	req.Header.Set("Accept", herokuAccept)

	resp, err := c.base.Do(req)
	if err != nil {
		// Exhausted retries, open breaker, or transport breakdown: the
		// provider contract was not honored, which is a FAILED outcome,
		// not an orchestrator crash.
		return &types.FetchResult{
			Failure: &types.ProviderFailure{Message: err.Error()},
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &types.FetchResult{
			Failure: parseProviderError(resp),
		}, nil
	}

	var envelope eventsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding audit events response: %w", err)
	}

	return &types.FetchResult{
		Events: envelope.Data,
		Count:  len(envelope.Data),
	}, nil
}

// parseProviderError decodes the provider's error envelope into a
// structured failure. Empty bodies fall back to a status-code message
// table; undecodable bodies fall back to the raw text.
func parseProviderError(resp *http.Response) *types.ProviderFailure {
	failure := &types.ProviderFailure{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(resp.Body)
	text := strings.TrimSpace(string(body))
	if err != nil || text == "" {
		msg, ok := statusMessages[resp.StatusCode]
		if !ok {
			msg = fmt.Sprintf("HTTP %d error", resp.StatusCode)
		}
		failure.Message = msg
		return failure
	}

	var envelope herokuErrorBody
	if jsonErr := json.Unmarshal(body, &envelope); jsonErr != nil || envelope.Message == "" {
		failure.Message = text
		return failure
	}

	if envelope.ID == "" {
		envelope.ID = "unknown_error"
	}
	failure.ErrorID = envelope.ID
	failure.Message = envelope.ID + ": " + envelope.Message
	if envelope.URL != "" {
		failure.Message += " (URL: " + envelope.URL + ")"
	}
	return failure
}
