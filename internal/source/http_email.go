package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/resilience"
)

// HTTPEmailPuller fetches alert-candidate emails from an inbox-bridge
// service's paginated API, per §6 "Email fetcher source". Like
// HTTPTransactionPuller, every call is wrapped in the resilience
// primitives: retries happen inside one logical breaker call.
type HTTPEmailPuller struct {
	label      string
	baseURL    string
	httpClient *http.Client
	runner     *resilience.RetryRunner
	breaker    *resilience.CircuitBreaker
}

// NewHTTPEmailPuller builds a puller against baseURL, labeled sourceLabel.
func NewHTTPEmailPuller(sourceLabel, baseURL string, timeout time.Duration, retry resilience.RetryConfig, breaker resilience.BreakerConfig) *HTTPEmailPuller {
	return &HTTPEmailPuller{
		label:      sourceLabel,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		runner:     resilience.NewRetryRunner(retry, isTransientHTTPError),
		breaker:    resilience.NewCircuitBreaker(breaker),
	}
}

func (p *HTTPEmailPuller) SourceLabel() string { return p.label }

func (p *HTTPEmailPuller) Validate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("source: build health request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("source: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("source: health check returned status %d", resp.StatusCode)
	}
	return nil
}

type inboxPage struct {
	Messages []inboxMessage `json:"messages"`
}

type inboxMessage struct {
	MessageID  string `json:"messageId"`
	Sender     string `json:"sender"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ReceivedAt string `json:"receivedAt"`
}

func (p *HTTPEmailPuller) Fetch(ctx context.Context, since, until time.Time, limit, offset int) ([]RawEmail, error) {
	var page inboxPage
	err := p.breaker.CallWithRetry(ctx, p.runner, func(ctx context.Context) error {
		u, err := url.Parse(p.baseURL + "/messages")
		if err != nil {
			return fmt.Errorf("source: parse base url: %w", err)
		}
		q := u.Query()
		q.Set("since", since.UTC().Format(time.RFC3339))
		q.Set("until", until.UTC().Format(time.RFC3339))
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("source: build fetch request: %w", err)
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return &transientError{err}
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return &transientError{fmt.Errorf("inbox bridge returned %d", resp.StatusCode)}
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("inbox bridge returned %d (not retried)", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&page)
	})
	if err != nil {
		return nil, err
	}

	out := make([]RawEmail, 0, len(page.Messages))
	for _, m := range page.Messages {
		receivedAt, parseErr := time.Parse(time.RFC3339, m.ReceivedAt)
		if parseErr != nil {
			receivedAt = time.Time{}
		}
		out = append(out, RawEmail{
			MessageID: m.MessageID, Sender: m.Sender, Subject: m.Subject,
			Body: m.Body, ReceivedAt: receivedAt,
		})
	}
	return out, nil
}

func (p *HTTPEmailPuller) GetByID(ctx context.Context, messageID string) (*RawEmail, error) {
	var m inboxMessage
	err := p.breaker.CallWithRetry(ctx, p.runner, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/messages/"+url.PathEscape(messageID), nil)
		if err != nil {
			return fmt.Errorf("source: build get request: %w", err)
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return &transientError{err}
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return errNotFoundSentinel
		}
		if resp.StatusCode >= 500 {
			return &transientError{fmt.Errorf("inbox bridge returned %d", resp.StatusCode)}
		}
		return json.NewDecoder(resp.Body).Decode(&m)
	})
	if err == errNotFoundSentinel {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	receivedAt, _ := time.Parse(time.RFC3339, m.ReceivedAt)
	return &RawEmail{
		MessageID: m.MessageID, Sender: m.Sender, Subject: m.Subject,
		Body: m.Body, ReceivedAt: receivedAt,
	}, nil
}

var _ EmailPuller = (*HTTPEmailPuller)(nil)
