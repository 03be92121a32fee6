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

// HTTPTransactionPuller fetches transaction records from a paginated
// provider API, per §6 "Transaction source API". It wraps every call in the
// resilience primitives: retries happen inside one logical breaker call, per
// §4.1 Composition.
type HTTPTransactionPuller struct {
	label      string
	baseURL    string
	httpClient *http.Client
	runner     *resilience.RetryRunner
	breaker    *resilience.CircuitBreaker
}

// NewHTTPTransactionPuller builds a puller against baseURL, labeled
// sourceLabel for natural-key dedup purposes.
func NewHTTPTransactionPuller(sourceLabel, baseURL string, timeout time.Duration, retry resilience.RetryConfig, breaker resilience.BreakerConfig) *HTTPTransactionPuller {
	return &HTTPTransactionPuller{
		label:      sourceLabel,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		runner:     resilience.NewRetryRunner(retry, isTransientHTTPError),
		breaker:    resilience.NewCircuitBreaker(breaker),
	}
}

func (p *HTTPTransactionPuller) SourceLabel() string { return p.label }

func (p *HTTPTransactionPuller) Validate(ctx context.Context) error {
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

type providerTransactionPage struct {
	Records []providerRecord `json:"records"`
}

type providerRecord struct {
	ExternalID   string `json:"externalId"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Instant      string `json:"instant"`
	Status       string `json:"status"`
	Reference    string `json:"reference"`
	Description  string `json:"description"`
	AccountRef   string `json:"accountRef"`
	Counterparty string `json:"counterparty"`
}

func (p *HTTPTransactionPuller) Fetch(ctx context.Context, since, until time.Time, limit, offset int) ([]RawTransaction, error) {
	var page providerTransactionPage
	err := p.breaker.CallWithRetry(ctx, p.runner, func(ctx context.Context) error {
		u, err := url.Parse(p.baseURL + "/transactions")
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
			return &transientError{fmt.Errorf("provider returned %d", resp.StatusCode)}
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("provider returned %d (not retried)", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&page)
	})
	if err != nil {
		return nil, err
	}

	out := make([]RawTransaction, 0, len(page.Records))
	for _, r := range page.Records {
		instant, parseErr := time.Parse(time.RFC3339, r.Instant)
		if parseErr != nil {
			instant = time.Time{}
		}
		out = append(out, RawTransaction{
			ExternalID: r.ExternalID, Amount: r.Amount, Currency: r.Currency, Instant: instant,
			Status: r.Status, Reference: r.Reference, Description: r.Description,
			AccountRef: r.AccountRef, Counterparty: r.Counterparty,
		})
	}
	return out, nil
}

func (p *HTTPTransactionPuller) GetByID(ctx context.Context, externalID string) (*RawTransaction, error) {
	var rec providerRecord
	err := p.breaker.CallWithRetry(ctx, p.runner, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/transactions/"+url.PathEscape(externalID), nil)
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
			return &transientError{fmt.Errorf("provider returned %d", resp.StatusCode)}
		}
		return json.NewDecoder(resp.Body).Decode(&rec)
	})
	if err == errNotFoundSentinel {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	instant, _ := time.Parse(time.RFC3339, rec.Instant)
	return &RawTransaction{
		ExternalID: rec.ExternalID, Amount: rec.Amount, Currency: rec.Currency, Instant: instant,
		Status: rec.Status, Reference: rec.Reference, Description: rec.Description,
		AccountRef: rec.AccountRef, Counterparty: rec.Counterparty,
	}, nil
}

var _ TransactionPuller = (*HTTPTransactionPuller)(nil)
