package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// MockEmailPuller reads a fixed JSON fixture feed of raw emails. It backs
// tests and local/dev mode where no real IMAP connection is configured.
type MockEmailPuller struct {
	label  string
	emails []RawEmail
}

// NewMockEmailPuller builds a puller serving the given emails directly,
// useful for constructing fixtures in tests.
func NewMockEmailPuller(label string, emails []RawEmail) *MockEmailPuller {
	sorted := append([]RawEmail(nil), emails...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ReceivedAt.Before(sorted[j].ReceivedAt) })
	return &MockEmailPuller{label: label, emails: sorted}
}

// NewMockEmailPullerFromFile loads the fixture feed from a JSON file holding
// an array of RawEmail-shaped objects.
func NewMockEmailPullerFromFile(label, path string) (*MockEmailPuller, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: read mock email fixture: %w", err)
	}
	var emails []RawEmail
	if err := json.Unmarshal(b, &emails); err != nil {
		return nil, fmt.Errorf("source: parse mock email fixture: %w", err)
	}
	return NewMockEmailPuller(label, emails), nil
}

func (p *MockEmailPuller) SourceLabel() string { return p.label }

func (p *MockEmailPuller) Validate(ctx context.Context) error { return nil }

func (p *MockEmailPuller) Fetch(ctx context.Context, since, until time.Time, limit, offset int) ([]RawEmail, error) {
	var window []RawEmail
	for _, e := range p.emails {
		if e.ReceivedAt.Before(since) || e.ReceivedAt.After(until) {
			continue
		}
		window = append(window, e)
	}
	if offset >= len(window) {
		return nil, nil
	}
	window = window[offset:]
	if limit > 0 && len(window) > limit {
		window = window[:limit]
	}
	return window, nil
}

func (p *MockEmailPuller) GetByID(ctx context.Context, messageID string) (*RawEmail, error) {
	for _, e := range p.emails {
		if e.MessageID == messageID {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

var _ EmailPuller = (*MockEmailPuller)(nil)
