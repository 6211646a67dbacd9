package backbone

import (
	"context"
	"strings"
	"sync"

	"github.com/noah-isme/backend-kasir/internal/commission"
)

// Mock is an in-memory backbone useful for tests and local development. Items
// are matched the way the real service does: sellable items only, free-text
// query against code and name.
type Mock struct {
	mu        sync.Mutex
	Items     []Item
	Sessions  []Session
	Tiers     map[string][]commission.Tier
	Sources   map[string][]FundSource
	SubmitErr error
	Submitted []SubmitPayload
	ActorID   string
}

// SearchItems filters the configured items by query.
func (m *Mock) SearchItems(_ context.Context, _ string, query string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(query))
	var out []Item
	for _, item := range m.Items {
		if !item.IsService && item.AvailableStock <= 0 {
			continue
		}
		if needle == "" ||
			strings.Contains(strings.ToLower(item.Code), needle) ||
			strings.Contains(strings.ToLower(item.Name), needle) {
			out = append(out, item)
		}
	}
	return out, nil
}

// SubmitTransaction records the payload and returns a canned receipt.
func (m *Mock) SubmitTransaction(_ context.Context, payload SubmitPayload) (TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return TransactionRecord{}, m.SubmitErr
	}
	m.Submitted = append(m.Submitted, payload)
	var total int64
	for _, line := range payload.LineItems {
		total += int64(line.Quantity) * line.UnitPrice
	}
	return TransactionRecord{ID: "tx-mock", Folio: "F-0001", Total: total}, nil
}

// ActiveSession returns the configured actor's open session, if any.
func (m *Mock) ActiveSession(_ context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Sessions {
		if m.Sessions[i].IsOpen && m.Sessions[i].OwnerActorID == m.ActorID {
			ses := m.Sessions[i]
			return &ses, nil
		}
	}
	return nil, nil
}

// OpenSessions lists open sessions at the location.
func (m *Mock) OpenSessions(_ context.Context, locationID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, ses := range m.Sessions {
		if ses.IsOpen && ses.LocationID == locationID {
			out = append(out, ses)
		}
	}
	return out, nil
}

// CommissionTiers returns the configured schedule for the account.
func (m *Mock) CommissionTiers(_ context.Context, accountID string) ([]commission.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Tiers[accountID], nil
}

// FundSources returns the configured sources for the location.
func (m *Mock) FundSources(_ context.Context, locationID string) ([]FundSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Sources[locationID], nil
}
