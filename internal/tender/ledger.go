// Package tender assembles the payment side of an in-progress transaction.
package tender

import (
	"errors"

	"github.com/noah-isme/backend-kasir/internal/commission"
)

// Money represents a monetary value in whole currency units.
type Money = int64

// Type discriminates the payment instrument of a tender line.
type Type string

const (
	// TypeCash is a drawer movement. At most one cash line may exist per
	// transaction; a physical drawer cannot receive two movements at once.
	TypeCash Type = "cash"
	// TypeBankTransfer debits a bank account and may carry a tiered fee.
	TypeBankTransfer Type = "bank_transfer"
	// TypeCardTerminal charges through a card terminal.
	TypeCardTerminal Type = "card_terminal"
)

var (
	// ErrDuplicateCash is returned when a second cash line is added.
	ErrDuplicateCash = errors.New("tender: transaction already has a cash tender")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("tender: amount must be positive")
	// ErrIndexOutOfRange is returned for operations on a line that does not exist.
	ErrIndexOutOfRange = errors.New("tender: index out of range")
	// ErrUnknownType is returned for an unrecognized tender type.
	ErrUnknownType = errors.New("tender: unknown tender type")
)

// Line is one payment instrument applied toward the transaction total.
// Commission is derived, never operator-supplied: it is the fee the funding
// source charges for a bank transfer and is debited on top of Amount, not
// subtracted from the total owed by the counterpart.
type Line struct {
	Type       Type   `json:"type"`
	Amount     Money  `json:"amount"`
	SourceID   string `json:"sourceId"`
	Commission Money  `json:"commission"`
}

// Cash builds a drawer tender line.
func Cash(amount Money, drawerID string) Line {
	return Line{Type: TypeCash, Amount: amount, SourceID: drawerID}
}

// BankTransfer builds a transfer tender line, resolving the account's fee
// schedule against the amount.
func BankTransfer(amount Money, accountID string, tiers []commission.Tier) Line {
	return Line{
		Type:       TypeBankTransfer,
		Amount:     amount,
		SourceID:   accountID,
		Commission: commission.Resolve(amount, tiers),
	}
}

// CardTerminal builds a terminal tender line.
func CardTerminal(amount Money, terminalID string) Line {
	return Line{Type: TypeCardTerminal, Amount: amount, SourceID: terminalID}
}

// Totals is the reconciliation snapshot of a transaction. Change and Pending
// are mutually exclusive: at most one of them is positive.
type Totals struct {
	Total   Money `json:"total"`
	Paid    Money `json:"paid"`
	Change  Money `json:"change"`
	Pending Money `json:"pending"`
}

// Payable reports whether the tenders cover the total.
func (t Totals) Payable() bool {
	return t.Pending == 0
}

// Ledger accumulates tender lines for one transaction. It is not safe for
// concurrent use; callers serialize access.
type Ledger struct {
	lines []Line
}

// Add validates and appends a tender line.
func (l *Ledger) Add(line Line) error {
	switch line.Type {
	case TypeCash, TypeBankTransfer, TypeCardTerminal:
	default:
		return ErrUnknownType
	}
	if line.Amount <= 0 {
		return ErrInvalidAmount
	}
	if line.Type == TypeCash && l.hasCash() {
		return ErrDuplicateCash
	}
	l.lines = append(l.lines, line)
	return nil
}

// Remove deletes the tender line at index.
func (l *Ledger) Remove(index int) error {
	if index < 0 || index >= len(l.lines) {
		return ErrIndexOutOfRange
	}
	l.lines = append(l.lines[:index], l.lines[index+1:]...)
	return nil
}

// Lines returns a copy of the accumulated tender lines.
func (l *Ledger) Lines() []Line {
	out := make([]Line, len(l.lines))
	copy(out, l.lines)
	return out
}

// Paid sums the tender amounts. Commission is excluded: it is charged to the
// funding source, not credited against the total.
func (l *Ledger) Paid() Money {
	var paid Money
	for _, line := range l.lines {
		paid += line.Amount
	}
	return paid
}

// Totals reconciles the accumulated tenders against the transaction total.
func (l *Ledger) Totals(total Money) Totals {
	paid := l.Paid()
	t := Totals{Total: total, Paid: paid}
	if paid > total {
		t.Change = paid - total
	} else {
		t.Pending = total - paid
	}
	return t
}

// Shortfall returns the amount still owed, the value an operator asks for
// when prefilling the next tender to settle the balance.
func (l *Ledger) Shortfall(total Money) Money {
	return l.Totals(total).Pending
}

func (l *Ledger) hasCash() bool {
	for _, line := range l.lines {
		if line.Type == TypeCash {
			return true
		}
	}
	return false
}
