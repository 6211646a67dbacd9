package backbone

import (
	"fmt"
	"time"

	"github.com/noah-isme/backend-kasir/internal/lineitem"
	"github.com/noah-isme/backend-kasir/internal/tender"
)

// Item is a catalog entry as returned by the backbone search endpoint.
type Item struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	Price          int64  `json:"price"`
	AvailableStock int    `json:"availableStock"`
	IsService      bool   `json:"isService"`
}

// ToLineItem converts the wire representation into the register's line type.
func (i Item) ToLineItem() lineitem.Item {
	return lineitem.Item{
		ID:             i.ID,
		Code:           i.Code,
		Name:           i.Name,
		UnitPrice:      i.Price,
		AvailableStock: i.AvailableStock,
		IsService:      i.IsService,
	}
}

// Session is the backbone's view of a drawer session.
type Session struct {
	ID           string    `json:"id"`
	LocationID   string    `json:"locationId"`
	LocationName string    `json:"locationName"`
	OwnerActorID string    `json:"ownerActorId"`
	OwnerName    string    `json:"ownerName"`
	IsOpen       bool      `json:"isOpen"`
	OpenedAt     time.Time `json:"openedAt"`
}

// FundSource is a drawer, bank account, or card terminal tenders settle
// against.
type FundSource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	IsDefault bool   `json:"isDefault"`
}

// Fund source kinds as reported by the backbone.
const (
	FundSourceDrawer   = "drawer"
	FundSourceAccount  = "bank_account"
	FundSourceTerminal = "card_terminal"
)

// TenderPayload is one tender line in a submission request. Commission is the
// fee debited from the funding source on top of the amount.
type TenderPayload struct {
	SourceID   string `json:"sourceId"`
	Amount     int64  `json:"amount"`
	Commission int64  `json:"commission,omitempty"`
}

// SubmitLine is one sold line in a submission request.
type SubmitLine struct {
	ItemID    string `json:"itemId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	IsService bool   `json:"isService"`
}

// SubmitPayload is the atomic submission request. The register never splits a
// transaction across requests; the backbone commits or rejects it whole.
type SubmitPayload struct {
	SessionID       string          `json:"sessionId"`
	LocationID      string          `json:"locationId"`
	LineItems       []SubmitLine    `json:"lineItems"`
	CashTender      *TenderPayload  `json:"cashTender,omitempty"`
	TransferTenders []TenderPayload `json:"transferTenders"`
	TerminalTenders []TenderPayload `json:"terminalTenders"`
}

// BuildSubmitPayload shapes the in-progress transaction for the backbone.
func BuildSubmitPayload(sessionID, locationID string, lines []lineitem.Line, tenders []tender.Line) SubmitPayload {
	payload := SubmitPayload{
		SessionID:       sessionID,
		LocationID:      locationID,
		LineItems:       make([]SubmitLine, 0, len(lines)),
		TransferTenders: []TenderPayload{},
		TerminalTenders: []TenderPayload{},
	}
	for _, line := range lines {
		if line.Empty {
			continue
		}
		payload.LineItems = append(payload.LineItems, SubmitLine{
			ItemID:    line.Item.ID,
			Quantity:  line.Quantity,
			UnitPrice: line.Item.UnitPrice,
			IsService: line.Item.IsService,
		})
	}
	for _, tl := range tenders {
		entry := TenderPayload{SourceID: tl.SourceID, Amount: tl.Amount, Commission: tl.Commission}
		switch tl.Type {
		case tender.TypeCash:
			cash := entry
			payload.CashTender = &cash
		case tender.TypeBankTransfer:
			payload.TransferTenders = append(payload.TransferTenders, entry)
		case tender.TypeCardTerminal:
			payload.TerminalTenders = append(payload.TerminalTenders, entry)
		}
	}
	return payload
}

// TransactionRecord is the backbone's acknowledgement of a committed
// transaction.
type TransactionRecord struct {
	ID        string    `json:"id"`
	Folio     string    `json:"folio"`
	Total     int64     `json:"total"`
	CreatedAt time.Time `json:"createdAt"`
}

// RemoteError carries the backbone's rejection through to the operator. The
// message is surfaced verbatim when the backbone provides one.
type RemoteError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backbone: request failed with status %d", e.StatusCode)
}
