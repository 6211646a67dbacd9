// Package sale assembles in-progress transactions: line items fed by the
// scan queue, tenders reconciled by the ledger, and one atomic submission to
// the backbone at the end.
package sale

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/backbone"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/lineitem"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/scan"
	"github.com/noah-isme/backend-kasir/internal/session"
	"github.com/noah-isme/backend-kasir/internal/tender"
)

// Backbone is the slice of the remote service the sale flow needs.
type Backbone interface {
	SearchItems(ctx context.Context, locationID, query string) ([]backbone.Item, error)
	SubmitTransaction(ctx context.Context, payload backbone.SubmitPayload) (backbone.TransactionRecord, error)
}

// Config wires the service dependencies.
type Config struct {
	Backbone      Backbone
	Tiers         backbone.TierSource
	Sources       backbone.FundSourceLister
	Guard         session.Loader
	Locker        lock.Locker
	Bus           *events.Bus
	Logger        zerolog.Logger
	LookupTimeout time.Duration
	SubmitTimeout time.Duration
	LockTTL       time.Duration
}

// Service owns every in-progress transaction of this register instance.
// Transactions live only in memory until submission; a crash loses them,
// which matches the paper reality of an abandoned sale.
type Service struct {
	cfg     Config
	baseCtx context.Context

	mu  sync.Mutex
	txs map[string]*transaction
}

// NewService constructs the registry. Scanner drain loops are children of
// ctx and stop when it ends.
func NewService(ctx context.Context, cfg Config) *Service {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Service{cfg: cfg, baseCtx: ctx, txs: make(map[string]*transaction)}
}

type transaction struct {
	id         string
	sessionID  string
	locationID string
	actorID    string
	createdAt  time.Time

	mu      sync.Mutex
	items   *lineitem.List
	ledger  *tender.Ledger
	notices []scan.Notice

	scanner *scan.Processor
	lease   *lock.Lease
}

// View is a read snapshot of a transaction, totals included. Notices are
// consumed on read: each scan outcome is reported to the operator once.
type View struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"sessionId"`
	LocationID string          `json:"locationId"`
	CreatedAt  time.Time       `json:"createdAt"`
	Lines      []lineitem.Line `json:"lines"`
	Tenders    []tender.Line   `json:"tenders"`
	Totals     tender.Totals   `json:"totals"`
	QueueDepth int             `json:"queueDepth"`
	Notices    []scan.Notice   `json:"notices"`
}

// Open starts a transaction for the actor's open session. At most one
// transaction may be in flight per session; the Redis lock enforces that
// across register instances.
func (s *Service) Open(ctx context.Context, actor common.Actor, locationID string) (View, error) {
	projection, err := s.cfg.Guard.Load(ctx, actor, locationID)
	if err != nil {
		return View{}, err
	}
	if result := session.Evaluate(actor, session.ActionTransact, projection); !result.Allowed {
		return View{}, guardBlocked(result)
	}
	own := ownSession(actor, projection)
	if own == nil {
		return View{}, common.NewAppError(session.ReasonNoActiveSession, "no active session for this actor", http.StatusConflict, nil)
	}

	lease, err := s.cfg.Locker.TryAcquire(ctx, lock.SessionTxKey(own.ID), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyHeld) {
			return View{}, common.NewAppError("TRANSACTION_IN_PROGRESS", "a transaction is already in progress for this session", http.StatusConflict, nil)
		}
		return View{}, err
	}

	tx := &transaction{
		id:         uuid.NewString(),
		sessionID:  own.ID,
		locationID: own.LocationID,
		actorID:    actor.ID,
		createdAt:  time.Now().UTC(),
		items:      lineitem.New(),
		ledger:     &tender.Ledger{},
		lease:      lease,
	}
	tx.scanner = scan.New(s.baseCtx, scan.Config{
		Lookup:     s.cfg.Backbone,
		LocationID: own.LocationID,
		Apply:      tx.applyScan,
		Notify: func(n scan.Notice) {
			tx.addNotice(n)
			if n.Kind == scan.NoticeNotFound {
				s.emit(s.baseCtx, events.TopicScanRejected, tx.id, n)
			}
		},
		LookupTimeout: s.cfg.LookupTimeout,
		Logger:        s.cfg.Logger.With().Str("tx_id", tx.id).Logger(),
	})

	s.mu.Lock()
	s.txs[tx.id] = tx
	s.mu.Unlock()

	if obs.TransactionsInFlight != nil {
		obs.TransactionsInFlight.Inc()
	}
	s.emit(ctx, events.TopicTransactionOpened, tx.id, map[string]string{
		"transactionId": tx.id,
		"sessionId":     tx.sessionID,
	})
	return tx.view(), nil
}

// Get returns the transaction snapshot, consuming pending notices.
func (s *Service) Get(_ context.Context, actor common.Actor, txID string) (View, error) {
	tx, err := s.lookup(actor, txID)
	if err != nil {
		return View{}, err
	}
	return tx.view(), nil
}

// Scan enqueues a raw token for resolution. It returns immediately; the
// drain loop applies results in arrival order.
func (s *Service) Scan(_ context.Context, actor common.Actor, txID, token string) error {
	tx, err := s.lookup(actor, txID)
	if err != nil {
		return err
	}
	tx.scanner.Enqueue(token)
	return nil
}

// SetQuantity edits a line's quantity.
func (s *Service) SetQuantity(_ context.Context, actor common.Actor, txID string, index, quantity int) (View, error) {
	tx, err := s.lookup(actor, txID)
	if err != nil {
		return View{}, err
	}
	tx.mu.Lock()
	err = tx.items.SetQuantity(index, quantity)
	tx.mu.Unlock()
	if err != nil {
		return View{}, domainError(err)
	}
	return tx.view(), nil
}

// SetItem fills a slot by hand: when a barcode will not read, the operator
// keys the item code instead. The item is resolved through the same catalog
// search and match rule the scan path uses.
func (s *Service) SetItem(ctx context.Context, actor common.Actor, txID string, index int, code string) (View, error) {
	tx, err := s.lookup(actor, txID)
	if err != nil {
		return View{}, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout())
	defer cancel()
	results, err := s.cfg.Backbone.SearchItems(lookupCtx, tx.locationID, code)
	if err != nil {
		return View{}, err
	}
	match, ok := scan.Match(code, results)
	if !ok {
		return View{}, common.NewAppError("ITEM_NOT_FOUND", "no sellable item matches code "+code, http.StatusNotFound, nil)
	}

	tx.mu.Lock()
	err = tx.items.SetItem(index, match.ToLineItem())
	tx.mu.Unlock()
	if err != nil {
		return View{}, domainError(err)
	}
	return tx.view(), nil
}

// RemoveItem deletes a line.
func (s *Service) RemoveItem(_ context.Context, actor common.Actor, txID string, index int) (View, error) {
	tx, err := s.lookup(actor, txID)
	if err != nil {
		return View{}, err
	}
	tx.mu.Lock()
	err = tx.items.Remove(index)
	tx.mu.Unlock()
	if err != nil {
		return View{}, domainError(err)
	}
	return tx.view(), nil
}

// TenderRequest describes a tender to add. FillPending asks the service to
// use the outstanding balance as the amount, the shortcut operators use to
// settle a sale in one keystroke. An empty SourceID on a bank transfer
// resolves the location's default account.
type TenderRequest struct {
	Type        tender.Type `json:"type" validate:"required"`
	Amount      int64       `json:"amount"`
	SourceID    string      `json:"sourceId"`
	FillPending bool        `json:"fillPending"`
}

// AddTender validates and appends a tender line. Bank transfers resolve the
// account's commission schedule before entering the ledger.
func (s *Service) AddTender(ctx context.Context, actor common.Actor, txID string, req TenderRequest) (View, error) {
	tx, err := s.lookup(actor, txID)
	if err != nil {
		return View{}, err
	}

	tx.mu.Lock()
	amount := req.Amount
	if req.FillPending {
		amount = tx.ledger.Shortfall(tx.items.Total())
	}
	tx.mu.Unlock()

	var line tender.Line
	switch req.Type {
	case tender.TypeCash:
		if req.SourceID == "" {
			return View{}, common.ValidationError("MISSING_SOURCE", "sourceId is required for cash tenders")
		}
		line = tender.Cash(amount, req.SourceID)
	case tender.TypeBankTransfer:
		sourceID := req.SourceID
		if sourceID == "" {
			sourceID, err = s.defaultTransferSource(ctx, tx.locationID)
			if err != nil {
				return View{}, err
			}
		}
		tiers, err := s.cfg.Tiers.CommissionTiers(ctx, sourceID)
		if err != nil {
			return View{}, err
		}
		line = tender.BankTransfer(amount, sourceID, tiers)
	case tender.TypeCardTerminal:
		if req.SourceID == "" {
			return View{}, common.ValidationError("MISSING_SOURCE", "sourceId is required for terminal tenders")
		}
		line = tender.CardTerminal(amount, req.SourceID)
	default:
		return View{}, domainError(tender.ErrUnknownType)
	}

	tx.mu.Lock()
	err = tx.ledger.Add(line)
	tx.mu.Unlock()
	if err != nil {
		return View{}, domainError(err)
	}
	s.emit(ctx, events.TopicTenderRecorded, tx.id, line)
	return tx.view(), nil
}

// defaultTransferSource picks the location's default bank account, the one
// operators have preselected when they key a transfer without choosing an
// account. Falls back to the first account when none is marked default.
func (s *Service) defaultTransferSource(ctx context.Context, locationID string) (string, error) {
	if s.cfg.Sources == nil {
		return "", common.ValidationError("MISSING_SOURCE", "sourceId is required for transfer tenders")
	}
	sources, err := s.cfg.Sources.FundSources(ctx, locationID)
	if err != nil {
		return "", err
	}
	var fallback string
	for _, src := range sources {
		if src.Kind != backbone.FundSourceAccount {
			continue
		}
		if src.IsDefault {
			return src.ID, nil
		}
		if fallback == "" {
			fallback = src.ID
		}
	}
	if fallback == "" {
		return "", common.ValidationError("MISSING_SOURCE", "no bank account is configured for this location")
	}
	return fallback, nil
}

// RemoveTender deletes the tender line at index.
func (s *Service) RemoveTender(_ context.Context, actor common.Actor, txID string, index int) (View, error) {
	tx, err := s.lookup(actor, txID)
	if err != nil {
		return View{}, err
	}
	tx.mu.Lock()
	err = tx.ledger.Remove(index)
	tx.mu.Unlock()
	if err != nil {
		return View{}, domainError(err)
	}
	return tx.view(), nil
}

// Submit sends the assembled transaction to the backbone as one atomic
// request. On failure the transaction is preserved so the operator retries
// without re-entering anything.
func (s *Service) Submit(ctx context.Context, actor common.Actor, txID string) (backbone.TransactionRecord, error) {
	tx, err := s.lookup(actor, txID)
	if err != nil {
		return backbone.TransactionRecord{}, err
	}

	// Let in-flight scans settle so the submitted list is what the
	// operator saw.
	waitCtx, cancel := context.WithTimeout(ctx, s.submitTimeout())
	defer cancel()
	if err := tx.scanner.Wait(waitCtx); err != nil {
		return backbone.TransactionRecord{}, common.NewAppError("SCANS_PENDING", "scan queue did not settle before submission", http.StatusConflict, err)
	}

	projection, err := s.cfg.Guard.Load(ctx, actor, tx.locationID)
	if err != nil {
		return backbone.TransactionRecord{}, err
	}
	if result := session.Evaluate(actor, session.ActionTransact, projection); !result.Allowed {
		return backbone.TransactionRecord{}, guardBlocked(result)
	}

	tx.mu.Lock()
	lines := tx.items.Filled()
	totals := tx.ledger.Totals(tx.items.Total())
	tenders := tx.ledger.Lines()
	tx.mu.Unlock()

	if len(lines) == 0 {
		return backbone.TransactionRecord{}, common.ValidationError("EMPTY_TRANSACTION", "transaction has no line items")
	}
	if !totals.Payable() {
		return backbone.TransactionRecord{}, common.NewAppError("PENDING_BALANCE", "tenders do not cover the transaction total", http.StatusUnprocessableEntity, nil)
	}

	payload := backbone.BuildSubmitPayload(tx.sessionID, tx.locationID, lines, tenders)
	submitCtx, cancelSubmit := context.WithTimeout(ctx, s.submitTimeout())
	defer cancelSubmit()
	record, err := s.cfg.Backbone.SubmitTransaction(submitCtx, payload)
	if err != nil {
		s.recordSubmission(err)
		s.cfg.Logger.Warn().Err(err).Str("tx_id", tx.id).Msg("submission failed, transaction preserved")
		return backbone.TransactionRecord{}, err
	}
	s.recordSubmission(nil)

	s.destroy(tx)
	s.emit(ctx, events.TopicTransactionSubmitted, tx.id, record)
	return record, nil
}

// Cancel abandons the transaction, discarding queued tokens mid-drain.
func (s *Service) Cancel(ctx context.Context, actor common.Actor, txID string) error {
	tx, err := s.lookup(actor, txID)
	if err != nil {
		return err
	}
	s.destroy(tx)
	s.emit(ctx, events.TopicTransactionCanceled, tx.id, map[string]string{"transactionId": tx.id})
	return nil
}

func (s *Service) lookup(actor common.Actor, txID string) (*transaction, error) {
	s.mu.Lock()
	tx, ok := s.txs[txID]
	s.mu.Unlock()
	if !ok {
		return nil, common.NewAppError("TRANSACTION_NOT_FOUND", "transaction not found", http.StatusNotFound, nil)
	}
	if tx.actorID != actor.ID {
		return nil, common.NewAppError("FORBIDDEN", "transaction belongs to another actor", http.StatusForbidden, nil)
	}
	return tx, nil
}

func (s *Service) destroy(tx *transaction) {
	tx.scanner.Close()
	tx.lease.Release(context.Background())
	s.mu.Lock()
	delete(s.txs, tx.id)
	s.mu.Unlock()
	if obs.TransactionsInFlight != nil {
		obs.TransactionsInFlight.Dec()
	}
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.cfg.Bus == nil {
		return
	}
	if _, err := s.cfg.Bus.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.cfg.Logger.Warn().Err(err).Str("topic", topic).Msg("emit event")
	}
}

func (s *Service) submitTimeout() time.Duration {
	if s.cfg.SubmitTimeout > 0 {
		return s.cfg.SubmitTimeout
	}
	return 15 * time.Second
}

func (s *Service) lookupTimeout() time.Duration {
	if s.cfg.LookupTimeout > 0 {
		return s.cfg.LookupTimeout
	}
	return 5 * time.Second
}

func (s *Service) recordSubmission(err error) {
	if obs.SaleSubmissionsTotal == nil {
		return
	}
	switch {
	case err == nil:
		obs.SaleSubmissionsTotal.WithLabelValues("ok").Inc()
	default:
		var remote *backbone.RemoteError
		if errors.As(err, &remote) {
			obs.SaleSubmissionsTotal.WithLabelValues("rejected").Inc()
			return
		}
		obs.SaleSubmissionsTotal.WithLabelValues("error").Inc()
	}
}

func (tx *transaction) applyScan(_ context.Context, item lineitem.Item) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	_, err := tx.items.Merge(item)
	return err
}

func (tx *transaction) addNotice(n scan.Notice) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.notices = append(tx.notices, n)
}

func (tx *transaction) view() View {
	depth := tx.scanner.QueueDepth()
	tx.mu.Lock()
	defer tx.mu.Unlock()
	notices := tx.notices
	tx.notices = nil
	if notices == nil {
		notices = []scan.Notice{}
	}
	return View{
		ID:         tx.id,
		SessionID:  tx.sessionID,
		LocationID: tx.locationID,
		CreatedAt:  tx.createdAt,
		Lines:      tx.items.Lines(),
		Tenders:    tx.ledger.Lines(),
		Totals:     tx.ledger.Totals(tx.items.Total()),
		QueueDepth: depth,
		Notices:    notices,
	}
}

func ownSession(actor common.Actor, p session.Projection) *backbone.Session {
	if actor.Privileged {
		for i := range p.OpenAtLocation {
			if p.OpenAtLocation[i].IsOpen && p.OpenAtLocation[i].OwnerActorID == actor.ID {
				return &p.OpenAtLocation[i]
			}
		}
		return nil
	}
	return p.Own
}

func guardBlocked(result session.Result) *common.AppError {
	appErr := common.NewAppError(result.Reason, "session guard blocked the transaction", http.StatusConflict, nil)
	if result.BlockedBy != nil {
		appErr.Details = result.BlockedBy
	}
	return appErr
}

func domainError(err error) error {
	switch {
	case errors.Is(err, tender.ErrDuplicateCash):
		return common.ValidationError("DUPLICATE_CASH_TENDER", "only one cash tender is allowed per transaction")
	case errors.Is(err, tender.ErrInvalidAmount):
		return common.ValidationError("INVALID_AMOUNT", "tender amount must be a positive whole amount")
	case errors.Is(err, tender.ErrUnknownType):
		return common.ValidationError("INVALID_TENDER_TYPE", "tender type must be cash, bank_transfer, or card_terminal")
	case errors.Is(err, lineitem.ErrQuantityExceedsStock):
		return common.ValidationError("QUANTITY_EXCEEDS_STOCK", "quantity exceeds available stock")
	case errors.Is(err, lineitem.ErrInvalidQuantity):
		return common.ValidationError("INVALID_QUANTITY", "quantity must be positive")
	case errors.Is(err, lineitem.ErrOutOfStock):
		return common.ValidationError("OUT_OF_STOCK", "item has no available stock")
	case errors.Is(err, lineitem.ErrEmptySlot):
		return common.ValidationError("EMPTY_SLOT", "slot has no item to edit")
	case errors.Is(err, lineitem.ErrIndexOutOfRange), errors.Is(err, tender.ErrIndexOutOfRange):
		return common.NewAppError("INDEX_OUT_OF_RANGE", "no entry at that position", http.StatusNotFound, err)
	default:
		return err
	}
}
