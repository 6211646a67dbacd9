package sale_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/backbone"
	"github.com/noah-isme/backend-kasir/internal/commission"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/sale"
	"github.com/noah-isme/backend-kasir/internal/session"
	"github.com/noah-isme/backend-kasir/internal/tender"
)

var testActor = common.Actor{ID: "a1", Name: "Ana", LocationID: "loc-1"}

func newFixture(t *testing.T) (*sale.Service, *backbone.Mock) {
	return newFixtureWithBus(t, nil)
}

func newFixtureWithBus(t *testing.T, bus *events.Bus) (*sale.Service, *backbone.Mock) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mock := &backbone.Mock{
		ActorID: testActor.ID,
		Items: []backbone.Item{
			{ID: "p1", Code: "SODA", Name: "Soda", Price: 150, AvailableStock: 10},
			{ID: "p2", Code: "CHIPS", Name: "Chips", Price: 200, AvailableStock: 4},
		},
		Sessions: []backbone.Session{{
			ID:           "ses-1",
			LocationID:   "loc-1",
			LocationName: "Sucursal Centro",
			OwnerActorID: testActor.ID,
			OwnerName:    testActor.Name,
			IsOpen:       true,
		}},
		Tiers: map[string][]commission.Tier{
			"acct-1": {{Threshold: 100, Fee: 5}, {Threshold: 500, Fee: 12}},
		},
		Sources: map[string][]backbone.FundSource{
			"loc-1": {
				{ID: "drawer-1", Name: "Caja", Kind: backbone.FundSourceDrawer, IsDefault: true},
				{ID: "acct-2", Name: "Cuenta secundaria", Kind: backbone.FundSourceAccount},
				{ID: "acct-1", Name: "Cuenta principal", Kind: backbone.FundSourceAccount, IsDefault: true},
			},
		},
	}

	svc := sale.NewService(context.Background(), sale.Config{
		Backbone:      mock,
		Tiers:         mock,
		Sources:       mock,
		Guard:         session.Loader{Source: mock},
		Locker:        lock.Locker{R: rdb, RetryBackoff: 5 * time.Millisecond},
		Bus:           bus,
		Logger:        zerolog.Nop(),
		LookupTimeout: time.Second,
		SubmitTimeout: 2 * time.Second,
		LockTTL:       time.Minute,
	})
	return svc, mock
}

func waitSettled(t *testing.T, svc *sale.Service, txID string) sale.View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		view, err := svc.Get(context.Background(), testActor, txID)
		require.NoError(t, err)
		if view.QueueDepth == 0 {
			// One more read to let the final apply land.
			time.Sleep(10 * time.Millisecond)
			final, err := svc.Get(context.Background(), testActor, txID)
			require.NoError(t, err)
			return final
		}
		if time.Now().After(deadline) {
			t.Fatalf("scan queue never settled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOpenRequiresSession(t *testing.T) {
	svc, mock := newFixture(t)
	mock.Sessions = nil

	_, err := svc.Open(context.Background(), testActor, "")
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, session.ReasonNoActiveSession, appErr.Code)
}

func TestOpenEnforcesOneTransactionPerSession(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	view, err := svc.Open(ctx, testActor, "")
	require.NoError(t, err)

	_, err = svc.Open(ctx, testActor, "")
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "TRANSACTION_IN_PROGRESS", appErr.Code)

	// Cancelling frees the session for a new transaction.
	require.NoError(t, svc.Cancel(ctx, testActor, view.ID))
	_, err = svc.Open(ctx, testActor, "")
	require.NoError(t, err)
}

func TestScanFlowBuildsLineItems(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	view, err := svc.Open(ctx, testActor, "")
	require.NoError(t, err)

	require.NoError(t, svc.Scan(ctx, testActor, view.ID, "SODA"))
	require.NoError(t, svc.Scan(ctx, testActor, view.ID, "NOPE"))
	require.NoError(t, svc.Scan(ctx, testActor, view.ID, "CHIPS"))

	settled := waitSettled(t, svc, view.ID)
	require.Len(t, settled.Lines, 3, "two items plus the trailing empty slot")
	require.Equal(t, "SODA", settled.Lines[0].Item.Code)
	require.Equal(t, "CHIPS", settled.Lines[1].Item.Code)
	require.True(t, settled.Lines[2].Empty)
	require.Equal(t, int64(350), settled.Totals.Total)
}

func TestSubmitBlockedWhilePending(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	view, err := svc.Open(ctx, testActor, "")
	require.NoError(t, err)
	require.NoError(t, svc.Scan(ctx, testActor, view.ID, "SODA"))
	waitSettled(t, svc, view.ID)

	_, err = svc.Submit(ctx, testActor, view.ID)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "PENDING_BALANCE", appErr.Code)
}

func TestSubmitFailurePreservesTransaction(t *testing.T) {
	svc, mock := newFixture(t)
	ctx := context.Background()

	view, err := svc.Open(ctx, testActor, "")
	require.NoError(t, err)
	require.NoError(t, svc.Scan(ctx, testActor, view.ID, "SODA"))
	waitSettled(t, svc, view.ID)

	_, err = svc.AddTender(ctx, testActor, view.ID, sale.TenderRequest{
		Type: tender.TypeCash, SourceID: "drawer-1", FillPending: true,
	})
	require.NoError(t, err)

	mock.SubmitErr = &backbone.RemoteError{StatusCode: 502, Code: "UPSTREAM", Message: "ledger unavailable"}
	_, err = svc.Submit(ctx, testActor, view.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ledger unavailable")

	// The transaction survives the failure; a retry succeeds untouched.
	mock.SubmitErr = nil
	record, err := svc.Submit(ctx, testActor, view.ID)
	require.NoError(t, err)
	require.Equal(t, int64(150), record.Total)

	// And the registry slot is gone after success.
	_, err = svc.Get(ctx, testActor, view.ID)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "TRANSACTION_NOT_FOUND", appErr.Code)
}

func TestTendersReconcileAndCarryCommission(t *testing.T) {
	svc, mock := newFixture(t)
	ctx := context.Background()

	view, err := svc.Open(ctx, testActor, "")
	require.NoError(t, err)
	require.NoError(t, svc.Scan(ctx, testActor, view.ID, "CHIPS"))
	waitSettled(t, svc, view.ID)

	// 200 total: 150 by transfer (fee 5 from the 100 tier), 50 cash.
	after, err := svc.AddTender(ctx, testActor, view.ID, sale.TenderRequest{
		Type: tender.TypeBankTransfer, Amount: 150, SourceID: "acct-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), after.Tenders[0].Commission)
	require.Equal(t, int64(50), after.Totals.Pending)
	require.Equal(t, int64(0), after.Totals.Change)

	after, err = svc.AddTender(ctx, testActor, view.ID, sale.TenderRequest{
		Type: tender.TypeCash, SourceID: "drawer-1", FillPending: true,
	})
	require.NoError(t, err)
	require.True(t, after.Totals.Payable())

	_, err = svc.AddTender(ctx, testActor, view.ID, sale.TenderRequest{
		Type: tender.TypeCash, Amount: 10, SourceID: "drawer-1",
	})
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "DUPLICATE_CASH_TENDER", appErr.Code)

	record, err := svc.Submit(ctx, testActor, view.ID)
	require.NoError(t, err)
	require.Equal(t, int64(200), record.Total)

	require.Len(t, mock.Submitted, 1)
	payload := mock.Submitted[0]
	require.NotNil(t, payload.CashTender)
	require.Equal(t, int64(50), payload.CashTender.Amount)
	require.Len(t, payload.TransferTenders, 1)
	require.Equal(t, int64(5), payload.TransferTenders[0].Commission)
	require.Equal(t, "ses-1", payload.SessionID)
}

func TestTransferTenderDefaultsToDefaultAccount(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	view, err := svc.Open(ctx, testActor, "")
	require.NoError(t, err)
	require.NoError(t, svc.Scan(ctx, testActor, view.ID, "CHIPS"))
	waitSettled(t, svc, view.ID)

	// No sourceId: the default bank account is resolved, and the commission
	// schedule comes from that account.
	after, err := svc.AddTender(ctx, testActor, view.ID, sale.TenderRequest{
		Type: tender.TypeBankTransfer, Amount: 150,
	})
	require.NoError(t, err)
	require.Equal(t, "acct-1", after.Tenders[0].SourceID)
	require.Equal(t, int64(5), after.Tenders[0].Commission)

	// Cash has no default; the drawer must be named.
	_, err = svc.AddTender(ctx, testActor, view.ID, sale.TenderRequest{
		Type: tender.TypeCash, Amount: 50,
	})
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "MISSING_SOURCE", appErr.Code)
}

func TestSetItemFillsSlotByCode(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	view, err := svc.Open(ctx, testActor, "")
	require.NoError(t, err)

	// Keying a lowercase code fills the empty slot with the exact match.
	after, err := svc.SetItem(ctx, testActor, view.ID, 0, "soda")
	require.NoError(t, err)
	require.Len(t, after.Lines, 2, "filled slot plus the trailing empty one")
	require.Equal(t, "SODA", after.Lines[0].Item.Code)
	require.Equal(t, 1, after.Lines[0].Quantity)
	require.Equal(t, int64(150), after.Totals.Total)

	// Replacing a filled slot swaps the item.
	after, err = svc.SetItem(ctx, testActor, view.ID, 0, "CHIPS")
	require.NoError(t, err)
	require.Equal(t, "CHIPS", after.Lines[0].Item.Code)

	_, err = svc.SetItem(ctx, testActor, view.ID, 0, "NOPE")
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "ITEM_NOT_FOUND", appErr.Code)

	_, err = svc.SetItem(ctx, testActor, view.ID, 9, "SODA")
	appErr, ok = common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "INDEX_OUT_OF_RANGE", appErr.Code)
}

func TestScanRejectionEmitsEvent(t *testing.T) {
	var mu sync.Mutex
	var seen []events.Event
	bus := &events.Bus{Notifiers: []events.Notifier{
		events.NotifierFunc(func(_ context.Context, ev events.Event) error {
			mu.Lock()
			seen = append(seen, ev)
			mu.Unlock()
			return nil
		}),
	}}
	svc, _ := newFixtureWithBus(t, bus)
	ctx := context.Background()

	view, err := svc.Open(ctx, testActor, "")
	require.NoError(t, err)
	require.NoError(t, svc.Scan(ctx, testActor, view.ID, "NOPE"))
	waitSettled(t, svc, view.ID)

	mu.Lock()
	defer mu.Unlock()
	var rejected []events.Event
	for _, ev := range seen {
		if ev.Topic == events.TopicScanRejected {
			rejected = append(rejected, ev)
		}
	}
	require.Len(t, rejected, 1)
	require.Equal(t, view.ID, rejected[0].AggregateID)
	require.Contains(t, string(rejected[0].Payload), "NOPE")
}

func TestQuantityEditsRespectStock(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	view, err := svc.Open(ctx, testActor, "")
	require.NoError(t, err)
	require.NoError(t, svc.Scan(ctx, testActor, view.ID, "CHIPS"))
	waitSettled(t, svc, view.ID)

	after, err := svc.SetQuantity(ctx, testActor, view.ID, 0, 4)
	require.NoError(t, err)
	require.Equal(t, int64(800), after.Totals.Total)

	_, err = svc.SetQuantity(ctx, testActor, view.ID, 0, 5)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "QUANTITY_EXCEEDS_STOCK", appErr.Code)
}

func TestForeignActorCannotTouchTransaction(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	view, err := svc.Open(ctx, testActor, "")
	require.NoError(t, err)

	intruder := common.Actor{ID: "a2", LocationID: "loc-1"}
	_, err = svc.Get(ctx, intruder, view.ID)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "FORBIDDEN", appErr.Code)
}
