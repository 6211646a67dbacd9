// Package scan serializes asynchronous barcode lookups into a strict FIFO
// application order. Tokens arrive faster than the catalog can answer; the
// queue, not the network, decides the order line items land in.
package scan

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/backbone"
	"github.com/noah-isme/backend-kasir/internal/lineitem"
	"github.com/noah-isme/backend-kasir/internal/obs"
)

// Lookup resolves a scan token against the catalog.
type Lookup interface {
	SearchItems(ctx context.Context, locationID, query string) ([]backbone.Item, error)
}

// Notice is a non-fatal, operator-facing outcome of a token resolution.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Token   string     `json:"token"`
	Message string     `json:"message"`
}

// NoticeKind classifies a scan notice.
type NoticeKind string

const (
	// NoticeNotFound means the token matched nothing sellable.
	NoticeNotFound NoticeKind = "not_found"
	// NoticeLookupFailed means the catalog call itself failed.
	NoticeLookupFailed NoticeKind = "lookup_failed"
	// NoticeApplyFailed means the resolved item could not join the line list.
	NoticeApplyFailed NoticeKind = "apply_failed"
)

// Processor owns the scan queue of one in-progress transaction. Enqueue and
// Close are its only external mutators; a single drain goroutine consumes the
// queue. A second drain never starts while one is running, and tokens that
// arrive mid-drain are picked up by the running loop.
type Processor struct {
	lookup     Lookup
	locationID string
	apply      func(ctx context.Context, item lineitem.Item) error
	notify     func(Notice)
	timeout    time.Duration
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    []string
	draining bool
	idle     chan struct{}
}

// Config wires a Processor to its transaction.
type Config struct {
	Lookup     Lookup
	LocationID string
	// Apply merges a resolved item into the transaction's line list. It is
	// invoked from the drain goroutine, one token at a time.
	Apply func(ctx context.Context, item lineitem.Item) error
	// Notify receives non-fatal per-token outcomes. Optional.
	Notify func(Notice)
	// LookupTimeout bounds each catalog call.
	LookupTimeout time.Duration
	Logger        zerolog.Logger
}

// New builds a Processor whose drain loop lives until Close or the parent
// context ends.
func New(parent context.Context, cfg Config) *Processor {
	ctx, cancel := context.WithCancel(parent)
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	notify := cfg.Notify
	if notify == nil {
		notify = func(Notice) {}
	}
	return &Processor{
		lookup:     cfg.Lookup,
		locationID: cfg.LocationID,
		apply:      cfg.Apply,
		notify:     notify,
		timeout:    timeout,
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
		idle:       make(chan struct{}),
	}
}

// Enqueue appends a token and starts the drain loop if it is not running.
// Tokens enqueued after Close are dropped.
func (p *Processor) Enqueue(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return
	}
	p.queue = append(p.queue, token)
	p.recordDepthLocked()
	if !p.draining {
		p.draining = true
		p.idle = make(chan struct{})
		go p.drain()
	}
}

// QueueDepth returns the number of tokens still waiting.
func (p *Processor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close discards queued tokens and stops the drain loop mid-queue.
func (p *Processor) Close() {
	p.cancel()
	p.mu.Lock()
	p.queue = nil
	p.recordDepthLocked()
	p.mu.Unlock()
}

// Wait blocks until the drain loop goes idle or ctx ends. Test helper and
// submit-path barrier: submission waits for in-flight scans to settle.
func (p *Processor) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	draining := p.draining
	p.mu.Unlock()
	if !draining {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain consumes the queue until it observes it empty at the top of an
// iteration. Appends during a token's resolution are seen on the next
// iteration, so no wake-up is ever lost.
func (p *Processor) drain() {
	for {
		p.mu.Lock()
		if p.ctx.Err() != nil || len(p.queue) == 0 {
			p.draining = false
			close(p.idle)
			p.mu.Unlock()
			return
		}
		token := p.queue[0]
		p.queue = p.queue[1:]
		p.recordDepthLocked()
		p.mu.Unlock()

		p.resolve(token)
	}
}

// resolve handles a single token. Every failure path is absorbed here so one
// bad scan never stalls the tokens behind it.
func (p *Processor) resolve(token string) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	start := time.Now()
	items, err := p.lookup.SearchItems(ctx, p.locationID, token)
	if obs.ScanLookupLatency != nil {
		obs.ScanLookupLatency.Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.logger.Warn().Err(err).Str("token", token).Msg("scan lookup failed")
		p.recordOutcome("error")
		p.notify(Notice{Kind: NoticeLookupFailed, Token: token, Message: "item lookup failed, please retry the scan"})
		return
	}

	match, ok := Match(token, items)
	if !ok {
		p.recordOutcome("not_found")
		p.notify(Notice{Kind: NoticeNotFound, Token: token, Message: "no item matches code " + token})
		return
	}

	if err := p.apply(p.ctx, match.ToLineItem()); err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.logger.Warn().Err(err).Str("token", token).Msg("scan apply failed")
		p.recordOutcome("error")
		p.notify(Notice{Kind: NoticeApplyFailed, Token: token, Message: err.Error()})
		return
	}
	p.recordOutcome("matched")
}

// Match prefers an exact case-insensitive code match and falls back to the
// first sellable result of the free-text search. The manual slot-fill path
// selects items with the same rule the drain loop uses.
func Match(token string, items []backbone.Item) (backbone.Item, bool) {
	var fallback *backbone.Item
	for i := range items {
		item := items[i]
		if !item.IsService && item.AvailableStock <= 0 {
			continue
		}
		if strings.EqualFold(item.Code, token) {
			return item, true
		}
		if fallback == nil {
			fallback = &items[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return backbone.Item{}, false
}

func (p *Processor) recordDepthLocked() {
	if obs.ScanQueueDepth != nil {
		obs.ScanQueueDepth.Set(float64(len(p.queue)))
	}
}

func (p *Processor) recordOutcome(outcome string) {
	if obs.ScanTokensTotal != nil {
		obs.ScanTokensTotal.WithLabelValues(outcome).Inc()
	}
}
