// Package registry owns the per-symbol order books and the set of
// streaming subscribers fed by the diff-apply path. It is the state
// machine described in spec §4.4, grounded on the teacher's
// domain.OrderBookStorage (provider->symbol->book map, generalized here to
// a single-venue symbol->book map) plus a subscriber fan-out set that the
// teacher's bridge never needed (it proxies snapshots on demand rather than
// pushing them).
package registry

import (
	"log"
	"os"
	"sync"

	"github.com/stratolabs/obmirror/internal/domain"
	"github.com/stratolabs/obmirror/internal/metrics"
	"github.com/stratolabs/obmirror/internal/validator"
)

var logger = log.New(os.Stdout, "[registry] ", log.LstdFlags)

// largeGapThreshold is the U-lastUpdateID jump past which a diff is treated
// as a resync rather than requiring strict continuity (spec §4.4 branch 2).
const largeGapThreshold = 1000

// Subscriber is anything the registry can push a snapshot to. Implemented
// by the push surface's per-connection writer; kept as a narrow interface
// here so the registry never imports the websocket package.
type Subscriber interface {
	// Send delivers a broadcast payload. It must not block for long — a
	// slow subscriber is the push surface's problem, not the registry's
	// (spec §5 Backpressure); implementations should do a non-blocking
	// buffered-channel send and return an error when that's not possible.
	Send(symbol domain.Symbol, snapshot domain.Snapshot) error
	// Closed reports whether the subscriber's transport is already gone.
	Closed() bool
}

// Registry maps symbol -> order book and owns the subscriber set.
type Registry struct {
	mu   sync.RWMutex
	book map[domain.Symbol]*domain.OrderBook

	subMu       sync.Mutex
	subscribers map[Subscriber]struct{}

	resyncCount  int64
	droppedCount int64
}

func New() *Registry {
	return &Registry{
		book:        make(map[domain.Symbol]*domain.OrderBook),
		subscribers: make(map[Subscriber]struct{}),
	}
}

// EnsureBook returns the book for symbol, creating an empty one
// (last_update_id=0) if this is the first reference (spec §3 lifecycle).
func (r *Registry) EnsureBook(symbol domain.Symbol) *domain.OrderBook {
	symbol = symbol.Normalize()

	r.mu.RLock()
	book, ok := r.book[symbol]
	r.mu.RUnlock()
	if ok {
		return book
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if book, ok := r.book[symbol]; ok {
		return book
	}
	book = domain.NewOrderBook(symbol)
	r.book[symbol] = book
	return book
}

// Book returns the existing book for symbol, or (nil, false) if none has
// ever been referenced — the not-found sentinel the query surface needs.
func (r *Registry) Book(symbol domain.Symbol) (*domain.OrderBook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	book, ok := r.book[symbol.Normalize()]
	return book, ok
}

// Symbols returns every symbol the registry currently tracks.
func (r *Registry) Symbols() []domain.Symbol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Symbol, 0, len(r.book))
	for s := range r.book {
		out = append(out, s)
	}
	return out
}

// AllSnapshots returns a full-ladder snapshot of every tracked book, used by
// the push surface's welcome burst and the query surface's "all books" path.
func (r *Registry) AllSnapshots(limit int) map[string]domain.Snapshot {
	r.mu.RLock()
	books := make([]*domain.OrderBook, 0, len(r.book))
	for _, b := range r.book {
		books = append(books, b)
	}
	r.mu.RUnlock()

	out := make(map[string]domain.Snapshot, len(books))
	for _, b := range books {
		out[b.Symbol.String()] = b.Snapshot(limit)
	}
	return out
}

// ApplyDiff is the critical path (spec §4.4): it resolves the book's
// branch by how far the diff's first id sits from the book's last applied
// id, applies the change set, and — on success — broadcasts the new
// snapshot. Returns false (without mutating the book) when the diff must
// be dropped.
func (r *Registry) ApplyDiff(diff domain.DiffUpdate) bool {
	book := r.EnsureBook(diff.Symbol)
	current := book.LastUpdateID

	switch {
	case current == 0:
		// Uninitialized: bootstrap-from-live-stream path, accept unconditionally.
	case diff.FirstUpdateID-current > largeGapThreshold:
		r.resyncCount++
		metrics.ResyncTotal.WithLabelValues(diff.Symbol.String()).Inc()
		logger.Printf("symbol=%s large sequence gap (U=%d last=%d), resyncing", diff.Symbol, diff.FirstUpdateID, current)
	default:
		if !validator.SequenceOK(current, diff.FirstUpdateID, diff.FinalUpdateID) {
			r.droppedCount++
			metrics.DiffsDroppedTotal.WithLabelValues(diff.Symbol.String()).Inc()
			logger.Printf("symbol=%s out-of-sequence diff dropped (U=%d u=%d last=%d)", diff.Symbol, diff.FirstUpdateID, diff.FinalUpdateID, current)
			return false
		}
	}

	for _, lvl := range diff.Bids {
		if !validator.IsValidPriceLevel(lvl) {
			continue
		}
		price, qty := validator.SanitizePriceLevel(lvl)
		book.AddBid(price, qty, 1)
	}
	for _, lvl := range diff.Asks {
		if !validator.IsValidPriceLevel(lvl) {
			continue
		}
		price, qty := validator.SanitizePriceLevel(lvl)
		book.AddAsk(price, qty, 1)
	}
	book.UpdateLastUpdateID(diff.FinalUpdateID)
	metrics.DiffsAppliedTotal.WithLabelValues(diff.Symbol.String()).Inc()

	r.Broadcast(diff.Symbol, book.Snapshot(0))
	return true
}

// ApplySnapshot clears the book and repopulates it from a REST snapshot,
// then adopts the snapshot's update id. No broadcast is triggered — spec
// §4.4 "broadcasts are diff-driven."
func (r *Registry) ApplySnapshot(symbol domain.Symbol, snap domain.SnapshotEnvelope) bool {
	if !validator.IsValidSnapshot(snap.LastUpdateID, snap.Bids, snap.Asks) {
		return false
	}

	book := r.EnsureBook(symbol)
	book.Clear()
	for _, lvl := range snap.Bids {
		if !validator.IsValidPriceLevel(lvl) {
			continue
		}
		price, qty := validator.SanitizePriceLevel(lvl)
		book.AddBid(price, qty, 1)
	}
	for _, lvl := range snap.Asks {
		if !validator.IsValidPriceLevel(lvl) {
			continue
		}
		price, qty := validator.SanitizePriceLevel(lvl)
		book.AddAsk(price, qty, 1)
	}
	book.UpdateLastUpdateID(snap.LastUpdateID)
	return true
}

// Subscribe registers a new streaming subscriber.
func (r *Registry) Subscribe(sub Subscriber) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers[sub] = struct{}{}
	metrics.ActiveSubscribers.Set(float64(len(r.subscribers)))
}

// Unsubscribe removes a subscriber, e.g. on disconnect.
func (r *Registry) Unsubscribe(sub Subscriber) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	delete(r.subscribers, sub)
	metrics.ActiveSubscribers.Set(float64(len(r.subscribers)))
}

// Broadcast pushes a post-apply snapshot to every open subscriber, removing
// any that are closed or whose send fails (spec §4.4). Iteration tolerates
// concurrent removal because it snapshots the subscriber set under lock
// before sending.
func (r *Registry) Broadcast(symbol domain.Symbol, snapshot domain.Snapshot) {
	r.subMu.Lock()
	targets := make([]Subscriber, 0, len(r.subscribers))
	for s := range r.subscribers {
		targets = append(targets, s)
	}
	r.subMu.Unlock()

	var dead []Subscriber
	for _, s := range targets {
		if s.Closed() {
			dead = append(dead, s)
			continue
		}
		if err := s.Send(symbol, snapshot); err != nil {
			dead = append(dead, s)
		}
	}

	if len(dead) == 0 {
		return
	}
	r.subMu.Lock()
	for _, s := range dead {
		delete(r.subscribers, s)
	}
	metrics.ActiveSubscribers.Set(float64(len(r.subscribers)))
	r.subMu.Unlock()
}

// Stats is the manager-level summary exposed by the /api/stats endpoint.
type Stats struct {
	BookCount        int   `json:"bookCount"`
	SubscriberCount  int   `json:"subscriberCount"`
	ResyncCount      int64 `json:"resyncCount"`
	DroppedDiffCount int64 `json:"droppedDiffCount"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	bookCount := len(r.book)
	r.mu.RUnlock()

	r.subMu.Lock()
	subCount := len(r.subscribers)
	r.subMu.Unlock()

	return Stats{
		BookCount:        bookCount,
		SubscriberCount:  subCount,
		ResyncCount:      r.resyncCount,
		DroppedDiffCount: r.droppedCount,
	}
}
