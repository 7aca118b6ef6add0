package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stratolabs/obmirror/internal/domain"
	"github.com/stretchr/testify/assert"
)

type fakeSubscriber struct {
	mu      sync.Mutex
	closed  bool
	failing bool
	got     []domain.Snapshot
}

func (f *fakeSubscriber) Send(symbol domain.Symbol, snapshot domain.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("send failed")
	}
	f.got = append(f.got, snapshot)
	return nil
}

func (f *fakeSubscriber) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func diff(symbol domain.Symbol, u, uEnd int64, bids, asks []domain.PriceLevelWire) domain.DiffUpdate {
	return domain.DiffUpdate{
		EventKind:     "depthUpdate",
		Symbol:        symbol,
		FirstUpdateID: u,
		FinalUpdateID: uEnd,
		Bids:          bids,
		Asks:          asks,
	}
}

func TestApplyDiff_UninitializedAcceptsUnconditionally(t *testing.T) {
	r := New()
	ok := r.ApplyDiff(diff("btcusdt", 50, 60, []domain.PriceLevelWire{{"100", "1"}}, nil))
	assert.True(t, ok)

	book, found := r.Book("btcusdt")
	assert.True(t, found)
	assert.Equal(t, int64(60), book.LastUpdateID)
}

func TestApplyDiff_NormalSequenceAcceptedThenGapRejected(t *testing.T) {
	r := New()
	book := r.EnsureBook("btcusdt")
	book.UpdateLastUpdateID(100)

	ok := r.ApplyDiff(diff("btcusdt", 101, 105, []domain.PriceLevelWire{{"100", "1"}}, nil))
	assert.True(t, ok)
	assert.Equal(t, int64(105), book.LastUpdateID)

	// U=103,u=104 against current=105 must be rejected (book unchanged)
	ok = r.ApplyDiff(diff("btcusdt", 103, 104, []domain.PriceLevelWire{{"200", "1"}}, nil))
	assert.False(t, ok)
	assert.Equal(t, int64(105), book.LastUpdateID)
}

func TestApplyDiff_LargeGapResyncs(t *testing.T) {
	r := New()
	book := r.EnsureBook("btcusdt")
	book.UpdateLastUpdateID(100)

	ok := r.ApplyDiff(diff("btcusdt", 5000, 5010, nil, nil))
	assert.True(t, ok)
	assert.Equal(t, int64(5010), book.LastUpdateID)
	assert.Equal(t, int64(1), r.Stats().ResyncCount)
}

func TestApplyDiff_InvalidLevelsAreSkippedNotFatal(t *testing.T) {
	r := New()
	ok := r.ApplyDiff(diff("btcusdt", 1, 2,
		[]domain.PriceLevelWire{{"100", "1"}, {"bad", "1"}},
		[]domain.PriceLevelWire{{"-5", "1"}}))
	assert.True(t, ok)

	book, _ := r.Book("btcusdt")
	assert.Len(t, book.Bids(0), 1)
	assert.Empty(t, book.Asks(0))
}

func TestApplyDiff_BroadcastsOnSuccess(t *testing.T) {
	r := New()
	sub := &fakeSubscriber{}
	r.Subscribe(sub)

	r.ApplyDiff(diff("btcusdt", 1, 2, []domain.PriceLevelWire{{"100", "1"}}, nil))

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Len(t, sub.got, 1)
}

func TestApplyDiff_DroppedDiffDoesNotBroadcast(t *testing.T) {
	r := New()
	book := r.EnsureBook("btcusdt")
	book.UpdateLastUpdateID(100)

	sub := &fakeSubscriber{}
	r.Subscribe(sub)

	ok := r.ApplyDiff(diff("btcusdt", 200, 201, nil, nil)) // gap <=1000 but out of sequence
	assert.False(t, ok)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Empty(t, sub.got)
}

func TestBroadcast_RemovesFailingAndClosedSubscribers(t *testing.T) {
	r := New()
	closedSub := &fakeSubscriber{closed: true}
	failingSub := &fakeSubscriber{failing: true}
	healthySub := &fakeSubscriber{}

	r.Subscribe(closedSub)
	r.Subscribe(failingSub)
	r.Subscribe(healthySub)

	r.Broadcast("btcusdt", domain.Snapshot{Symbol: "btcusdt"})

	assert.Equal(t, 1, r.Stats().SubscriberCount)
	healthySub.mu.Lock()
	defer healthySub.mu.Unlock()
	assert.Len(t, healthySub.got, 1)
}

func TestApplySnapshot_ClearsAndAdoptsUpdateID(t *testing.T) {
	r := New()
	book := r.EnsureBook("btcusdt")
	book.AddBid(1, 1, 1)
	book.UpdateLastUpdateID(5)

	ok := r.ApplySnapshot("btcusdt", domain.SnapshotEnvelope{
		LastUpdateID: 200,
		Bids:         []domain.PriceLevelWire{{"100", "1"}},
		Asks:         []domain.PriceLevelWire{{"101", "1"}},
	})
	assert.True(t, ok)
	assert.Equal(t, int64(200), book.LastUpdateID)
	assert.Len(t, book.Bids(0), 1)
	assert.Equal(t, 100.0, book.Bids(0)[0].Price)
}

func TestApplySnapshot_InvalidReturnsFalse(t *testing.T) {
	r := New()
	ok := r.ApplySnapshot("btcusdt", domain.SnapshotEnvelope{LastUpdateID: 0})
	assert.False(t, ok)
}

func TestBookNotFoundSentinel(t *testing.T) {
	r := New()
	_, found := r.Book("nosuchsymbol")
	assert.False(t, found)
}
