package venue

import (
	"context"
	"testing"
	"time"

	"github.com/stratolabs/obmirror/internal/config"
	"github.com/stratolabs/obmirror/internal/domain"
	"github.com/stratolabs/obmirror/internal/registry"
	"github.com/stretchr/testify/assert"
)

func testConfig() config.Config {
	return config.Config{
		BinanceWSURL:   "wss://example.invalid/ws",
		BinanceRESTURL: "https://example.invalid",
		TradingPairs:   []string{"btcusdt", "ethusdt"},
		OrderbookDepth: 100,
	}
}

func TestInitializeBooksCreatesEmptyBooksForEverySymbol(t *testing.T) {
	reg := registry.New()
	c := NewClient(testConfig(), reg)
	c.maxTries = 1

	c.InitializeBooks()

	for _, sym := range c.cfg.TradingPairs {
		book, ok := reg.Book(domain.Symbol(sym))
		assert.True(t, ok)
		assert.Equal(t, int64(0), book.LastUpdateID)
	}
}

func TestHandleReconnect_StopsAfterMaxAttempts(t *testing.T) {
	reg := registry.New()
	c := NewClient(testConfig(), reg)
	c.maxTries = 2

	ctx := context.Background()
	assert.True(t, c.handleReconnect(ctx))  // attempt 1
	assert.True(t, c.handleReconnect(ctx))  // attempt 2
	assert.False(t, c.handleReconnect(ctx)) // attempt 3 exceeds cap
}

func TestHandleReconnect_CancelledContextStopsImmediately(t *testing.T) {
	reg := registry.New()
	c := NewClient(testConfig(), reg)
	c.maxTries = 10

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, c.handleReconnect(ctx))
}

func TestOnDepthUpdate_QueuesValidFrameForApply(t *testing.T) {
	reg := registry.New()
	c := NewClient(testConfig(), reg)

	raw := []byte(`{"e":"depthUpdate","E":123,"s":"BTCUSDT","U":1,"u":2,"b":[["100","1"]],"a":[]}`)
	c.onMessage(raw)

	c.queueMu.Lock()
	n := c.queue.Len()
	c.queueMu.Unlock()
	assert.Equal(t, 1, n)
}

func TestState_StringsAreHumanReadable(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "streaming", StateStreaming.String())
}

func TestQueueDrainer_AppliesQueuedDiffToRegistry(t *testing.T) {
	reg := registry.New()
	c := NewClient(testConfig(), reg)

	raw := []byte(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":1,"u":2,"b":[["100","1"]],"a":[]}`)
	c.onMessage(raw)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go c.queueDrainer(ctx)

	assert.Eventually(t, func() bool {
		book, ok := reg.Book("btcusdt")
		return ok && book.LastUpdateID == 2
	}, 500*time.Millisecond, 10*time.Millisecond)
}
