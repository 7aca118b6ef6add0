package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stratolabs/obmirror/internal/domain"
	"github.com/stratolabs/obmirror/internal/registry"
	"github.com/stretchr/testify/assert"
)

func newTestServer() (*Server, *registry.Registry) {
	reg := registry.New()
	s := New(reg, func() string { return "connected" })
	return s, reg
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer()
	rec := do(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "connected", resp.Binance)
}

func TestOrderbook_UnknownSymbolIs404(t *testing.T) {
	s, _ := newTestServer()
	rec := do(s, http.MethodGet, "/api/orderbooks/doesnotexist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderbook_FullLadder(t *testing.T) {
	s, reg := newTestServer()
	book := reg.EnsureBook("btcusdt")
	book.AddBid(100, 1, 1)
	book.AddAsk(101, 1, 1)

	rec := do(s, http.MethodGet, "/api/orderbooks/BTCUSDT")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp envelope
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestOrderbook_LimitInvalidIs400(t *testing.T) {
	s, reg := newTestServer()
	reg.EnsureBook("btcusdt")

	rec := do(s, http.MethodGet, "/api/orderbooks/btcusdt/limit/notanumber")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderbook_AccQtyWithSideFilter(t *testing.T) {
	s, reg := newTestServer()
	book := reg.EnsureBook("btcusdt")
	book.AddBid(99, 1, 1)
	book.AddBid(98, 2, 1)

	rec := do(s, http.MethodGet, "/api/orderbooks/btcusdt/acc-qty/98?side=bids")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data domain.AccumulatedToPriceResult `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3.0, resp.Data.Bids.Quantity)
}

func TestOrderbook_AccQtyInvalidSideIs400(t *testing.T) {
	s, reg := newTestServer()
	reg.EnsureBook("btcusdt")

	rec := do(s, http.MethodGet, "/api/orderbooks/btcusdt/acc-qty/98?side=nonsense")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderbook_MarketImpact(t *testing.T) {
	s, reg := newTestServer()
	book := reg.EnsureBook("btcusdt")
	book.AddAsk(100, 2, 1)
	book.AddAsk(101, 3, 1)

	rec := do(s, http.MethodGet, "/api/orderbooks/btcusdt/market-impact/4?side=buy")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrderbook_MarketImpactMissingSideIs400(t *testing.T) {
	s, reg := newTestServer()
	reg.EnsureBook("btcusdt")

	rec := do(s, http.MethodGet, "/api/orderbooks/btcusdt/market-impact/4")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderbook_LiquidityProfileLevelsOutOfRangeIs400(t *testing.T) {
	s, reg := newTestServer()
	reg.EnsureBook("btcusdt")

	rec := do(s, http.MethodGet, "/api/orderbooks/btcusdt/liquidity-profile?levels=500")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	s, reg := newTestServer()
	reg.EnsureBook("btcusdt")

	rec := do(s, http.MethodGet, "/api/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAllOrderbooks(t *testing.T) {
	s, reg := newTestServer()
	reg.EnsureBook("btcusdt")
	reg.EnsureBook("ethusdt")

	rec := do(s, http.MethodGet, "/api/orderbooks")
	assert.Equal(t, http.StatusOK, rec.Code)
}
