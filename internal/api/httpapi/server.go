// Package httpapi is the Query Surface (spec §4.6/§6): stateless
// request/response endpoints that project the Registry into reply
// envelopes. No pack repo wires a router library to this exact shape, so
// routing is bare net/http with manual path-segment parsing, grounded on
// toffguy77-arbitr's internal/api/rest/server.go (http.NewServeMux,
// handler-per-path); the {success,data|error,timestamp} envelope is
// grounded on the teacher's rpc/methods.go response-wrapping idiom.
package httpapi

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stratolabs/obmirror/internal/domain"
	"github.com/stratolabs/obmirror/internal/registry"
)

var logger = log.New(os.Stdout, "[httpapi] ", log.LstdFlags)

// Server is the Query Surface's handler set.
type Server struct {
	reg         *registry.Registry
	mux         *http.ServeMux
	startedAt   time.Time
	venueStatus func() string
}

// New builds the Query Surface, wired to reg. venueStatus reports the
// Venue Client's connection state for the /health summary.
func New(reg *registry.Registry, venueStatus func() string) *Server {
	s := &Server{
		reg:         reg,
		mux:         http.NewServeMux(),
		startedAt:   time.Now(),
		venueStatus: venueStatus,
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/orderbooks", s.handleAllOrderbooks)
	s.mux.HandleFunc("/api/orderbooks/", s.handleOrderbookPath)
	return s
}

// Handler wraps the route mux with a panic recovery middleware so an
// unexpected exception in a handler becomes a 500 with a generic message
// (spec §7) instead of taking the whole process down.
func (s *Server) Handler() http.Handler {
	return recoverMiddleware(s.mux)
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Printf("panic handling %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Printf("error encoding response: %v", err)
	}
}

func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Timestamp: time.Now().UnixMilli()})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg, Timestamp: time.Now().UnixMilli()})
}

type healthResponse struct {
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp"`
	Uptime     int64  `json:"uptime"`
	Orderbooks int    `json:"orderbooks"`
	Binance    string `json:"binance"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.reg.Stats()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Timestamp:  time.Now().UnixMilli(),
		Uptime:     int64(time.Since(s.startedAt).Seconds()),
		Orderbooks: stats.BookCount,
		Binance:    s.venueStatus(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.reg.Stats())
}

func (s *Server) handleAllOrderbooks(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.reg.AllSnapshots(0))
}

// handleOrderbookPath dispatches every /api/orderbooks/{symbol}[/...] path,
// since Go 1.20's http.ServeMux has no wildcard/method routing.
func (s *Server) handleOrderbookPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/orderbooks/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		s.handleAllOrderbooks(w, r)
		return
	}
	segs := strings.Split(rest, "/")
	symbol := domain.Symbol(segs[0]).Normalize()

	book, found := s.reg.Book(symbol)

	switch {
	case len(segs) == 1:
		if !found {
			writeError(w, http.StatusNotFound, "unknown symbol: "+symbol.String())
			return
		}
		writeData(w, book.Snapshot(0))

	case len(segs) == 3 && segs[1] == "limit":
		if !found {
			writeError(w, http.StatusNotFound, "unknown symbol: "+symbol.String())
			return
		}
		n, err := parsePositiveInt(segs[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit: "+segs[2])
			return
		}
		writeData(w, book.Snapshot(n))

	case len(segs) == 3 && segs[1] == "acc-qty":
		if !found {
			writeError(w, http.StatusNotFound, "unknown symbol: "+symbol.String())
			return
		}
		price, err := parseFiniteFloat(segs[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid price: "+segs[2])
			return
		}
		side, err := parseSideSelector(r.URL.Query().Get("side"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeData(w, book.AccumulatedToPrice(price, side))

	case len(segs) == 3 && segs[1] == "market-impact":
		if !found {
			writeError(w, http.StatusNotFound, "unknown symbol: "+symbol.String())
			return
		}
		size, err := parsePositiveFloat(segs[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid order size: "+segs[2])
			return
		}
		takerSide, err := parseTakerSide(r.URL.Query().Get("side"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		result := book.MarketImpact(size, takerSide)
		writeData(w, result)

	case len(segs) == 2 && segs[1] == "liquidity-profile":
		if !found {
			writeError(w, http.StatusNotFound, "unknown symbol: "+symbol.String())
			return
		}
		levels := 10
		if raw := r.URL.Query().Get("levels"); raw != "" {
			n, err := parsePositiveInt(raw)
			if err != nil || n < 1 || n > 100 {
				writeError(w, http.StatusBadRequest, "levels must be an integer in [1,100]")
				return
			}
			levels = n
		}
		writeData(w, book.LiquidityProfile(levels))

	default:
		writeError(w, http.StatusNotFound, "unknown route")
	}
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

func parseFiniteFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrSyntax
	}
	return f, nil
}

func parsePositiveFloat(s string) (float64, error) {
	f, err := parseFiniteFloat(s)
	if err != nil || f <= 0 {
		return 0, strconv.ErrSyntax
	}
	return f, nil
}

func parseSideSelector(raw string) (domain.SideSelector, error) {
	switch domain.SideSelector(raw) {
	case "", domain.SideBoth:
		return domain.SideBoth, nil
	case domain.SideBids:
		return domain.SideBids, nil
	case domain.SideAsks:
		return domain.SideAsks, nil
	default:
		return "", errInvalidSide
	}
}

func parseTakerSide(raw string) (domain.TakerSide, error) {
	switch domain.TakerSide(raw) {
	case domain.TakerBuy:
		return domain.TakerBuy, nil
	case domain.TakerSell:
		return domain.TakerSell, nil
	default:
		return "", errInvalidTakerSide
	}
}

var (
	errInvalidSide      = sideError("side must be one of bids, asks, both")
	errInvalidTakerSide = sideError("side must be one of buy, sell")
)

type sideError string

func (e sideError) Error() string { return string(e) }
