// Package supervisor wires the Registry, Venue Client, Query Surface,
// Push Surface, and metrics server into one process lifecycle, grounded
// on the teacher's provider.ConnectionManager (Init/Close pairing) and
// main.go's wire-everything-up-and-run shape, generalized from a
// two-exchange dial to this mirror's single-venue client plus its two
// HTTP-facing surfaces.
package supervisor

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/stratolabs/obmirror/internal/api/httpapi"
	"github.com/stratolabs/obmirror/internal/api/wsapi"
	"github.com/stratolabs/obmirror/internal/config"
	"github.com/stratolabs/obmirror/internal/domain"
	"github.com/stratolabs/obmirror/internal/metrics"
	"github.com/stratolabs/obmirror/internal/registry"
	"github.com/stratolabs/obmirror/internal/venue"
)

var logger = log.New(os.Stdout, "[supervisor] ", log.LstdFlags)

// Supervisor owns every long-lived component's lifecycle.
type Supervisor struct {
	cfg    config.Config
	reg    *registry.Registry
	client *venue.Client

	httpSrv    *http.Server
	metricsSrv *http.Server

	wg sync.WaitGroup
}

// New constructs every component but does not start anything.
func New(cfg config.Config) *Supervisor {
	reg := registry.New()
	client := venue.NewClient(cfg, reg)

	hub := wsapi.NewHub(reg)
	api := httpapi.New(reg, func() string { return client.State().String() })

	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	mux.HandleFunc("/ws", hub.ServeHTTP)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())

	return &Supervisor{
		cfg:    cfg,
		reg:    reg,
		client: client,
		httpSrv: &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.Port),
			Handler: mux,
		},
		metricsSrv: &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		},
	}
}

// Run starts every component and blocks until ctx is cancelled, then
// shuts everything down: the venue client first, then the query+push
// surface, then the metrics surface. Mirrors the teacher's
// ConnectionManager.Init()/Close() pairing but adds graceful HTTP
// shutdown, which the teacher's process never needed since it had no
// HTTP surface of its own.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.BootstrapMode == config.BootstrapSnapshot {
		for _, sym := range s.cfg.TradingPairs {
			if err := s.client.Bootstrap(domain.Symbol(sym)); err != nil {
				logger.Printf("snapshot bootstrap failed for %s: %v", sym, err)
			}
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger.Printf("query+push surface listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http surface error: %v", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger.Printf("metrics listening on %s", s.metricsSrv.Addr)
		if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics surface error: %v", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.client.Run(ctx)
		logger.Printf("venue client stopped")
	}()

	<-ctx.Done()
	logger.Printf("shutdown requested, draining")
	s.shutdown()
	s.wg.Wait()
	return nil
}

func (s *Supervisor) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.client.Close()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http surface shutdown error: %v", err)
	}
	if err := s.metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics surface shutdown error: %v", err)
	}
}
