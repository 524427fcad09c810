package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/depthlab/bookfeed/internal/maintainer"
	"github.com/depthlab/bookfeed/internal/model"
)

// Config holds HTTP server settings.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves book queries and subscription management over HTTP.
type Server struct {
	cfg    Config
	engine maintainer.Maintainer
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates the query API server.
func NewServer(cfg Config, engine maintainer.Maintainer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		engine: engine,
		logger: logger,
	}
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving. It returns once the listener fails or shuts down.
func (s *Server) Start() error {
	s.logger.Info("query api listening", "addr", s.cfg.ListenAddr)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/book", s.handleGetBook)
		r.Get("/aggregates", s.handleGetAggregates)
		r.Get("/features", s.handleGetFeatures)
		r.Get("/state", s.handleGetState)
		r.Get("/stats", s.handleGetStats)
		r.Post("/subscriptions", s.handleSubscribe)
		r.Delete("/subscriptions", s.handleUnsubscribe)
	})
	return r
}

// Wire types

type levelJSON struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type bookJSON struct {
	Venue     string      `json:"venue"`
	Symbol    string      `json:"symbol"`
	Sequence  int64       `json:"seq"`
	UpdatedAt time.Time   `json:"updated_at"`
	Bids      []levelJSON `json:"bids"`
	Asks      []levelJSON `json:"asks"`
}

type aggregatesJSON struct {
	Venue     string `json:"venue"`
	Symbol    string `json:"symbol"`
	Spread    string `json:"spread"`
	Mid       string `json:"mid"`
	Imbalance string `json:"imbalance"`
}

type featuresJSON struct {
	Venue              string    `json:"venue"`
	Symbol             string    `json:"symbol"`
	OrderFlowImbalance float64   `json:"order_flow_imbalance"`
	TradeIntensity     float64   `json:"trade_intensity"`
	VolatilityProxy    float64   `json:"volatility_proxy"`
	AsOf               time.Time `json:"as_of"`
	Stale              bool      `json:"stale"`
}

type stateJSON struct {
	Venue        string    `json:"venue"`
	Symbol       string    `json:"symbol"`
	Status       string    `json:"status"`
	LastSequence int64     `json:"last_seq"`
	LastUpdate   time.Time `json:"last_update"`
}

type subscriptionJSON struct {
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"`
}

type errorJSON struct {
	Error string `json:"error"`
}

// Handlers

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	venue, symbol, ok := s.key(w, r)
	if !ok {
		return
	}

	book, err := s.engine.GetBook(venue, symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := bookJSON{
		Venue:     venue,
		Symbol:    symbol,
		Sequence:  book.Sequence,
		UpdatedAt: book.LastUpdated,
		Bids:      toLevelJSON(book.Bids),
		Asks:      toLevelJSON(book.Asks),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAggregates(w http.ResponseWriter, r *http.Request) {
	venue, symbol, ok := s.key(w, r)
	if !ok {
		return
	}

	agg, err := s.engine.GetAggregates(venue, symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, aggregatesJSON{
		Venue:     venue,
		Symbol:    symbol,
		Spread:    agg.Spread.String(),
		Mid:       agg.Mid.String(),
		Imbalance: agg.Imbalance.String(),
	})
}

// handleGetFeatures keys by symbol; venue is optional and only
// disambiguates when feature windows are kept per venue.
func (s *Server) handleGetFeatures(w http.ResponseWriter, r *http.Request) {
	venue := r.URL.Query().Get("venue")
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		s.writeJSON(w, http.StatusBadRequest, errorJSON{Error: "symbol query parameter is required"})
		return
	}

	fs, err := s.engine.GetFeatures(venue, symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, featuresJSON{
		Venue:              venue,
		Symbol:             symbol,
		OrderFlowImbalance: fs.OrderFlowImbalance,
		TradeIntensity:     fs.TradeIntensity,
		VolatilityProxy:    fs.VolatilityProxy,
		AsOf:               fs.AsOf,
		Stale:              fs.Stale,
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	venue, symbol, ok := s.key(w, r)
	if !ok {
		return
	}

	state, err := s.engine.SyncState(venue, symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, stateJSON{
		Venue:        venue,
		Symbol:       symbol,
		Status:       string(state.Status),
		LastSequence: state.LastSequence,
		LastUpdate:   state.LastUpdate,
	})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorJSON{Error: "invalid request body"})
		return
	}
	if req.Venue == "" || req.Symbol == "" {
		s.writeJSON(w, http.StatusBadRequest, errorJSON{Error: "venue and symbol are required"})
		return
	}

	if err := s.engine.Subscribe(req.Venue, req.Symbol); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	venue, symbol, ok := s.key(w, r)
	if !ok {
		return
	}

	if err := s.engine.Unsubscribe(venue, symbol); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helpers

func (s *Server) key(w http.ResponseWriter, r *http.Request) (venue, symbol string, ok bool) {
	venue = r.URL.Query().Get("venue")
	symbol = r.URL.Query().Get("symbol")
	if venue == "" || symbol == "" {
		s.writeJSON(w, http.StatusBadRequest, errorJSON{Error: "venue and symbol query parameters are required"})
		return "", "", false
	}
	return venue, symbol, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, maintainer.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, maintainer.ErrEmptyBook):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, maintainer.ErrFeedUnreachable):
		status = http.StatusBadGateway
	case errors.Is(err, maintainer.ErrNotStarted):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorJSON{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func toLevelJSON(levels []model.PriceLevel) []levelJSON {
	out := make([]levelJSON, len(levels))
	for i, l := range levels {
		out[i] = levelJSON{Price: l.Price.String(), Quantity: l.Quantity.String()}
	}
	return out
}
