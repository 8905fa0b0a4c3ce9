package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"gilded/internal/economy"
	"gilded/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	defaultLogLimit  = 50
	maxLogLimit      = 1000
	maxRememberedRun = 64
)

// Bank is the part of *economy.Bank the admin API reads and drives.
type Bank interface {
	AuthorizerID() string
	Accounts() []economy.Account
	Account(playerID string) (economy.Account, error)
	History(playerID string, limit int) []economy.LogEntry
	Offering() []economy.MarketItem
	Prices() economy.PriceTable
	StartSession(ctx context.Context, callerID string) (economy.SessionReport, error)
}

type Server struct {
	adminToken string
	log        *slog.Logger
	bank       Bank
	mux        *chi.Mux
	onSession  func(ctx context.Context, report economy.SessionReport)

	// Session runs keyed by Idempotency-Key so a retried POST does not bill twice.
	runsMu sync.Mutex
	runs   map[string]economy.SessionReport
	order  []string
}

func New(adminToken string, logger *slog.Logger, bank Bank) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		adminToken: strings.TrimSpace(adminToken),
		log:        logger,
		bank:       bank,
		mux:        chi.NewRouter(),
		runs:       make(map[string]economy.SessionReport),
	}
	s.routes()
	return s
}

// OnSession registers fn to run after every session the API starts.
// Replayed Idempotency-Key requests do not call it again.
func (s *Server) OnSession(fn func(ctx context.Context, report economy.SessionReport)) {
	s.onSession = fn
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/accounts", s.handleAccounts)
		r.Get("/accounts/{id}", s.handleAccount)
		r.Get("/log", s.handleLog)
		r.Get("/market", s.handleMarket)
		r.Get("/plans", s.handlePlans)
		r.Post("/sessions", s.handleStartSession)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusServiceUnavailable, "admin api disabled")
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"accounts": s.bank.Accounts()})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.bank.Account(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}
	player := strings.TrimSpace(r.URL.Query().Get("player"))
	writeJSON(w, http.StatusOK, map[string]any{"entries": s.bank.History(player, limit)})
}

func (s *Server) handleMarket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"offering": s.bank.Offering()})
}

func (s *Server) handlePlans(w http.ResponseWriter, _ *http.Request) {
	prices := s.bank.Prices()
	type plan struct {
		Name string `json:"name"`
		Cost int64  `json:"cost"`
	}
	out := make([]plan, 0, len(prices))
	for _, name := range prices.Names() {
		out = append(out, plan{Name: name, Cost: prices[name]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

// handleStartSession runs the session as the configured authorizer.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	key := idempotencyKey(r)
	w.Header().Set("Idempotency-Key", key)

	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	if report, ok := s.runs[key]; ok {
		writeJSON(w, http.StatusOK, report)
		return
	}
	report, err := s.bank.StartSession(r.Context(), s.bank.AuthorizerID())
	metrics.ObserveSession(err)
	if err != nil {
		s.log.Warn("session run via api failed", "request_id", middleware.GetReqID(r.Context()), "err", err)
		writeDomainError(w, err)
		return
	}
	s.remember(key, report)
	s.log.Info("session run via api", "request_id", middleware.GetReqID(r.Context()), "accounts", len(report.Balances))
	if s.onSession != nil {
		s.onSession(context.WithoutCancel(r.Context()), report)
	}
	writeJSON(w, http.StatusCreated, report)
}

// remember must be called with runsMu held.
func (s *Server) remember(key string, report economy.SessionReport) {
	if len(s.order) >= maxRememberedRun {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	s.runs[key] = report
	s.order = append(s.order, key)
}

func writeDomainError(w http.ResponseWriter, err error) {
	var sessionErr *economy.SessionError
	switch {
	case errors.As(err, &sessionErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, economy.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, economy.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, economy.ErrInvalidPlayer), errors.Is(err, economy.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, economy.ErrPersistenceWriteFailed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
