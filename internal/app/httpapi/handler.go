// Package httpapi exposes the token economy over REST and a websocket
// transaction stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	app "github.com/cardverse/token_layer/internal/app"
	"github.com/cardverse/token_layer/internal/app/domain/card"
	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/domain/user"
	"github.com/cardverse/token_layer/internal/app/metrics"
	"github.com/cardverse/token_layer/internal/middleware"
	"github.com/cardverse/token_layer/pkg/logger"
)

const (
	apiPrefix  = "/api/v1"
	signupPath = apiPrefix + "/auth/signup"
	streamPath = "/ws/transactions"
)

// Options carries the HTTP-only collaborators.
type Options struct {
	Issuer      *middleware.TokenIssuer
	Idempotency middleware.IdempotencyCache
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Log         *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app      *app.Application
	issuer   *middleware.TokenIssuer
	upgrader *websocket.Upgrader
	log      *logger.Logger
}

// NewHandler returns the routed API with its middleware chain applied.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if opts.Issuer == nil {
		opts.Issuer = middleware.NewTokenIssuer("dev-secret-change-me", 0)
	}
	if opts.Idempotency == nil {
		opts.Idempotency = middleware.NewMemoryCache()
	}
	cors := middleware.NewCORSMiddleware(opts.CORSOrigins)
	h := &handler{app: application, issuer: opts.Issuer, upgrader: newUpgrader(cors), log: log}

	auth := middleware.NewAuthMiddleware(opts.Issuer, log.Named("auth"), nil, []string{streamPath})

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(log), middleware.MetricsMiddleware())

	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc(signupPath, h.signup).Methods(http.MethodPost)
	router.Handle(streamPath, auth.Handler(http.HandlerFunc(h.streamTransactions))).Methods(http.MethodGet)

	api := router.PathPrefix(apiPrefix).Subrouter()
	api.Use(auth.Handler)
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Handler)
	}
	api.Use(middleware.Idempotency(opts.Idempotency, log.Named("idempotency")))

	api.HandleFunc("/users/me", h.me).Methods(http.MethodGet)
	api.HandleFunc("/users/me", h.updateMe).Methods(http.MethodPut)

	api.HandleFunc("/tokens/balance", h.balance).Methods(http.MethodGet)
	api.HandleFunc("/tokens/transactions", h.transactions).Methods(http.MethodGet)
	api.HandleFunc("/tokens/transfer", h.transfer).Methods(http.MethodPost)
	api.HandleFunc("/tokens/special-content", h.specialContent).Methods(http.MethodPost)

	api.HandleFunc("/cards", h.createCard).Methods(http.MethodPost)
	api.HandleFunc("/cards/feed", h.feed).Methods(http.MethodGet)
	api.HandleFunc("/cards/mine", h.myCards).Methods(http.MethodGet)
	api.HandleFunc("/cards/{id}", h.getCard).Methods(http.MethodGet)
	api.HandleFunc("/cards/{id}/interact", h.interact).Methods(http.MethodPost)

	var root http.Handler = router
	root = cors.Handler(root)
	return middleware.Tracing(root)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps domain failures onto status codes. Errors the domain does
// not classify get fallback, which callers pick per endpoint.
func writeError(w http.ResponseWriter, fallback int, err error) {
	status, code := classify(err, fallback)
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func classify(err error, fallback int) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, ledger.ErrInvalidTransfer):
		return http.StatusBadRequest, "invalid_transfer"
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidKind):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, card.ErrNotFound):
		return http.StatusNotFound, "card_not_found"
	case errors.Is(err, user.ErrEmailTaken):
		return http.StatusConflict, "email_taken"
	case errors.Is(err, user.ErrInvalid), errors.Is(err, card.ErrInvalid):
		return http.StatusBadRequest, "invalid_request"
	}
	switch fallback {
	case http.StatusBadRequest:
		return fallback, "invalid_request"
	case http.StatusNotFound:
		return fallback, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func callerID(r *http.Request) string {
	return middleware.GetUserID(r.Context())
}
