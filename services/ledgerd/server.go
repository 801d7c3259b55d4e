package ledgerd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakeledger/native/common"
	"stakeledger/native/revenue"
	"stakeledger/native/staking"
	"stakeledger/native/transfer"
	"stakeledger/observability/logging"
)

const maxBodyBytes = 1 << 20

// Server exposes the ledger over HTTP.
type Server struct {
	service *Service
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	idem    IdempotencyStore
	logger  *slog.Logger
}

// NewServer wires the HTTP surface around service.
func NewServer(service *Service, hub *Hub, auth *Authenticator, limiter *RateLimiter, idem IdempotencyStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Server{service: service, hub: hub, auth: auth, limiter: limiter, idem: idem, logger: logger}
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware())
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Use(WithIdempotency(s.idem, s.logger))

		r.Get("/events", s.handleEvents)
		r.Get("/pools", s.handleListPools)
		r.Get("/pools/{admin}/{asset}", s.handleGetPool)
		r.Get("/pools/{admin}/{asset}/positions/{owner}", s.handleGetPosition)
		r.Get("/pools/{admin}/{asset}/projection", s.handleProjection)
		r.Get("/balances/{asset}/{account}", s.handleBalance)
		r.Get("/tournaments/{id}", s.handleGetTournament)

		r.Post("/pools/{admin}/{asset}/fund", s.handleFund)
		r.Post("/pools/{admin}/{asset}/stake", s.handleStake)
		r.Post("/pools/{admin}/{asset}/unstake", s.handleUnstake)
		r.Post("/pools/{admin}/{asset}/accrue", s.handleAccrue)
		r.Post("/pools/{admin}/{asset}/claim", s.handleClaim)
		r.Post("/tournaments/{id}/register", s.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(RequireScopes(s.auth.AdminScope()))
			r.Post("/pools", s.handleInitializePool)
			r.Post("/pools/{admin}/{asset}/distribute", s.handleDistribute)
			r.Post("/tournaments", s.handleCreateTournament)
			r.Post("/tournaments/{id}/prize-pool", s.handleInitializePrizePool)
			r.Post("/tournaments/{id}/distribute", s.handleDistributeTournament)
			r.Post("/tournaments/{id}/prizes", s.handleDistributePrizes)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.auth.Middleware(s.auth.AdminScope()))
		r.Mount("/", NewAdminServer(s.service, s.hub))
	})

	return otelhttp.NewHandler(r, "ledgerd")
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			logging.MaskField("idempotency_key", r.Header.Get("Idempotency-Key")),
			slog.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"paused": s.service.Pauses().Snapshot(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

var notFoundErrors = []error{
	staking.ErrPoolNotFound, staking.ErrRewardLedgerNotFound, revenue.ErrRevenueLedgerNotFound,
	revenue.ErrTournamentNotFound, revenue.ErrPrizePoolNotFound,
}

// statusFor maps a ledger error onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, common.ErrModulePaused) {
		return http.StatusServiceUnavailable
	}
	if revenue.IsUnauthorized(err) {
		return http.StatusForbidden
	}
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return http.StatusNotFound
		}
	}
	switch revenue.Classify(err) {
	case staking.KindValidation:
		return http.StatusBadRequest
	case staking.KindPrecondition:
		return http.StatusConflict
	case staking.KindArithmetic:
		return http.StatusUnprocessableEntity
	case staking.KindTransfer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("ledger request failed", slog.Any("error", err))
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: string(revenue.Classify(err))})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return false
	}
	return true
}

func poolParam(r *http.Request) staking.PoolID {
	return staking.PoolID{
		Admin: strings.TrimSpace(chi.URLParam(r, "admin")),
		Asset: strings.TrimSpace(chi.URLParam(r, "asset")),
	}
}

func ownerOrCaller(owner string, r *http.Request) string {
	if owner = strings.TrimSpace(owner); owner != "" {
		return owner
	}
	return CallerFromContext(r.Context())
}

type initPoolRequest struct {
	Admin string `json:"admin"`
	Asset string `json:"asset"`
	Kind  string `json:"kind"`
}

func (s *Server) handleInitializePool(w http.ResponseWriter, r *http.Request) {
	var req initPoolRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, err := transfer.ParseAssetKind(req.Kind)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	id := staking.PoolID{Admin: strings.TrimSpace(req.Admin), Asset: strings.TrimSpace(req.Asset)}
	pool, err := s.service.InitializePool(r.Context(), CallerFromContext(r.Context()), id, kind)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

func (s *Server) handleListPools(w http.ResponseWriter, _ *http.Request) {
	pools, err := s.service.Pools()
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Pool(poolParam(r))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ledger, err := s.service.FundRewards(r.Context(), CallerFromContext(r.Context()), poolParam(r), req.Amount)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

type stakeRequest struct {
	Owner  string               `json:"owner"`
	Amount uint64               `json:"amount"`
	Lock   staking.LockDuration `json:"lock"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pos, err := s.service.Stake(r.Context(), CallerFromContext(r.Context()), poolParam(r), ownerOrCaller(req.Owner, r), req.Amount, req.Lock)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) decodeOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ownerRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return "", false
	}
	return ownerOrCaller(req.Owner, r), true
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.decodeOwner(w, r)
	if !ok {
		return
	}
	amount, err := s.service.Unstake(r.Context(), CallerFromContext(r.Context()), poolParam(r), owner)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "amount": amount})
}

func (s *Server) handleAccrue(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.decodeOwner(w, r)
	if !ok {
		return
	}
	settled, err := s.service.Accrue(r.Context(), CallerFromContext(r.Context()), poolParam(r), owner)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "settled": settled})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.decodeOwner(w, r)
	if !ok {
		return
	}
	amount, err := s.service.Claim(r.Context(), CallerFromContext(r.Context()), poolParam(r), owner)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "amount": amount})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Position(poolParam(r), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("revenue")
	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "revenue must be an unsigned integer")
		return
	}
	owner := ownerOrCaller(r.URL.Query().Get("owner"), r)
	projection, err := s.service.Project(poolParam(r), owner, amount)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projection)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	account := chi.URLParam(r, "account")
	balance, err := s.service.Balance(asset, account)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "account": account, "balance": balance})
}

type distributeRequest struct {
	Amount      uint64               `json:"amount"`
	Percentages *revenue.Percentages `json:"percentages,omitempty"`
}

func percentagesOrZero(p *revenue.Percentages) revenue.Percentages {
	if p == nil {
		return revenue.Percentages{}
	}
	return *p
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := s.service.Distribute(r.Context(), CallerFromContext(r.Context()), poolParam(r), req.Amount, percentagesOrZero(req.Percentages))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type createTournamentRequest struct {
	ID              string `json:"id"`
	Admin           string `json:"admin"`
	Asset           string `json:"asset"`
	EntryFee        uint64 `json:"entryFee"`
	MaxParticipants uint32 `json:"maxParticipants"`
	EndTime         int64  `json:"endTime"`
}

func (s *Server) handleCreateTournament(w http.ResponseWriter, r *http.Request) {
	var req createTournamentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pool := staking.PoolID{Admin: strings.TrimSpace(req.Admin), Asset: strings.TrimSpace(req.Asset)}
	t, err := s.service.CreateTournament(r.Context(), CallerFromContext(r.Context()), pool, req.ID, req.EntryFee, req.MaxParticipants, req.EndTime)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTournament(w http.ResponseWriter, r *http.Request) {
	t, prize, err := s.service.Tournament(chi.URLParam(r, "id"))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tournament": t, "prizePool": prize})
}

type registerRequest struct {
	Player string `json:"player"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	t, err := s.service.Register(r.Context(), CallerFromContext(r.Context()), chi.URLParam(r, "id"), ownerOrCaller(req.Player, r))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleInitializePrizePool(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.InitializePrizePool(r.Context(), CallerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type distributeTournamentRequest struct {
	Percentages *revenue.Percentages `json:"percentages,omitempty"`
}

func (s *Server) handleDistributeTournament(w http.ResponseWriter, r *http.Request) {
	var req distributeTournamentRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	d, err := s.service.DistributeTournament(r.Context(), CallerFromContext(r.Context()), chi.URLParam(r, "id"), percentagesOrZero(req.Percentages))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type prizesRequest struct {
	Winners [3]string `json:"winners"`
}

func (s *Server) handleDistributePrizes(w http.ResponseWriter, r *http.Request) {
	var req prizesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.service.DistributePrizes(r.Context(), CallerFromContext(r.Context()), chi.URLParam(r, "id"), req.Winners)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
