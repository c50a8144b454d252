// Package api exposes the round contract over HTTP JSON and pushes
// committed state changes to websocket clients.
//
// Amounts and prices travel as decimal strings or integers of stroops.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xelma/round-engine/internal/archive"
	"github.com/xelma/round-engine/internal/auth"
	"github.com/xelma/round-engine/internal/contract"
	"github.com/xelma/round-engine/internal/metrics"
	"github.com/xelma/round-engine/internal/model"
)

// Service handles the HTTP surface of one contract instance.
type Service struct {
	contract *contract.Contract
	hub      *WSHub            // optional
	archiver archive.Archiver // optional
}

// NewService creates a service. hub and arch may be nil.
func NewService(c *contract.Contract, hub *WSHub, arch archive.Archiver) *Service {
	return &Service{contract: c, hub: hub, archiver: arch}
}

// Routes builds the /api/v1 router. requireAuth wraps every mutating route
// and must place the verified caller in the request context.
func (s *Service) Routes(requireAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Get("/admin", s.GetAdmin)
	r.Get("/oracle", s.GetOracle)
	r.Get("/rounds/active", s.GetActiveRound)
	r.Get("/predictions", s.GetPredictions)
	r.Route("/users/{address}", func(r chi.Router) {
		r.Get("/balance", s.GetBalance)
		r.Get("/stats", s.GetStats)
		r.Get("/pending", s.GetPending)
		r.Get("/position", s.GetPosition)
		r.Get("/prediction", s.GetPrediction)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/initialize", s.Initialize)
		r.Post("/mint", s.Mint)
		r.Post("/rounds", s.CreateRound)
		r.Post("/bets", s.PlaceBet)
		r.Post("/predictions", s.PredictPrice)
		r.Post("/resolve", s.Resolve)
		r.Post("/claim", s.Claim)
	})

	return r
}

// --- Request/Response types ---

// InitializeRequest is the JSON body for POST /initialize.
type InitializeRequest struct {
	Admin  string `json:"admin"`
	Oracle string `json:"oracle"`
}

// UserRequest is the JSON body for POST /mint and POST /claim. User
// defaults to the authenticated caller.
type UserRequest struct {
	User string `json:"user,omitempty"`
}

// CreateRoundRequest is the JSON body for POST /rounds.
type CreateRoundRequest struct {
	StartPrice decimal.Decimal  `json:"start_price"`
	Duration   uint32           `json:"duration"` // ledgers
	Mode       *model.RoundMode `json:"mode,omitempty"`
}

// BetRequest is the JSON body for POST /bets.
type BetRequest struct {
	User   string          `json:"user,omitempty"`
	Amount decimal.Decimal `json:"amount"`
	Side   model.BetSide   `json:"side"`
}

// PredictionRequest is the JSON body for POST /predictions.
type PredictionRequest struct {
	User           string          `json:"user,omitempty"`
	PredictedPrice decimal.Decimal `json:"predicted_price"` // 4-decimal scale
	Amount         decimal.Decimal `json:"amount"`
}

// ResolveRequest is the JSON body for POST /resolve.
type ResolveRequest struct {
	FinalPrice decimal.Decimal `json:"final_price"`
}

// RolesResponse is returned from POST /initialize.
type RolesResponse struct {
	Admin  model.Address `json:"admin"`
	Oracle model.Address `json:"oracle"`
}

// AddressResponse is returned from GET /admin and GET /oracle.
type AddressResponse struct {
	Address model.Address `json:"address"`
}

// BalanceResponse is returned from balance, mint, pending and claim calls.
type BalanceResponse struct {
	User   model.Address   `json:"user"`
	Amount decimal.Decimal `json:"amount"`
}

// --- Mutating handlers ---

// Initialize handles POST /api/v1/initialize.
func (s *Service) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if !decode(w, r, &req) {
		return
	}
	admin, err := auth.ParseAddress(req.Admin)
	if err != nil {
		writeError(w, fmt.Errorf("admin: %w", err))
		return
	}
	oracle, err := auth.ParseAddress(req.Oracle)
	if err != nil {
		writeError(w, fmt.Errorf("oracle: %w", err))
		return
	}
	if err := s.contract.Initialize(r.Context(), admin, oracle); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RolesResponse{Admin: admin, Oracle: oracle})
}

// Mint handles POST /api/v1/mint.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	user, err := caller(r, req.User)
	if err != nil {
		writeError(w, err)
		return
	}
	bal, err := s.contract.MintInitial(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{User: user, Amount: bal})
}

// CreateRound handles POST /api/v1/rounds.
func (s *Service) CreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	if !decode(w, r, &req) {
		return
	}
	round, err := s.contract.CreateRound(r.Context(), req.StartPrice, req.Duration, req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.RoundsCreated.WithLabelValues(round.Mode.String()).Inc()
	s.broadcast(Event{Type: EventRoundCreated, Round: round})

	writeJSON(w, http.StatusCreated, round)
}

// PlaceBet handles POST /api/v1/bets.
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := caller(r, req.User)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.contract.PlaceBet(r.Context(), user, req.Amount, req.Side); err != nil {
		writeError(w, err)
		return
	}

	metrics.BetsTotal.WithLabelValues(string(req.Side)).Inc()
	metrics.StakeVolume.WithLabelValues(string(req.Side)).Add(req.Amount.InexactFloat64())
	s.broadcast(Event{Type: EventBetPlaced, User: user, Side: req.Side, Amount: req.Amount.String()})

	writeJSON(w, http.StatusCreated, model.UserPosition{Amount: req.Amount, Side: req.Side})
}

// PredictPrice handles POST /api/v1/predictions.
func (s *Service) PredictPrice(w http.ResponseWriter, r *http.Request) {
	var req PredictionRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := caller(r, req.User)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.contract.PredictPrice(r.Context(), user, req.PredictedPrice, req.Amount); err != nil {
		writeError(w, err)
		return
	}

	metrics.BetsTotal.WithLabelValues("PRECISION").Inc()
	metrics.StakeVolume.WithLabelValues("PRECISION").Add(req.Amount.InexactFloat64())
	s.broadcast(Event{
		Type:           EventPredictionPlaced,
		User:           user,
		Amount:         req.Amount.String(),
		PredictedPrice: req.PredictedPrice.String(),
	})

	writeJSON(w, http.StatusCreated, model.PrecisionPrediction{
		User:           user,
		PredictedPrice: req.PredictedPrice,
		Amount:         req.Amount,
	})
}

// Resolve handles POST /api/v1/resolve. The receipt is archived after the
// settlement commits; an archive failure is logged and does not fail the
// request.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := s.contract.ResolveRound(r.Context(), req.FinalPrice)
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.RoundsResolved.WithLabelValues(string(st.Outcome)).Inc()
	for _, p := range st.Payouts {
		metrics.PayoutVolume.WithLabelValues(string(p.Kind)).Add(p.Amount.InexactFloat64())
	}
	metrics.SettlementDust.Add(st.Dust.InexactFloat64())

	s.archive(r.Context(), st)
	s.broadcast(Event{Type: EventRoundResolved, Settlement: st})

	writeJSON(w, http.StatusOK, st)
}

// Claim handles POST /api/v1/claim.
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	user, err := caller(r, req.User)
	if err != nil {
		writeError(w, err)
		return
	}
	claimed, err := s.contract.ClaimWinnings(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	if claimed.IsPositive() {
		metrics.ClaimsTotal.Inc()
		s.broadcast(Event{Type: EventWinningsClaimed, User: user, Amount: claimed.String()})
	}
	writeJSON(w, http.StatusOK, BalanceResponse{User: user, Amount: claimed})
}

// --- Queries ---

// GetAdmin handles GET /api/v1/admin.
func (s *Service) GetAdmin(w http.ResponseWriter, r *http.Request) {
	addr, ok, err := s.contract.GetAdmin(r.Context())
	s.writeRole(w, addr, ok, err, contract.ErrAdminNotSet)
}

// GetOracle handles GET /api/v1/oracle.
func (s *Service) GetOracle(w http.ResponseWriter, r *http.Request) {
	addr, ok, err := s.contract.GetOracle(r.Context())
	s.writeRole(w, addr, ok, err, contract.ErrOracleNotSet)
}

func (s *Service) writeRole(w http.ResponseWriter, addr model.Address, ok bool, err error, notSet error) {
	switch {
	case err != nil:
		writeError(w, err)
	case !ok:
		writeError(w, notSet)
	default:
		writeJSON(w, http.StatusOK, AddressResponse{Address: addr})
	}
}

// GetActiveRound handles GET /api/v1/rounds/active.
func (s *Service) GetActiveRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.contract.GetActiveRound(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if round == nil {
		writeError(w, contract.ErrNoActiveRound)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// GetPredictions handles GET /api/v1/predictions.
func (s *Service) GetPredictions(w http.ResponseWriter, r *http.Request) {
	preds, err := s.contract.GetPrecisionPredictions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preds)
}

// GetBalance handles GET /api/v1/users/{address}/balance.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	s.writeAmount(w, r, s.contract.Balance)
}

// GetPending handles GET /api/v1/users/{address}/pending.
func (s *Service) GetPending(w http.ResponseWriter, r *http.Request) {
	s.writeAmount(w, r, s.contract.GetPendingWinnings)
}

func (s *Service) writeAmount(w http.ResponseWriter, r *http.Request, read func(context.Context, model.Address) (decimal.Decimal, error)) {
	user, err := pathAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}
	amt, err := read(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{User: user, Amount: amt})
}

// GetStats handles GET /api/v1/users/{address}/stats.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.contract.GetUserStats(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetPosition handles GET /api/v1/users/{address}/position.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pos, err := s.contract.GetUserPosition(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	if pos == nil {
		writeError(w, fmt.Errorf("position: %w", errNotFound))
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetPrediction handles GET /api/v1/users/{address}/prediction.
func (s *Service) GetPrediction(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pred, err := s.contract.GetUserPrecisionPrediction(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	if pred == nil {
		writeError(w, fmt.Errorf("prediction: %w", errNotFound))
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// ActiveRoundValue reports 1 while the store holds a round and 0 otherwise.
// It backs the xelma_active_round gauge; NaN means the store could not be read.
func (s *Service) ActiveRoundValue() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	round, err := s.contract.GetActiveRound(ctx)
	if err != nil {
		slog.Warn("active round gauge: read failed", "err", err)
		return math.NaN()
	}
	if round == nil {
		return 0
	}
	return 1
}

// --- helpers ---

func (s *Service) broadcast(ev Event) {
	if s.hub != nil {
		s.hub.Broadcast(ev)
	}
}

func (s *Service) archive(ctx context.Context, st *model.Settlement) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.Archive(context.WithoutCancel(ctx), st); err != nil {
		metrics.ArchiveFailures.Inc()
		slog.Error("settlement archive failed", "id", st.ID, "err", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, auth.MaxBodyBytes)).Decode(dst); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errInvalidBody, err))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, auth.MaxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, fmt.Errorf("%w: %v", errInvalidBody, err))
		return false
	}
	return true
}

// caller returns the principal a mutating call acts for: the explicit
// address when given, otherwise the first authenticated signer.
func caller(r *http.Request, explicit string) (model.Address, error) {
	if explicit != "" {
		return auth.ParseAddress(explicit)
	}
	signers := auth.Signers(r.Context())
	if len(signers) == 0 {
		return "", fmt.Errorf("%w: no authenticated caller", auth.ErrUnauthorized)
	}
	return signers[0], nil
}

func pathAddress(r *http.Request) (model.Address, error) {
	return auth.ParseAddress(chi.URLParam(r, "address"))
}
