package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/xelma/round-engine/internal/api"
	"github.com/xelma/round-engine/internal/auth"
	"github.com/xelma/round-engine/internal/contract"
	"github.com/xelma/round-engine/internal/ledger"
	"github.com/xelma/round-engine/internal/model"
	"github.com/xelma/round-engine/internal/store"
)

func n(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type recordingArchiver struct {
	mu   sync.Mutex
	seen []*model.Settlement
}

func (a *recordingArchiver) Archive(_ context.Context, s *model.Settlement) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, s)
	return nil
}

type testEnv struct {
	t        *testing.T
	router   chi.Router
	svc      *api.Service
	st       *store.MemoryStore
	clock    *ledger.ManualClock
	archiver *recordingArchiver
	nonce    atomic.Int64

	admin, oracle, alice, bob *auth.Signer
}

func newSigner(t *testing.T) *auth.Signer {
	t.Helper()
	s, err := auth.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	return s
}

// newTestEnv wires the service exactly as the server does, with signature
// auth and an in-memory store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := ledger.NewManualClock(100)
	st := store.NewMemoryStore()
	c := contract.New(st, auth.ContextAuthorizer{}, clock)
	arch := &recordingArchiver{}
	svc := api.NewService(c, nil, arch)

	v := auth.NewVerifier(time.Minute, auth.NewMemoryNonceGuard())
	r := chi.NewRouter()
	r.Mount("/api/v1", svc.Routes(auth.Middleware(v)))

	e := &testEnv{
		t:        t,
		router:   r,
		svc:      svc,
		st:       st,
		clock:    clock,
		archiver: arch,
		admin:    newSigner(t),
		oracle:   newSigner(t),
		alice:    newSigner(t),
		bob:      newSigner(t),
	}
	e.nonce.Store(time.Now().UnixMilli())
	return e
}

// do sends a request signed by s; a nil signer sends it unsigned.
func (e *testEnv) do(s *auth.Signer, method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if s != nil {
		if err := s.SignRequest(req, raw, e.nonce.Add(1)); err != nil {
			e.t.Fatalf("sign: %v", err)
		}
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) expect(w *httptest.ResponseRecorder, status int, dst any) {
	e.t.Helper()
	if w.Code != status {
		e.t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	if dst != nil {
		if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
			e.t.Fatalf("decode response: %v", err)
		}
	}
}

func (e *testEnv) expectError(w *httptest.ResponseRecorder, status int, code uint32) {
	e.t.Helper()
	var resp api.ErrorResponse
	e.expect(w, status, &resp)
	if resp.Code != code {
		e.t.Errorf("expected code %d, got %d (%s)", code, resp.Code, resp.Error)
	}
}

// ready initializes roles and mints the user signers.
func (e *testEnv) ready() {
	e.t.Helper()
	e.expect(e.do(e.admin, "POST", "/api/v1/initialize", api.InitializeRequest{
		Admin:  string(e.admin.Address()),
		Oracle: string(e.oracle.Address()),
	}), http.StatusCreated, nil)
	for _, s := range []*auth.Signer{e.alice, e.bob} {
		e.expect(e.do(s, "POST", "/api/v1/mint", nil), http.StatusOK, nil)
	}
}

func (e *testEnv) amount(path string) decimal.Decimal {
	e.t.Helper()
	var resp api.BalanceResponse
	e.expect(e.do(nil, "GET", path, nil), http.StatusOK, &resp)
	return resp.Amount
}

func TestActiveRoundValue_FollowsStore(t *testing.T) {
	e := newTestEnv(t)
	e.ready()
	// A second instance over the same store, as after a restart.
	other := api.NewService(contract.New(e.st, auth.ContextAuthorizer{}, e.clock), nil, nil)

	if v := e.svc.ActiveRoundValue(); v != 0 {
		t.Fatalf("expected 0 before any round, got %v", v)
	}
	e.expect(e.do(e.admin, "POST", "/api/v1/rounds", api.CreateRoundRequest{
		StartPrice: n(1_0000000),
		Duration:   10,
	}), http.StatusCreated, nil)
	if v := other.ActiveRoundValue(); v != 1 {
		t.Errorf("expected 1 from a fresh instance while a round is open, got %v", v)
	}

	e.expect(e.do(e.oracle, "POST", "/api/v1/resolve", api.ResolveRequest{FinalPrice: n(1_0000000)}), http.StatusOK, nil)
	if v := other.ActiveRoundValue(); v != 0 {
		t.Errorf("expected 0 after resolve, got %v", v)
	}
}

func TestRoundLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.ready()

	var round model.Round
	e.expect(e.do(e.admin, "POST", "/api/v1/rounds", api.CreateRoundRequest{
		StartPrice: n(1_0000000),
		Duration:   10,
	}), http.StatusCreated, &round)
	if round.EndLedger != 110 || round.Mode != model.ModeUpDown {
		t.Fatalf("unexpected round %+v", round)
	}

	e.expect(e.do(e.alice, "POST", "/api/v1/bets", api.BetRequest{Amount: n(100), Side: model.SideUp}), http.StatusCreated, nil)
	e.expect(e.do(e.bob, "POST", "/api/v1/bets", api.BetRequest{Amount: n(50), Side: model.SideDown}), http.StatusCreated, nil)

	var pos model.UserPosition
	e.expect(e.do(nil, "GET", "/api/v1/users/"+string(e.alice.Address())+"/position", nil), http.StatusOK, &pos)
	if pos.Side != model.SideUp || !pos.Amount.Equal(n(100)) {
		t.Errorf("position = %+v", pos)
	}

	e.clock.Advance(10)
	var st model.Settlement
	e.expect(e.do(e.oracle, "POST", "/api/v1/resolve", api.ResolveRequest{FinalPrice: n(1_5000000)}), http.StatusOK, &st)
	if st.Outcome != model.OutcomeUp || len(st.Payouts) != 1 || !st.Payouts[0].Amount.Equal(n(150)) {
		t.Fatalf("settlement = %+v", st)
	}
	if len(e.archiver.seen) != 1 || e.archiver.seen[0].ID != st.ID {
		t.Errorf("expected receipt %s archived, got %d receipts", st.ID, len(e.archiver.seen))
	}

	alicePath := "/api/v1/users/" + string(e.alice.Address())
	if got := e.amount(alicePath + "/pending"); !got.Equal(n(150)) {
		t.Errorf("pending = %s, want 150", got)
	}

	var claimed api.BalanceResponse
	e.expect(e.do(e.alice, "POST", "/api/v1/claim", nil), http.StatusOK, &claimed)
	if !claimed.Amount.Equal(n(150)) {
		t.Errorf("claimed = %s", claimed.Amount)
	}
	want := contract.FaucetAmount.Add(n(50))
	if got := e.amount(alicePath + "/balance"); !got.Equal(want) {
		t.Errorf("balance = %s, want %s", got, want)
	}

	var stats model.UserStats
	e.expect(e.do(nil, "GET", alicePath+"/stats", nil), http.StatusOK, &stats)
	if stats.TotalWins != 1 || stats.CurrentStreak != 1 {
		t.Errorf("alice stats = %+v", stats)
	}

	e.expectError(e.do(nil, "GET", "/api/v1/rounds/active", nil), http.StatusNotFound, contract.ErrNoActiveRound.Code)
}

func TestPrecisionRoundIsVoided(t *testing.T) {
	e := newTestEnv(t)
	e.ready()

	mode := model.ModePrecision
	e.expect(e.do(e.admin, "POST", "/api/v1/rounds", api.CreateRoundRequest{
		StartPrice: n(2297),
		Duration:   5,
		Mode:       &mode,
	}), http.StatusCreated, nil)

	e.expect(e.do(e.alice, "POST", "/api/v1/predictions", api.PredictionRequest{PredictedPrice: n(2300), Amount: n(40)}), http.StatusCreated, nil)
	e.expect(e.do(e.bob, "POST", "/api/v1/predictions", api.PredictionRequest{PredictedPrice: n(2250), Amount: n(60)}), http.StatusCreated, nil)

	e.expectError(e.do(e.alice, "POST", "/api/v1/bets", api.BetRequest{Amount: n(1), Side: model.SideUp}),
		http.StatusBadRequest, contract.ErrWrongModeForPrediction.Code)

	var preds []model.PrecisionPrediction
	e.expect(e.do(nil, "GET", "/api/v1/predictions", nil), http.StatusOK, &preds)
	if len(preds) != 2 || preds[0].User != e.alice.Address() {
		t.Fatalf("predictions = %+v", preds)
	}

	var st model.Settlement
	e.expect(e.do(e.oracle, "POST", "/api/v1/resolve", api.ResolveRequest{FinalPrice: n(2298)}), http.StatusOK, &st)
	if st.Outcome != model.OutcomeVoid {
		t.Errorf("outcome = %s", st.Outcome)
	}
	if got := e.amount("/api/v1/users/" + string(e.bob.Address()) + "/pending"); !got.Equal(n(60)) {
		t.Errorf("bob refund = %s", got)
	}
}

func TestMutationsRequireSignature(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/v1/initialize", "/api/v1/mint", "/api/v1/rounds", "/api/v1/bets", "/api/v1/predictions", "/api/v1/resolve", "/api/v1/claim"} {
		if w := e.do(nil, "POST", path, nil); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}
}

func TestAuthorizationErrors(t *testing.T) {
	e := newTestEnv(t)
	e.ready()

	e.expectError(e.do(e.alice, "POST", "/api/v1/rounds", api.CreateRoundRequest{StartPrice: n(1), Duration: 1}),
		http.StatusForbidden, contract.ErrUnauthorizedAdmin.Code)

	e.expect(e.do(e.admin, "POST", "/api/v1/rounds", api.CreateRoundRequest{StartPrice: n(1), Duration: 1}), http.StatusCreated, nil)

	// alice signs a bet on bob's behalf
	w := e.do(e.alice, "POST", "/api/v1/bets", api.BetRequest{User: string(e.bob.Address()), Amount: n(1), Side: model.SideUp})
	e.expect(w, http.StatusForbidden, nil)

	e.expectError(e.do(e.admin, "POST", "/api/v1/resolve", api.ResolveRequest{FinalPrice: n(2)}),
		http.StatusForbidden, contract.ErrUnauthorizedOracle.Code)
}

func TestContractErrorMapping(t *testing.T) {
	e := newTestEnv(t)

	e.expectError(e.do(nil, "GET", "/api/v1/admin", nil), http.StatusConflict, contract.ErrAdminNotSet.Code)

	e.ready()
	e.expectError(e.do(e.admin, "POST", "/api/v1/initialize", api.InitializeRequest{
		Admin:  string(e.admin.Address()),
		Oracle: string(e.oracle.Address()),
	}), http.StatusConflict, contract.ErrAlreadyInitialized.Code)

	e.expectError(e.do(e.alice, "POST", "/api/v1/bets", api.BetRequest{Amount: n(1), Side: model.SideUp}),
		http.StatusNotFound, contract.ErrNoActiveRound.Code)

	e.expectError(e.do(e.admin, "POST", "/api/v1/rounds", api.CreateRoundRequest{StartPrice: n(1), Duration: 0}),
		http.StatusBadRequest, contract.ErrInvalidDuration.Code)

	e.expect(e.do(e.admin, "POST", "/api/v1/rounds", api.CreateRoundRequest{StartPrice: n(1), Duration: 3}), http.StatusCreated, nil)

	e.expectError(e.do(e.alice, "POST", "/api/v1/bets", api.BetRequest{Amount: n(0), Side: model.SideUp}),
		http.StatusBadRequest, contract.ErrInvalidBetAmount.Code)
	e.expectError(e.do(e.alice, "POST", "/api/v1/bets", api.BetRequest{Amount: contract.FaucetAmount.Add(n(1)), Side: model.SideUp}),
		http.StatusConflict, contract.ErrInsufficientBalance.Code)

	e.expect(e.do(e.alice, "POST", "/api/v1/bets", api.BetRequest{Amount: n(5), Side: model.SideDown}), http.StatusCreated, nil)
	e.expectError(e.do(e.alice, "POST", "/api/v1/bets", api.BetRequest{Amount: n(5), Side: model.SideDown}),
		http.StatusConflict, contract.ErrAlreadyBet.Code)

	e.clock.Advance(3)
	e.expectError(e.do(e.bob, "POST", "/api/v1/bets", api.BetRequest{Amount: n(5), Side: model.SideUp}),
		http.StatusConflict, contract.ErrRoundEnded.Code)

	var admin api.AddressResponse
	e.expect(e.do(nil, "GET", "/api/v1/admin", nil), http.StatusOK, &admin)
	if admin.Address != e.admin.Address() {
		t.Errorf("admin = %s", admin.Address)
	}
}

func TestRequestValidation(t *testing.T) {
	e := newTestEnv(t)
	e.ready()

	e.expect(e.do(nil, "GET", "/api/v1/users/not-an-address/balance", nil), http.StatusBadRequest, nil)
	e.expect(e.do(nil, "GET", "/api/v1/users/"+string(e.alice.Address())+"/position", nil), http.StatusNotFound, nil)

	raw := []byte(`{"start_price":`)
	req := httptest.NewRequest("POST", "/api/v1/rounds", bytes.NewReader(raw))
	if err := e.admin.SignRequest(req, raw, e.nonce.Add(1)); err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	e.expect(w, http.StatusBadRequest, nil)

	var resp api.BalanceResponse
	e.expect(e.do(e.alice, "POST", "/api/v1/mint", api.UserRequest{}), http.StatusOK, &resp)
	if !resp.Amount.Equal(contract.FaucetAmount) || resp.User != e.alice.Address() {
		t.Errorf("repeat mint = %+v", resp)
	}

	var nothing api.BalanceResponse
	e.expect(e.do(e.bob, "POST", "/api/v1/claim", nil), http.StatusOK, &nothing)
	if !nothing.Amount.IsZero() {
		t.Errorf("claim with nothing pending = %s", nothing.Amount)
	}
}

func TestWSHub_BroadcastsEvents(t *testing.T) {
	hub := api.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(api.Event{Type: api.EventBetPlaced, User: "0xabc", Side: model.SideUp, Amount: "100"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev api.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != api.EventBetPlaced || ev.Amount != "100" || ev.Side != model.SideUp {
		t.Errorf("event = %+v", ev)
	}
}
