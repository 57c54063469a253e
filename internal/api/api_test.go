package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody-ledger/internal/chain"
	"custody-ledger/internal/config"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/exchange"
	"custody-ledger/internal/ledger"
	"custody-ledger/internal/provider/stub"
	"custody-ledger/internal/reconciler"
	"custody-ledger/internal/storage"
	"custody-ledger/internal/storage/memory"
	"custody-ledger/internal/withdrawal"
)

const (
	btcAddr      = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	ethAddr      = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	adminKey     = "admin-secret"
	watcherKey   = "watcher-secret"
	processorKey = "processor-secret"
)

type testEnv struct {
	router  *gin.Engine
	ledger  *ledger.Ledger
	rates   *stub.RateOracle
	kyc     *stub.KYCProvider
	payouts *stub.PayoutProcessor
}

func newTestEnv(t *testing.T, limit RateLimitConfig) *testEnv {
	t.Helper()

	policy, err := config.DefaultPolicy()
	require.NoError(t, err)
	chains, err := chain.NewRegistry(policy.Assets, policy.Networks)
	require.NoError(t, err)
	feeRegistry, err := policy.FeeRegistry()
	require.NoError(t, err)

	now := func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) }
	logger := log.New(&bytes.Buffer{}, "", 0)
	history := memory.NewHistoryStore()

	l, err := ledger.New(ledger.Options{
		Store:  memory.NewLedgerStore(policy.BalanceFloors()),
		Assets: chains,
		Sink:   history,
		Logger: logger,
		Now:    now,
	})
	require.NoError(t, err)

	env := &testEnv{
		ledger:  l,
		rates:   stub.NewRateOracle().Set("USDT", "USD", "1").Set("BTC", "ETH", "20"),
		kyc:     stub.NewKYCProvider().SetTier("u1", 1),
		payouts: stub.NewPayoutProcessor(),
	}

	rec, err := reconciler.New(reconciler.Options{
		Ledger:    l,
		Deposits:  memory.NewDepositStore(),
		Addresses: memory.NewDepositAddressStore(),
		Reversals: memory.NewReversalStore(),
		Chains:    chains,
		Fees:      feeRegistry,
		Logger:    logger,
		Now:       now,
	})
	require.NoError(t, err)

	svc, err := withdrawal.New(withdrawal.Options{
		Ledger:      l,
		Withdrawals: memory.NewWithdrawalStore(),
		Chains:      chains,
		Fees:        feeRegistry,
		Tiers:       policy.TierPolicies(),
		KYC:         env.kyc,
		Rates:       env.rates,
		Payouts:     env.payouts,
		Logger:      logger,
		Now:         now,
	})
	require.NoError(t, err)

	engine, err := exchange.New(exchange.Options{
		Ledger:  l,
		Bridges: memory.NewBridgeStore(),
		Chains:  chains,
		Fees:    feeRegistry,
		Logger:  logger,
		Now:     now,
	})
	require.NoError(t, err)

	srv, err := New(Options{
		Ledger:      l,
		Reconciler:  rec,
		Withdrawals: svc,
		Exchange:    engine,
		Chains:      chains,
		Rates:       env.rates,
		History:     history,
		Keys:        Keys{Admin: adminKey, Watcher: watcherKey, Processor: processorKey},
		RateLimit:   limit,
		Status:      func() map[string]interface{} { return map[string]interface{}{"watcher_connected": true} },
		Logger:      logger,
		Now:         now,
	})
	require.NoError(t, err)
	env.router = srv.Router()
	return env
}

func (e *testEnv) fund(t *testing.T, userID string, asset domain.AssetCode, units int64) {
	t.Helper()
	_, err := e.ledger.Reward(context.Background(), userID, asset, units, fmt.Sprintf("fund:%s:%s", userID, asset), "")
	require.NoError(t, err)
}

// do sends a request and decodes the envelope.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (int, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

// dataMap re-decodes resp.Data as an object.
func dataMap(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	m, isMap := resp.Data.(map[string]interface{})
	require.True(t, isMap, "data is %T", resp.Data)
	return m
}

func user(id string) map[string]string { return map[string]string{"X-User-ID": id} }

func key(k string) map[string]string { return map[string]string{"X-API-Key": k} }

func TestHealthAndNetworks(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})

	code, _ := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp := env.do(t, http.MethodGet, "/status", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, dataMap(t, resp)["watcher_connected"])

	code, resp = env.do(t, http.MethodGet, "/api/v1/networks", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	networks, isList := resp.Data.([]interface{})
	require.True(t, isList)
	assert.Len(t, networks, 8)
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})

	code, resp := env.do(t, http.MethodGet, "/api/v1/balances", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "X-User-ID header is required", resp.Error)

	code, _ = env.do(t, http.MethodPost, "/api/v1/watcher/observations", map[string]string{}, key("wrong"))
	assert.Equal(t, http.StatusUnauthorized, code)

	// The watcher key does not open the admin group.
	code, _ = env.do(t, http.MethodGet, "/api/v1/admin/reversals", nil, key(watcherKey))
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/payouts/result", map[string]string{}, key(adminKey))
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestDepositFlow(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})

	code, _ := env.do(t, http.MethodPost, "/api/v1/admin/deposit-addresses",
		map[string]string{"network": "bitcoin", "address": btcAddr, "user_id": "u1"}, key(adminKey))
	require.Equal(t, http.StatusCreated, code)

	obs := func(conf int64) reconciler.Observation {
		return reconciler.Observation{
			Network: "bitcoin", TxHash: "tx1", ToAddress: btcAddr,
			Asset: "BTC", Amount: "1", Confirmations: conf,
		}
	}

	code, resp := env.do(t, http.MethodPost, "/api/v1/watcher/observations", obs(2), key(watcherKey))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "confirming", dataMap(t, resp)["status"])

	code, resp = env.do(t, http.MethodPost, "/api/v1/watcher/observations", obs(3), key(watcherKey))
	require.Equal(t, http.StatusOK, code)
	d := dataMap(t, resp)
	assert.Equal(t, "credited", d["status"])
	assert.Equal(t, "0.99000000", d["amount_credited"])
	assert.Equal(t, "https://blockchair.com/bitcoin/transaction/tx1", d["tx_url"])

	code, resp = env.do(t, http.MethodGet, "/api/v1/balances", nil, user("u1"))
	require.Equal(t, http.StatusOK, code)
	balances := resp.Data.([]interface{})
	require.Len(t, balances, 1)
	assert.Equal(t, "0.99000000", balances[0].(map[string]interface{})["available"])

	code, resp = env.do(t, http.MethodGet, "/api/v1/history?type=deposit", nil, user("u1"))
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data.([]interface{}), 1)

	// Unknown address maps to 404.
	bad := obs(3)
	bad.TxHash, bad.ToAddress = "tx2", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy"
	code, _ = env.do(t, http.MethodPost, "/api/v1/watcher/observations", bad, key(watcherKey))
	assert.Equal(t, http.StatusNotFound, code)

	// A reorg after credit answers 409 with the proposal.
	inv := reconciler.Invalidation{Network: "bitcoin", TxHash: "tx1", ToAddress: btcAddr, Reason: "reorg"}
	code, resp = env.do(t, http.MethodPost, "/api/v1/watcher/invalidations", inv, key(watcherKey))
	assert.Equal(t, http.StatusConflict, code)
	proposal := dataMap(t, resp)
	assert.Equal(t, "pending", proposal["status"])

	code, resp = env.do(t, http.MethodGet, "/api/v1/admin/reversals", nil, key(adminKey))
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Data.([]interface{}), 1)

	code, resp = env.do(t, http.MethodPost, "/api/v1/admin/reversals/"+proposal["id"].(string)+"/approve",
		map[string]string{"reviewer": "ops"}, key(adminKey))
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, dataMap(t, resp)["entries"], 5)

	code, resp = env.do(t, http.MethodGet, "/api/v1/balances", nil, user("u1"))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0.00000000", resp.Data.([]interface{})[0].(map[string]interface{})["available"])

	// Fee pools were credited and then reversed, leaving gross credits in the summary.
	code, resp = env.do(t, http.MethodGet, "/api/v1/admin/fees/summary", nil, key(adminKey))
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data.([]interface{}), 3)
}

func TestSwap_Idempotent(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})
	env.fund(t, "u1", "BTC", 100000000)

	headers := map[string]string{"X-User-ID": "u1", "Idempotency-Key": "k1"}
	body := map[string]string{"from_asset": "BTC", "to_asset": "ETH", "amount": "0.5"}

	code, resp := env.do(t, http.MethodPost, "/api/v1/swaps", body, headers)
	require.Equal(t, http.StatusOK, code, resp.Error)
	first := dataMap(t, resp)
	assert.Equal(t, float64(9900000000), first["to_units"])
	assert.Equal(t, false, first["replayed"])

	code, resp = env.do(t, http.MethodPost, "/api/v1/swaps", body, headers)
	require.Equal(t, http.StatusOK, code)
	second := dataMap(t, resp)
	assert.Equal(t, true, second["replayed"])
	assert.Equal(t, first["to_units"], second["to_units"])

	bal, err := env.ledger.Balance(context.Background(), domain.UserAccount("u1", "BTC", domain.AccountMain))
	require.NoError(t, err)
	assert.Equal(t, int64(50000000), bal.Units)

	// Unknown target asset.
	body["to_asset"] = "DOGE"
	code, _ = env.do(t, http.MethodPost, "/api/v1/swaps", body, user("u1"))
	assert.Equal(t, http.StatusBadRequest, code)

	// No rate available.
	body["to_asset"] = "SOL"
	code, _ = env.do(t, http.MethodPost, "/api/v1/swaps", body, user("u1"))
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestWithdrawalFlow(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})
	env.fund(t, "u1", "USDT", 10000000000)

	in := map[string]string{"asset": "USDT", "amount": "6000", "destination_address": ethAddr, "network": "ethereum"}
	code, resp := env.do(t, http.MethodPost, "/api/v1/withdrawals", in, user("u1"))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "amount $6000.00 exceeds the maximum of $5000.00", resp.Error)

	code, resp = env.do(t, http.MethodGet, "/api/v1/withdrawals/limits?asset=USDT&amount=6000", nil, user("u1"))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, dataMap(t, resp)["allowed"])

	in["amount"] = "100"
	code, resp = env.do(t, http.MethodPost, "/api/v1/withdrawals", in, user("u1"))
	require.Equal(t, http.StatusCreated, code, resp.Error)
	w := dataMap(t, resp)
	assert.Equal(t, "approved", w["status"])
	id := w["id"].(string)

	// Another user cannot read it.
	code, _ = env.do(t, http.MethodGet, "/api/v1/withdrawals/"+id, nil, user("u2"))
	assert.Equal(t, http.StatusNotFound, code)

	result := domain.PayoutResult{WithdrawalID: id, TxHash: "0xabc", Success: true}
	code, resp = env.do(t, http.MethodPost, "/api/v1/payouts/result", result, key(processorKey))
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, "completed", dataMap(t, resp)["status"])

	// Completed withdrawals cannot be rejected.
	code, _ = env.do(t, http.MethodPost, "/api/v1/admin/withdrawals/"+id+"/reject", nil, key(adminKey))
	assert.Equal(t, http.StatusConflict, code)

	code, resp = env.do(t, http.MethodGet, "/api/v1/withdrawals", nil, user("u1"))
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data.([]interface{}), 1)
}

func TestBridge(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{})
	env.fund(t, "u1", "USDT", 2000000000)

	body := map[string]string{
		"asset": "USDT", "amount": "1000", "from_chain": "ethereum",
		"to_chain": "polygon", "destination_address": ethAddr,
	}
	headers := map[string]string{"X-User-ID": "u1", "Idempotency-Key": "b1"}
	code, resp := env.do(t, http.MethodPost, "/api/v1/bridges", body, headers)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	transfer := dataMap(t, resp)["transfer"].(map[string]interface{})
	id := transfer["id"].(string)
	assert.Equal(t, "999.000000", transfer["net_amount"])

	code, _ = env.do(t, http.MethodPost, "/api/v1/bridges", body, headers)
	assert.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodGet, "/api/v1/bridges/"+id, nil, user("u2"))
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = env.do(t, http.MethodPost, "/api/v1/admin/bridges/"+id+"/observation",
		map[string]interface{}{"dest_tx_hash": "0xdest", "confirmations": 128}, key(adminKey))
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, "credited", dataMap(t, resp)["status"])

	code, _ = env.do(t, http.MethodPost, "/api/v1/admin/bridges/"+id+"/fail",
		map[string]string{"reason": "late"}, key(adminKey))
	assert.Equal(t, http.StatusConflict, code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		code, _ := env.do(t, http.MethodGet, "/api/v1/networks", nil, nil)
		assert.Equal(t, http.StatusOK, code)
	}
	// The clock is frozen, so the bucket never refills.
	code, resp := env.do(t, http.MethodGet, "/api/v1/networks", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "too many requests", resp.Error)

	// Health checks are outside the limited group.
	code, _ = env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.LimitError{Kind: domain.LimitDaily}, http.StatusUnprocessableEntity},
		{&domain.BalanceError{}, http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", domain.ErrReorgInvalidation), http.StatusConflict},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{fmt.Errorf("rate: %w", domain.ErrExternalServiceUnavailable), http.StatusServiceUnavailable},
		{domain.ErrUnknownDepositAddress, http.StatusNotFound},
		{storage.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidAddress, http.StatusBadRequest},
		{domain.ErrAssetMismatch, http.StatusBadRequest},
		{domain.ErrInvalidPolicy, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
