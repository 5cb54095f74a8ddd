package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/addressing"
	"github.com/ayo6706/crypto-ledger/internal/api"
	"github.com/ayo6706/crypto-ledger/internal/api/middleware"
	"github.com/ayo6706/crypto-ledger/internal/config"
	"github.com/ayo6706/crypto-ledger/internal/gateway"
	"github.com/ayo6706/crypto-ledger/internal/idempotency"
	"github.com/ayo6706/crypto-ledger/internal/lock"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/oracle"
	"github.com/ayo6706/crypto-ledger/internal/service"
	"github.com/ayo6706/crypto-ledger/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "crypto-ledger-test"
	testJWTAudience = "crypto-ledger-api-test"
	testHMACKey     = "test"

	btcDestination = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	btcSource      = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
)

// sequentialAllocator hands out addresses from a fixed list in index order.
type sequentialAllocator []string

func (a sequentialAllocator) Allocate(_ context.Context, _ network.Network, index int64) (addressing.Allocation, error) {
	if int(index) >= len(a) {
		return addressing.Allocation{}, addressing.ErrPoolExhausted
	}
	return addressing.Allocation{Address: a[index], Index: index}, nil
}

type testAPI struct {
	router chi.Router
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	store := testutil.NewSQLiteStore(t)
	registry, err := network.Load("")
	require.NoError(t, err)

	rates := oracle.NewStatic(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(65_000)})
	broadcaster := gateway.NewMockBroadcaster(0)
	broadcaster.MaxDelay = 0
	allocator := sequentialAllocator{
		"bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
		"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy",
		"1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2",
	}

	ledger := service.NewLedger(store, lock.NewLocal())
	withdrawals := service.NewWithdrawalService(ledger, registry, broadcaster, rates)
	reconciler := service.NewReconciler(ledger, registry)
	svcs := api.Services{
		Accounts:    service.NewAccountService(store),
		Deposits:    service.NewDepositService(ledger, registry, allocator, rates),
		Withdrawals: withdrawals,
		Conversions: service.NewConversionService(ledger, registry, rates),
		Admin:       service.NewAdminService(ledger, withdrawals),
		Webhook:     service.NewWebhookService(reconciler, registry, testHMACKey, false),
	}
	cfg := &config.Config{
		HTTPPort:           "0",
		JWTSecret:          testJWTSecret,
		JWTIssuer:          testJWTIssuer,
		JWTAudience:        testJWTAudience,
		WebhookHMACKey:     testHMACKey,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		IdempotencyTTL:     time.Hour,
	}
	idemStore := idempotency.NewStore(nil, store.Queries(), cfg.IdempotencyTTL)
	router := api.NewRouter(cfg, zap.NewNop(), store.DB(), idemStore, nil, registry, svcs)
	return &testAPI{router: router.Routes()}
}

func generateTestToken(userID string) string {
	return generateTokenWithRole(userID, "user")
}

func generateTokenWithRole(userID, role string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"sub":     userID,
		"iat":     now.Unix(),
		"nbf":     now.Add(-30 * time.Second).Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString([]byte(testJWTSecret))
	return tokenString
}

func sign(body []byte) string {
	h := hmac.New(sha256.New, []byte(testHMACKey))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func (a *testAPI) do(t *testing.T, method, path, token, idemKey string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) confirm(t *testing.T, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/internal/confirmations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", sign(body))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// fund opens a BTC deposit for the user and confirms it through the webhook.
func (a *testAPI) fund(t *testing.T, token, amount string) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/deposits", token, uuid.NewString(), map[string]string{"network": "BTC", "amount": amount})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	address := decode(t, w)["address"].(string)

	hash, err := gateway.FakeChainHash("BTC")
	require.NoError(t, err)
	w = a.confirm(t, map[string]any{"network": "BTC", "tx_hash": hash, "confirmations": 3, "to_address": address})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "completed", decode(t, w)["outcome"])
}

func (a *testAPI) btcBalance(t *testing.T, token string) map[string]any {
	t.Helper()
	w := a.do(t, http.MethodGet, "/v1/balances", token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, b := range decode(t, w)["balances"].([]any) {
		bal := b.(map[string]any)
		if bal["network"] == "BTC" {
			return bal
		}
	}
	t.Fatalf("no BTC balance in %s", w.Body.String())
	return nil
}

func TestRFC7807ProblemDetails(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, http.MethodGet, "/v1/balances", "", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	body := decode(t, w)
	assert.NotEmpty(t, body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/v1/balances", body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestNetworksArePublic(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, http.MethodGet, "/v1/networks", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	codes := map[string]map[string]any{}
	for _, n := range body["networks"].([]any) {
		view := n.(map[string]any)
		codes[view["code"].(string)] = view
	}
	require.Contains(t, codes, "BTC")
	require.Contains(t, codes, "ETH")
	assert.EqualValues(t, 9, codes["ETH"]["decimals"])
	assert.EqualValues(t, 18, codes["ETH"]["native_decimals"])
	assert.Contains(t, codes["ETH"]["precision_note"], "0.000000001 ETH")
	assert.NotContains(t, codes["BTC"], "precision_note")
	assert.Equal(t, "USD", body["fiat"].(map[string]any)["code"])

	w = a.do(t, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = a.do(t, http.MethodGet, "/readyz", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDepositCompletesThroughWebhook(t *testing.T) {
	a := setupAPI(t)
	user := uuid.NewString()
	token := generateTestToken(user)

	w := a.do(t, http.MethodPost, "/v1/deposits", token, "dep-1", map[string]string{"network": "BTC", "amount": "0.01"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	address := body["address"].(string)
	assert.NotEmpty(t, address)
	tx := body["transaction"].(map[string]any)
	assert.Equal(t, "PENDING", tx["status"])
	assert.Equal(t, "0.01000000", tx["amount"])
	assert.Equal(t, "650.00", tx["usd_amount"])

	bal := a.btcBalance(t, token)
	assert.Equal(t, "0.01000000", bal["pending_deposit"])
	assert.Equal(t, "0.00000000", bal["available"])

	hash := "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	w = a.confirm(t, map[string]any{"network": "BTC", "tx_hash": hash, "confirmations": 1, "to_address": address})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "CONFIRMED", decode(t, w)["transaction"].(map[string]any)["status"])

	w = a.confirm(t, map[string]any{"network": "BTC", "tx_hash": hash, "confirmations": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", decode(t, w)["outcome"])

	bal = a.btcBalance(t, token)
	assert.Equal(t, "0.01000000", bal["available"])
	assert.Equal(t, "0.00000000", bal["pending_deposit"])

	w = a.do(t, http.MethodGet, "/v1/transactions/"+tx["id"].(string), token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode(t, w)
	assert.Equal(t, "COMPLETED", detail["transaction"].(map[string]any)["status"])
	assert.GreaterOrEqual(t, len(detail["history"].([]any)), 3)

	other := generateTestToken(uuid.NewString())
	w = a.do(t, http.MethodGet, "/v1/transactions/"+tx["id"].(string), other, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDepositValidation(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())

	w := a.do(t, http.MethodPost, "/v1/deposits", token, "", map[string]string{"network": "BTC", "amount": "0.01"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/v1/deposits", token, uuid.NewString(), map[string]string{"network": "DOGE", "amount": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/v1/deposits", token, uuid.NewString(), map[string]string{"network": "BTC", "amount": "0.00000001"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = a.do(t, http.MethodPost, "/v1/deposits", token, uuid.NewString(), map[string]string{"network": "BTC", "amount": "0.01", "memo": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/v1/deposits", token, uuid.NewString(), map[string]string{"network": "BTC"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIdempotentReplay(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())
	payload := map[string]string{"network": "BTC", "amount": "0.02"}

	first := a.do(t, http.MethodPost, "/v1/deposits", token, "replay-1", payload)
	require.Equal(t, http.StatusCreated, first.Code)
	second := a.do(t, http.MethodPost, "/v1/deposits", token, "replay-1", payload)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	w := a.do(t, http.MethodGet, "/v1/transactions", token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["transactions"].([]any), 1)

	conflict := a.do(t, http.MethodPost, "/v1/deposits", token, "replay-1", map[string]string{"network": "BTC", "amount": "0.03"})
	assert.Equal(t, http.StatusConflict, conflict.Code)

	// Keys are scoped per user.
	other := a.do(t, http.MethodPost, "/v1/deposits", generateTestToken(uuid.NewString()), "replay-1", payload)
	require.Equal(t, http.StatusCreated, other.Code)
	assert.NotEqual(t, decode(t, first)["transaction"].(map[string]any)["id"], decode(t, other)["transaction"].(map[string]any)["id"])
}

func TestWithdrawalLifecycle(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())
	a.fund(t, token, "0.01")

	w := a.do(t, http.MethodPost, "/v1/withdrawals", token, uuid.NewString(), map[string]string{
		"network": "BTC", "amount": "0.005", "destination_address": btcDestination,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	tx := decode(t, w)["transaction"].(map[string]any)
	assert.Equal(t, "PROCESSING", tx["status"])
	assert.Equal(t, "0.00010000", tx["fee"])
	assert.NotEmpty(t, tx["chain_hash"])

	bal := a.btcBalance(t, token)
	assert.Equal(t, "0.00490000", bal["available"])
	assert.Equal(t, "0.00510000", bal["pending_withdrawal"])

	w = a.do(t, http.MethodPost, "/v1/withdrawals/"+tx["id"].(string)+"/cancel", token, uuid.NewString(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.confirm(t, map[string]any{"network": "BTC", "tx_hash": tx["chain_hash"], "confirmations": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	bal = a.btcBalance(t, token)
	assert.Equal(t, "0.00490000", bal["available"])
	assert.Equal(t, "0.00000000", bal["pending_withdrawal"])

	w = a.do(t, http.MethodPost, "/v1/withdrawals", token, uuid.NewString(), map[string]string{
		"network": "BTC", "amount": "1", "destination_address": btcDestination,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = a.do(t, http.MethodPost, "/v1/withdrawals", token, uuid.NewString(), map[string]string{
		"network": "BTC", "amount": "0.001", "destination_address": "0x52908400098527886E0F7030069857D2E4169EE7",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManualDepositApproval(t *testing.T) {
	a := setupAPI(t)
	user := uuid.NewString()
	token := generateTestToken(user)
	admin := generateTokenWithRole(uuid.NewString(), middleware.RoleAdmin)

	w := a.do(t, http.MethodPost, "/v1/deposits/manual", token, uuid.NewString(), map[string]string{
		"network": "BTC", "amount": "0.003", "from_address": btcSource,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	tx := decode(t, w)["transaction"].(map[string]any)
	assert.Equal(t, "PENDING_ADMIN_APPROVAL", tx["status"])
	txID := tx["id"].(string)

	w = a.do(t, http.MethodGet, "/v1/admin/transactions/pending", token, "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodGet, "/v1/admin/transactions/pending", admin, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = a.do(t, http.MethodPost, "/v1/admin/transactions/"+txID+"/approve", admin, uuid.NewString(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodPost, "/v1/admin/transactions/"+txID+"/approve", admin, uuid.NewString(), map[string]string{"chain_hash": "ac08"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PENDING", decode(t, w)["transaction"].(map[string]any)["status"])
	assert.Equal(t, "0.00300000", a.btcBalance(t, token)["pending_deposit"])

	w = a.do(t, http.MethodPost, "/v1/admin/transactions/"+txID+"/reject", admin, uuid.NewString(), map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.confirm(t, map[string]any{"network": "BTC", "tx_hash": "ac08", "confirmations": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "0.00300000", a.btcBalance(t, token)["available"])

	// Admins can read any user's transaction.
	w = a.do(t, http.MethodGet, "/v1/transactions/"+txID, admin, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestManualWithdrawalRejected(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())
	admin := generateTokenWithRole(uuid.NewString(), middleware.RoleAdmin)

	w := a.do(t, http.MethodPost, "/v1/withdrawals/manual", token, uuid.NewString(), map[string]string{
		"network": "BTC", "amount": "0.002", "destination_address": btcDestination,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	txID := decode(t, w)["transaction"].(map[string]any)["id"].(string)

	w = a.do(t, http.MethodPost, "/v1/admin/transactions/"+txID+"/reject", admin, uuid.NewString(), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/v1/admin/transactions/"+txID+"/reject", admin, uuid.NewString(), map[string]string{"reason": "destination flagged"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tx := decode(t, w)["transaction"].(map[string]any)
	assert.Equal(t, "REJECTED", tx["status"])
	assert.Equal(t, "ADMIN_REJECTED", tx["reason"])
}

func TestConversionRoundTrip(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())
	a.fund(t, token, "0.02")

	w := a.do(t, http.MethodPost, "/v1/conversions/to-fiat", token, uuid.NewString(), map[string]string{"network": "BTC", "amount": "0.01"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "650.00", body["fiat_amount_added"])
	assert.Equal(t, "COMPLETED", body["transaction"].(map[string]any)["status"])

	w = a.do(t, http.MethodPost, "/v1/conversions/from-fiat", token, uuid.NewString(), map[string]string{"network": "BTC", "fiat_amount": "325.00"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "0.00500000", decode(t, w)["crypto_amount_added"])

	assert.Equal(t, "0.01500000", a.btcBalance(t, token)["available"])

	w = a.do(t, http.MethodPost, "/v1/conversions/to-fiat", token, uuid.NewString(), map[string]string{"network": "ETH", "amount": "1"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWebhookRequiresSignature(t *testing.T) {
	a := setupAPI(t)

	body := []byte(`{"network":"BTC","tx_hash":"ff00","confirmations":1}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/internal/confirmations", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "sha256=deadbeef")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.confirm(t, map[string]any{"network": "BTC", "tx_hash": "ff00", "confirmations": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.confirm(t, map[string]any{"network": "XRP", "tx_hash": "ff00", "confirmations": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
