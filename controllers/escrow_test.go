package controllers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rei360.com/escrow"
	"rei360.com/rail"
	"rei360.com/types"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "escrow-controller-test-secret"

// railStub answers every payout with a fresh receipt derived from the key.
type railStub struct {
	mu       sync.Mutex
	receipts map[string]*rail.Receipt
}

func (r *railStub) Pay(_ context.Context, req rail.PayoutRequest) (*rail.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt := &rail.Receipt{ID: "rcpt-" + req.IdempotencyKey, IdempotencyKey: req.IdempotencyKey, ProcessedAt: time.Now()}
	r.receipts[req.IdempotencyKey] = receipt
	return receipt, nil
}

func (r *railStub) Lookup(_ context.Context, idempotencyKey string) (*rail.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt, ok := r.receipts[idempotencyKey]
	if !ok {
		return nil, rail.ErrNotFound
	}
	return receipt, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func setupEscrowApp(t *testing.T) (*fiber.App, *escrow.Engine, *testClock) {
	t.Helper()

	t.Setenv("JWT_TEST_MODE", "true")
	t.Setenv("JWT_SECRET", base64.StdEncoding.EncodeToString([]byte(testSecret)))

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(&types.Transaction{}, &types.AuditEntry{}))

	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine, err := escrow.NewEngine(
		escrow.NewStore(database),
		escrow.NewExecutor(&railStub{receipts: map[string]*rail.Receipt{}}),
		clock.Now, 200)
	require.NoError(t, err)

	app := fiber.New()
	InitEscrowRoutes(app, engine)
	return app, engine, clock
}

func bearerToken(t *testing.T, userID uint, admin bool) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"resource_access": map[string]interface{}{
			"id":      float64(userID),
			"isAdmin": admin,
		},
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, payload interface{}) (*http.Response, types.Response) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var parsed types.Response
	if len(raw) > 0 {
		json.Unmarshal(raw, &parsed)
	}
	return resp, parsed
}

func createViaAPI(t *testing.T, app *fiber.App, clock *testClock) string {
	t.Helper()
	resp, body := doJSON(t, app, http.MethodPost, "/escrow", bearerToken(t, 1, true), CreateEscrowRequest{
		BuyerID:           10,
		SellerID:          20,
		Amount:            100000,
		PropertyReference: "prop-551",
		ReleaseEligibleAt: clock.Now().Add(72 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := body.Data.(map[string]interface{})
	id, _ := data["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestEscrowRoutesRequireAuth(t *testing.T) {
	app, _, _ := setupEscrowApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/escrow/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, body.Success)
}

func TestCreateEscrow(t *testing.T) {
	app, _, clock := setupEscrowApp(t)
	admin := bearerToken(t, 1, true)

	reqBody := CreateEscrowRequest{
		BuyerID:           10,
		SellerID:          20,
		Amount:            100000,
		PropertyReference: "prop-1",
		ReleaseEligibleAt: clock.Now().Add(time.Hour).Format(time.RFC3339),
	}

	resp, body := doJSON(t, app, http.MethodPost, "/escrow", admin, reqBody)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, body.Success)
	data := body.Data.(map[string]interface{})
	assert.Equal(t, "pending", data["state"])
	firstID := data["id"].(string)

	// Resubmission of the identical deal is answered with the existing record.
	resp, body = doJSON(t, app, http.MethodPost, "/escrow", admin, reqBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
	assert.Equal(t, firstID, body.Data.(map[string]interface{})["id"])
}

func TestCreateEscrowForbiddenForNonAdmin(t *testing.T) {
	app, _, clock := setupEscrowApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/escrow", bearerToken(t, 10, false), CreateEscrowRequest{
		BuyerID:           10,
		SellerID:          20,
		Amount:            100000,
		PropertyReference: "prop-1",
		ReleaseEligibleAt: clock.Now().Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, body.Success)
}

func TestCreateEscrowRejectsBadInput(t *testing.T) {
	app, _, clock := setupEscrowApp(t)
	admin := bearerToken(t, 1, true)

	// Missing required fields.
	resp, _ := doJSON(t, app, http.MethodPost, "/escrow", admin, CreateEscrowRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Timestamp not RFC3339.
	resp, body := doJSON(t, app, http.MethodPost, "/escrow", admin, CreateEscrowRequest{
		BuyerID: 10, SellerID: 20, Amount: 100000,
		PropertyReference: "prop-1", ReleaseEligibleAt: "tomorrow",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body.Error, "RFC3339")

	// Buyer and seller must differ; rejected by the engine.
	resp, _ = doJSON(t, app, http.MethodPost, "/escrow", admin, CreateEscrowRequest{
		BuyerID: 10, SellerID: 10, Amount: 100000,
		PropertyReference: "prop-1",
		ReleaseEligibleAt: clock.Now().Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	app, _, clock := setupEscrowApp(t)
	admin := bearerToken(t, 1, true)
	buyer := bearerToken(t, 10, false)
	seller := bearerToken(t, 20, false)

	id := createViaAPI(t, app, clock)

	resp, body := doJSON(t, app, http.MethodPost, "/escrow/"+id+"/funding", admin,
		RecordFundingRequest{PaymentReference: "pay-001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "funded", body.Data.(map[string]interface{})["state"])

	resp, body = doJSON(t, app, http.MethodPut, "/escrow/"+id+"/approve", buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in_progress", body.Data.(map[string]interface{})["state"])

	resp, body = doJSON(t, app, http.MethodPut, "/escrow/"+id+"/approve", seller, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready_for_release", body.Data.(map[string]interface{})["state"])

	clock.Set(clock.Now().Add(73 * time.Hour))
	resp, body = doJSON(t, app, http.MethodPut, "/escrow/"+id+"/release", buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body.Data.(map[string]interface{})
	assert.Equal(t, "completed", data["state"])
	assert.Equal(t, float64(2000), data["platform_fee"])
	assert.Equal(t, float64(98000), data["seller_payout"])
	assert.NotEmpty(t, data["disbursement_reference"])

	resp, body = doJSON(t, app, http.MethodGet, "/escrow/"+id+"/audit", buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body.Data.([]interface{})
	assert.Len(t, entries, 5)
}

func TestReleaseTooEarly(t *testing.T) {
	app, _, clock := setupEscrowApp(t)
	admin := bearerToken(t, 1, true)
	buyer := bearerToken(t, 10, false)
	seller := bearerToken(t, 20, false)

	id := createViaAPI(t, app, clock)
	resp, _ := doJSON(t, app, http.MethodPost, "/escrow/"+id+"/funding", admin,
		RecordFundingRequest{PaymentReference: "pay-002"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doJSON(t, app, http.MethodPut, "/escrow/"+id+"/approve", buyer, nil)
	doJSON(t, app, http.MethodPut, "/escrow/"+id+"/approve", seller, nil)

	resp, body := doJSON(t, app, http.MethodPut, "/escrow/"+id+"/release", buyer, nil)
	assert.Equal(t, http.StatusTooEarly, resp.StatusCode)
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "not eligible")
}

func TestDisputeFromPendingConflicts(t *testing.T) {
	app, _, clock := setupEscrowApp(t)
	buyer := bearerToken(t, 10, false)

	id := createViaAPI(t, app, clock)
	resp, body := doJSON(t, app, http.MethodPut, "/escrow/"+id+"/dispute", buyer, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, body.Success)
}

func TestRefundRequiresAdminRoute(t *testing.T) {
	app, _, clock := setupEscrowApp(t)
	admin := bearerToken(t, 1, true)
	buyer := bearerToken(t, 10, false)

	id := createViaAPI(t, app, clock)
	resp, _ := doJSON(t, app, http.MethodPost, "/escrow/"+id+"/funding", admin,
		RecordFundingRequest{PaymentReference: "pay-003"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPut, "/escrow/"+id+"/refund", buyer, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPut, "/escrow/"+id+"/refund", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "refunded", body.Data.(map[string]interface{})["state"])
}

func TestGetEscrowVisibility(t *testing.T) {
	app, _, clock := setupEscrowApp(t)

	id := createViaAPI(t, app, clock)

	resp, _ := doJSON(t, app, http.MethodGet, "/escrow/"+id, bearerToken(t, 10, false), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/escrow/"+id, bearerToken(t, 777, false), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/escrow/"+id+"/audit", bearerToken(t, 777, false), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/escrow/does-not-exist", bearerToken(t, 1, true), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListEscrowsScopedToCaller(t *testing.T) {
	app, _, clock := setupEscrowApp(t)

	createViaAPI(t, app, clock)

	resp, body := doJSON(t, app, http.MethodGet, "/escrow/", bearerToken(t, 10, false), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body.Data.([]interface{}), 1)

	resp, body = doJSON(t, app, http.MethodGet, "/escrow/", bearerToken(t, 777, false), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body.Data)
}

func TestInitEscrowRoutes(t *testing.T) {
	app, _, _ := setupEscrowApp(t)

	findRoute := func(method, path string) bool {
		for _, routes := range app.Stack() {
			for _, route := range routes {
				if route.Method == method && strings.HasSuffix(route.Path, path) {
					return true
				}
			}
		}
		return false
	}

	assert.True(t, findRoute("POST", "/escrow/"))
	assert.True(t, findRoute("POST", "/escrow/:id/funding"))
	assert.True(t, findRoute("PUT", "/escrow/:id/approve"))
	assert.True(t, findRoute("PUT", "/escrow/:id/release"))
	assert.True(t, findRoute("PUT", "/escrow/:id/refund"))
	assert.True(t, findRoute("PUT", "/escrow/:id/dispute"))
	assert.True(t, findRoute("PUT", "/escrow/:id/cancel"))
	assert.True(t, findRoute("GET", "/escrow/:id/audit"))
	assert.True(t, findRoute("GET", "/escrow/:id"))
	assert.True(t, findRoute("GET", "/escrow/"))
}
