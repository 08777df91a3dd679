package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mufa2906/uangku/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

var testDBSeq atomic.Int64

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(raw)
}

// setupTestServer boots the full router against a fresh in-memory sqlite
// database and returns it with a logged-in user's token.
func setupTestServer(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSecret = []byte("test-secret")
	cfg := &Config{
		DB: DBConfig{
			Driver:      "sqlite",
			DSN:         fmt.Sprintf("file:ledgertest%d?mode=memory&cache=shared", testDBSeq.Add(1)),
			AutoMigrate: true,
		},
	}
	initDB(cfg)
	r := gin.New()
	setupRoutes(r)

	creds := map[string]string{"username": "user1", "password": "pass123"}
	resp := performRequest(r, http.MethodPost, "/register", jsonBody(t, creds), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("register failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodPost, "/login", jsonBody(t, creds), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("login failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}
	return r, token
}

func createTestWallet(t *testing.T, r *gin.Engine, token, balance string) models.Wallet {
	t.Helper()
	resp := performRequest(r, http.MethodPost, "/wallets",
		jsonBody(t, map[string]string{"name": "Cash", "balance": balance}), token)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create wallet failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var w models.Wallet
	if err := json.Unmarshal(resp.Body.Bytes(), &w); err != nil {
		t.Fatalf("decode wallet: %v", err)
	}
	return w
}

func getTestWallet(t *testing.T, r *gin.Engine, token string, id uint) models.Wallet {
	t.Helper()
	resp := performRequest(r, http.MethodGet, fmt.Sprintf("/wallets/%d", id), nil, token)
	if resp.Code != http.StatusOK {
		t.Fatalf("get wallet failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var w models.Wallet
	if err := json.Unmarshal(resp.Body.Bytes(), &w); err != nil {
		t.Fatalf("decode wallet: %v", err)
	}
	return w
}

func getTestBudget(t *testing.T, r *gin.Engine, token string, id uint) models.Budget {
	t.Helper()
	resp := performRequest(r, http.MethodGet, fmt.Sprintf("/budgets/%d", id), nil, token)
	if resp.Code != http.StatusOK {
		t.Fatalf("get budget failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var b models.Budget
	if err := json.Unmarshal(resp.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode budget: %v", err)
	}
	return b
}

func createTestBudget(t *testing.T, r *gin.Engine, token string, walletID uint, amount string) models.Budget {
	t.Helper()
	resp := performRequest(r, http.MethodPost, "/budgets",
		jsonBody(t, map[string]any{"walletId": walletID, "name": "Groceries", "allocatedAmount": amount}), token)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create budget failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var b models.Budget
	if err := json.Unmarshal(resp.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode budget: %v", err)
	}
	return b
}

func wantAmount(t *testing.T, got decimal.Decimal, want string, label string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s = %s, want %s", label, got.String(), want)
	}
}

// Walks the documented scenario end to end: allocate, spend within the
// budget, get rejected beyond it, then delete the spend and watch both
// balances return.
func TestLedgerBudgetFlow(t *testing.T) {
	r, token := setupTestServer(t)
	w := createTestWallet(t, r, token, "1000000")

	b := createTestBudget(t, r, token, w.ID, "400000")
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "600000", "wallet after budget create")
	wantAmount(t, b.RemainingAmount, "400000", "budget remaining after create")

	resp := performRequest(r, http.MethodPost, "/transactions",
		jsonBody(t, map[string]any{"walletId": w.ID, "budgetId": b.ID, "type": "expense", "amount": "150000"}), token)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create expense failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var created models.Transaction
	_ = json.Unmarshal(resp.Body.Bytes(), &created)
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "450000", "wallet after expense")
	wantAmount(t, getTestBudget(t, r, token, b.ID).RemainingAmount, "250000", "budget remaining after expense")

	// over-budget expense is rejected with both amounts in the message and
	// no state change
	resp = performRequest(r, http.MethodPost, "/transactions",
		jsonBody(t, map[string]any{"walletId": w.ID, "budgetId": b.ID, "type": "expense", "amount": "300000"}), token)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for over-budget expense, got %d body=%s", resp.Code, resp.Body.String())
	}
	var errBody map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &errBody)
	if errBody["error"] != "Insufficient budget" {
		t.Fatalf("unexpected error label: %+v", errBody)
	}
	for _, want := range []string{"250000", "300000"} {
		if !bytes.Contains([]byte(errBody["message"]), []byte(want)) {
			t.Fatalf("message %q missing amount %s", errBody["message"], want)
		}
	}
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "450000", "wallet after rejection")
	wantAmount(t, getTestBudget(t, r, token, b.ID).RemainingAmount, "250000", "budget remaining after rejection")

	// deleting the expense reverses both effects exactly
	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/transactions/%d", created.ID), nil, token)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete transaction failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "600000", "wallet after delete")
	wantAmount(t, getTestBudget(t, r, token, b.ID).RemainingAmount, "400000", "budget remaining after delete")
}

func TestBudgetAllocationConservation(t *testing.T) {
	r, token := setupTestServer(t)
	w := createTestWallet(t, r, token, "1000000")
	b := createTestBudget(t, r, token, w.ID, "400000")
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "600000", "wallet after budget create")

	resp := performRequest(r, http.MethodDelete, fmt.Sprintf("/budgets/%d", b.ID), nil, token)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete budget failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "1000000", "wallet after budget delete")
}

func TestCreateBudgetInsufficientFunds(t *testing.T) {
	r, token := setupTestServer(t)
	w := createTestWallet(t, r, token, "100000")
	resp := performRequest(r, http.MethodPost, "/budgets",
		jsonBody(t, map[string]any{"walletId": w.ID, "name": "Too big", "allocatedAmount": "200000"}), token)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", resp.Code, resp.Body.String())
	}
	var errBody map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &errBody)
	if errBody["error"] != "Insufficient funds" {
		t.Fatalf("unexpected error label: %+v", errBody)
	}
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "100000", "wallet after rejection")
}

// Reversal plus reapply must be lossless: the final balance equals what a
// single create of the final state would have produced.
func TestTransactionUpdateReversal(t *testing.T) {
	r, token := setupTestServer(t)
	w := createTestWallet(t, r, token, "1000000")

	resp := performRequest(r, http.MethodPost, "/transactions",
		jsonBody(t, map[string]any{"walletId": w.ID, "type": "income", "amount": "200000"}), token)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create income failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var created models.Transaction
	_ = json.Unmarshal(resp.Body.Bytes(), &created)
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "1200000", "wallet after income")

	resp = performRequest(r, http.MethodPut, fmt.Sprintf("/transactions/%d", created.ID),
		jsonBody(t, map[string]any{"type": "expense", "amount": "50000"}), token)
	if resp.Code != http.StatusOK {
		t.Fatalf("update failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "950000", "wallet after update")
}

// An update that would overdraw the linked budget is rejected and rolls the
// reversal back, leaving the original effect committed.
func TestTransactionUpdateRevalidatesBudget(t *testing.T) {
	r, token := setupTestServer(t)
	w := createTestWallet(t, r, token, "1000000")
	b := createTestBudget(t, r, token, w.ID, "100000")

	resp := performRequest(r, http.MethodPost, "/transactions",
		jsonBody(t, map[string]any{"walletId": w.ID, "budgetId": b.ID, "type": "expense", "amount": "80000"}), token)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create expense failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var created models.Transaction
	_ = json.Unmarshal(resp.Body.Bytes(), &created)

	resp = performRequest(r, http.MethodPut, fmt.Sprintf("/transactions/%d", created.ID),
		jsonBody(t, map[string]any{"amount": "150000"}), token)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for over-budget update, got %d body=%s", resp.Code, resp.Body.String())
	}
	// rollback: original state intact
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "820000", "wallet after rejected update")
	wantAmount(t, getTestBudget(t, r, token, b.ID).RemainingAmount, "20000", "budget remaining after rejected update")
}

func TestBudgetWalletMismatch(t *testing.T) {
	r, token := setupTestServer(t)
	w1 := createTestWallet(t, r, token, "1000000")
	w2 := createTestWallet(t, r, token, "1000000")
	b := createTestBudget(t, r, token, w1.ID, "100000")

	resp := performRequest(r, http.MethodPost, "/transactions",
		jsonBody(t, map[string]any{"walletId": w2.ID, "budgetId": b.ID, "type": "expense", "amount": "10000"}), token)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wallet mismatch, got %d body=%s", resp.Code, resp.Body.String())
	}
	wantAmount(t, getTestWallet(t, r, token, w2.ID).Balance, "1000000", "wallet after rejection")
}

// A duplicate delivery with the same localId returns the committed row and
// applies the delta exactly once.
func TestQueuedReplayIsIdempotent(t *testing.T) {
	r, token := setupTestServer(t)
	w := createTestWallet(t, r, token, "1000000")

	body := map[string]any{"walletId": w.ID, "type": "expense", "amount": "150000", "localId": "1700000000000-ab12cd34"}
	resp := performRequest(r, http.MethodPost, "/transactions", jsonBody(t, body), token)
	if resp.Code != http.StatusCreated {
		t.Fatalf("first delivery failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var first models.Transaction
	_ = json.Unmarshal(resp.Body.Bytes(), &first)

	resp = performRequest(r, http.MethodPost, "/transactions", jsonBody(t, body), token)
	if resp.Code != http.StatusOK {
		t.Fatalf("duplicate delivery: want 200, got %d body=%s", resp.Code, resp.Body.String())
	}
	var second models.Transaction
	_ = json.Unmarshal(resp.Body.Bytes(), &second)
	if first.ID != second.ID {
		t.Fatalf("duplicate delivery created a new row: %d != %d", first.ID, second.ID)
	}
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "850000", "wallet after duplicate delivery")
}

func TestUpdateBudgetAllocationDelta(t *testing.T) {
	r, token := setupTestServer(t)
	w := createTestWallet(t, r, token, "1000000")
	b := createTestBudget(t, r, token, w.ID, "400000")

	// spend part of the budget, then grow the allocation: only the delta
	// moves, and the spent portion stays spent
	resp := performRequest(r, http.MethodPost, "/transactions",
		jsonBody(t, map[string]any{"walletId": w.ID, "budgetId": b.ID, "type": "expense", "amount": "100000"}), token)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create expense failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodPut, fmt.Sprintf("/budgets/%d", b.ID),
		jsonBody(t, map[string]any{"allocatedAmount": "500000"}), token)
	if resp.Code != http.StatusOK {
		t.Fatalf("update budget failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "400000", "wallet after grow")
	updated := getTestBudget(t, r, token, b.ID)
	wantAmount(t, updated.AllocatedAmount, "500000", "allocated after grow")
	wantAmount(t, updated.RemainingAmount, "400000", "remaining after grow")

	// shrink refunds only the delta
	resp = performRequest(r, http.MethodPut, fmt.Sprintf("/budgets/%d", b.ID),
		jsonBody(t, map[string]any{"allocatedAmount": "300000"}), token)
	if resp.Code != http.StatusOK {
		t.Fatalf("shrink budget failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "600000", "wallet after shrink")
	updated = getTestBudget(t, r, token, b.ID)
	wantAmount(t, updated.RemainingAmount, "200000", "remaining after shrink")
}

func TestUpdateBudgetSwitchWallet(t *testing.T) {
	r, token := setupTestServer(t)
	w1 := createTestWallet(t, r, token, "500000")
	w2 := createTestWallet(t, r, token, "800000")
	b := createTestBudget(t, r, token, w1.ID, "200000")
	wantAmount(t, getTestWallet(t, r, token, w1.ID).Balance, "300000", "old wallet after create")

	resp := performRequest(r, http.MethodPut, fmt.Sprintf("/budgets/%d", b.ID),
		jsonBody(t, map[string]any{"walletId": w2.ID}), token)
	if resp.Code != http.StatusOK {
		t.Fatalf("switch wallet failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	wantAmount(t, getTestWallet(t, r, token, w1.ID).Balance, "500000", "old wallet refunded")
	wantAmount(t, getTestWallet(t, r, token, w2.ID).Balance, "600000", "new wallet debited")
}

func TestDeleteBudgetNullsTransactionLinks(t *testing.T) {
	r, token := setupTestServer(t)
	w := createTestWallet(t, r, token, "1000000")
	b := createTestBudget(t, r, token, w.ID, "400000")

	resp := performRequest(r, http.MethodPost, "/transactions",
		jsonBody(t, map[string]any{"walletId": w.ID, "budgetId": b.ID, "type": "expense", "amount": "150000"}), token)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create expense failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var created models.Transaction
	_ = json.Unmarshal(resp.Body.Bytes(), &created)

	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/budgets/%d", b.ID), nil, token)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete budget failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	// full allocation returns; the spent expense already left the wallet
	wantAmount(t, getTestWallet(t, r, token, w.ID).Balance, "850000", "wallet after budget delete")

	resp = performRequest(r, http.MethodGet, fmt.Sprintf("/transactions/%d", created.ID), nil, token)
	if resp.Code != http.StatusOK {
		t.Fatalf("get transaction failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var after models.Transaction
	_ = json.Unmarshal(resp.Body.Bytes(), &after)
	if after.BudgetID != nil {
		t.Fatalf("transaction still references deleted budget %d", *after.BudgetID)
	}
}

func TestTransactionsRequireAuth(t *testing.T) {
	r, _ := setupTestServer(t)
	resp := performRequest(r, http.MethodGet, "/transactions", nil, "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthorized list, got %d", resp.Code)
	}
}
