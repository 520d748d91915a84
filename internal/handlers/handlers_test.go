package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	_ "github.com/ruralpay/ledgercore/docs"
	"github.com/ruralpay/ledgercore/internal/config"
	"github.com/ruralpay/ledgercore/internal/middleware"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/ruralpay/ledgercore/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-secret"

type testAPI struct {
	router http.Handler
	audit  *services.AuditService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	policy := config.DefaultLedgerConfig()
	store := services.NewAccountStore(nil, nil)
	ledger := services.NewLedgerService(store, nil, nil)
	audit := services.NewAuditService(config.DefaultAuditConfig(), nil)
	locker := services.NewAccountLocker()
	txs := services.NewTransactionService(store, ledger, audit, locker, policy, nil)
	bills := services.NewBillService(txs, locker, audit, nil, nil)

	h := NewHandler(Services{
		Accounts:     services.NewAccountService(store, ledger, audit, locker, policy, nil),
		Transactions: txs,
		Statements:   services.NewStatementService(ledger),
		Bills:        bills,
		SoftDeletes:  services.NewSoftDeleteService(audit, nil, nil, services.NewAccountRecords(store, locker), bills),
		Audit:        audit,
		ISO20022:     services.NewISO20022Service(ledger, store, "RURALPAY"),
	}, nil)

	r := chi.NewRouter()
	RegisterRoutes(r, h, middleware.NewAuthenticator(testSecret, ""))
	return &testAPI{router: r, audit: audit}
}

func bearer(t *testing.T, userID string, role models.Role) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

func (a *testAPI) do(t *testing.T, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	return decode[services.ErrorResponse](t, rr).Code
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
}

func TestSwaggerDocs(t *testing.T) {
	api := newTestAPI(t)

	t.Run("ui is served without a token", func(t *testing.T) {
		rr := api.do(t, http.MethodGet, "/swagger/index.html", "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	})

	t.Run("doc lists the annotated routes", func(t *testing.T) {
		rr := api.do(t, http.MethodGet, "/swagger/doc.json", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var doc struct {
			BasePath string                    `json:"basePath"`
			Paths    map[string]map[string]any `json:"paths"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
		assert.Equal(t, "/api/v1", doc.BasePath)
		assert.Contains(t, doc.Paths["/transactions"], "post")
		assert.Contains(t, doc.Paths["/accounts/{accountID}/statement"], "get")
		assert.Contains(t, doc.Paths["/bills/{billID}/pay"], "post")
	})
}

func TestAccountsAndTransactions(t *testing.T) {
	api := newTestAPI(t)
	alice := bearer(t, "alice", models.RoleClient)
	bob := bearer(t, "bob", models.RoleClient)
	admin := bearer(t, "root", models.RoleAdmin)

	rr := api.do(t, http.MethodGet, "/api/v1/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = api.do(t, http.MethodPost, "/api/v1/accounts", alice, map[string]any{"name": "Everyday", "type": "checking"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	aliceAcct := decode[models.Account](t, rr)
	assert.Equal(t, "alice", aliceAcct.OwnerID)

	rr = api.do(t, http.MethodPost, "/api/v1/accounts", bob, map[string]any{"name": "Everyday", "type": "checking"})
	require.Equal(t, http.StatusCreated, rr.Code)
	bobAcct := decode[models.Account](t, rr)

	t.Run("request validation", func(t *testing.T) {
		rr := api.do(t, http.MethodPost, "/api/v1/accounts", alice, map[string]any{"name": "Everyday", "type": "checking", "balance": 100})
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = api.do(t, http.MethodPost, "/api/v1/accounts", alice, map[string]any{"name": "Everyday", "type": "crypto"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, rr))

		rr = api.do(t, http.MethodPost, "/api/v1/transactions", alice, `{"type":"deposit"}{"type":"deposit"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	rr = api.do(t, http.MethodPost, "/api/v1/transactions", alice, services.TransactionRequest{
		Type: models.EntryDeposit, AccountID: aliceAcct.ID, Amount: 20000, Description: "cash",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	deposit := decode[services.TransactionResult](t, rr)
	assert.Equal(t, models.EntryCompleted, deposit.Entry.Status)

	t.Run("typed failures map to statuses", func(t *testing.T) {
		rr := api.do(t, http.MethodPost, "/api/v1/transactions", alice, services.TransactionRequest{
			Type: models.EntryWithdrawal, AccountID: aliceAcct.ID, Amount: 90000,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, "INSUFFICIENT_FUNDS", errorCode(t, rr))

		rr = api.do(t, http.MethodPost, "/api/v1/transactions", bob, services.TransactionRequest{
			Type: models.EntryWithdrawal, AccountID: aliceAcct.ID, Amount: 100,
		})
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = api.do(t, http.MethodGet, "/api/v1/accounts/missing", admin, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "RECORD_NOT_FOUND", errorCode(t, rr))

		rr = api.do(t, http.MethodPut, "/api/v1/accounts/"+aliceAcct.ID+"/status", alice, map[string]any{"status": "closed"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	rr = api.do(t, http.MethodPost, "/api/v1/transactions", alice, services.TransactionRequest{
		Type: models.EntryTransfer, AccountID: aliceAcct.ID, ToAccountID: bobAcct.ID, Amount: 12345,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	transfer := decode[services.TransactionResult](t, rr)
	require.NotNil(t, transfer.Counterpart)

	t.Run("status query", func(t *testing.T) {
		rr := api.do(t, http.MethodGet, "/api/v1/transactions/"+transfer.Entry.ID, alice, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, models.EntryCompleted, decode[models.LedgerEntry](t, rr).Status)

		rr = api.do(t, http.MethodGet, "/api/v1/transactions/reference/"+transfer.Entry.Reference, bob, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		entries := decode[map[string][]models.LedgerEntry](t, rr)["entries"]
		require.Len(t, entries, 1)
		assert.Equal(t, bobAcct.ID, entries[0].AccountID)

		rr = api.do(t, http.MethodGet, "/api/v1/accounts/"+aliceAcct.ID+"/transactions?type=transfer", alice, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decode[map[string][]models.LedgerEntry](t, rr)["entries"], 1)
	})

	t.Run("pacs.008", func(t *testing.T) {
		rr := api.do(t, http.MethodGet, "/api/v1/transfers/"+transfer.Entry.Reference+"/pacs008", bob, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "application/xml", rr.Header().Get("Content-Type"))
		assert.Contains(t, rr.Body.String(), transfer.Entry.Reference)

		rr = api.do(t, http.MethodGet, "/api/v1/transfers/"+transfer.Entry.Reference+"/pacs002", alice, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "ACSC")
	})

	t.Run("statement", func(t *testing.T) {
		rr := api.do(t, http.MethodGet, "/api/v1/accounts/"+aliceAcct.ID+"/statement", alice, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		st := decode[models.Statement](t, rr)
		assert.Equal(t, int64(0), st.OpeningBalance)
		assert.Equal(t, int64(20000-12345), st.ClosingBalance)
		assert.Len(t, st.Transactions, 2)

		rr = api.do(t, http.MethodGet, "/api/v1/accounts/"+aliceAcct.ID+"/statement/export", alice, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
		lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
		assert.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "timestamp,entry_id"))

		rr = api.do(t, http.MethodGet, "/api/v1/accounts/"+aliceAcct.ID+"/statement?start=2026-05-01&end=2026-04-01", alice, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = api.do(t, http.MethodGet, "/api/v1/accounts/"+aliceAcct.ID+"/statement?start=yesterday", alice, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("admin reversal", func(t *testing.T) {
		rr := api.do(t, http.MethodPost, "/api/v1/transactions/"+transfer.Entry.ID+"/reverse", alice, map[string]any{"reason": "mistake"})
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = api.do(t, http.MethodPost, "/api/v1/transactions/"+transfer.Entry.ID+"/reverse", admin, map[string]any{"reason": "mistake"})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		rr = api.do(t, http.MethodGet, "/api/v1/accounts/"+aliceAcct.ID, alice, nil)
		assert.Equal(t, int64(20000), decode[models.Account](t, rr).Balance)
	})
}

func TestBillsAPI(t *testing.T) {
	api := newTestAPI(t)
	alice := bearer(t, "alice", models.RoleClient)
	admin := bearer(t, "root", models.RoleAdmin)

	rr := api.do(t, http.MethodPost, "/api/v1/accounts", alice, map[string]any{"name": "Everyday", "type": "checking"})
	require.Equal(t, http.StatusCreated, rr.Code)
	acct := decode[models.Account](t, rr)
	rr = api.do(t, http.MethodPost, "/api/v1/transactions", alice, services.TransactionRequest{Type: models.EntryDeposit, AccountID: acct.ID, Amount: 50000})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = api.do(t, http.MethodPost, "/api/v1/bills", alice, map[string]any{
		"title": "Power", "company": "GridCo", "amount": 9000, "due_date": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	bill := decode[models.Bill](t, rr)

	rr = api.do(t, http.MethodPost, "/api/v1/bills/"+bill.ID+"/pay", alice, map[string]any{"account_id": acct.ID})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = api.do(t, http.MethodPost, "/api/v1/bills/"+bill.ID+"/pay", alice, map[string]any{"account_id": acct.ID})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "ALREADY_PAID", errorCode(t, rr))

	rr = api.do(t, http.MethodGet, "/api/v1/bills", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	bills := decode[map[string][]models.Bill](t, rr)["bills"]
	require.Len(t, bills, 1)
	assert.Equal(t, models.BillPaid, bills[0].Status)

	t.Run("soft delete and restore", func(t *testing.T) {
		rr := api.do(t, http.MethodDelete, "/api/v1/admin/records/bills/"+bill.ID, alice, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = api.do(t, http.MethodDelete, "/api/v1/admin/records/bills/"+bill.ID, admin, map[string]any{"reason": "duplicate"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		ts := decode[models.Tombstone](t, rr)

		rr = api.do(t, http.MethodGet, "/api/v1/bills/"+bill.ID, alice, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = api.do(t, http.MethodGet, "/api/v1/admin/deleted?table=bills", admin, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decode[map[string][]models.Tombstone](t, rr)["records"], 1)

		rr = api.do(t, http.MethodPost, "/api/v1/admin/deleted/"+ts.ID+"/restore", admin, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = api.do(t, http.MethodPost, "/api/v1/admin/deleted/"+ts.ID+"/restore", admin, nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "NOT_RESTORABLE", errorCode(t, rr))

		rr = api.do(t, http.MethodGet, "/api/v1/bills/"+bill.ID, alice, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestAdminAPI(t *testing.T) {
	api := newTestAPI(t)
	alice := bearer(t, "alice", models.RoleClient)
	admin := bearer(t, "root", models.RoleAdmin)

	rr := api.do(t, http.MethodGet, "/api/v1/admin/audit", alice, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	for i := 0; i < 3; i++ {
		rr = api.do(t, http.MethodPost, "/api/v1/admin/login-attempts", admin, map[string]any{
			"user_id": "alice", "ip_address": "198.51.100.4", "success": false,
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	rr = api.do(t, http.MethodPost, "/api/v1/admin/login-attempts", admin, map[string]any{"user_id": "alice", "ip_address": "not-an-ip"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(t, http.MethodGet, "/api/v1/admin/audit?action=login_failed", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[map[string][]models.AuditEvent](t, rr)["events"], 3)

	rr = api.do(t, http.MethodGet, "/api/v1/admin/audit/export?action=login_failed", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, strings.Split(strings.TrimSpace(rr.Body.String()), "\n"), 4)

	rr = api.do(t, http.MethodGet, "/api/v1/admin/security-events?resolved=false", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	findings := decode[map[string][]models.SecurityEvent](t, rr)["events"]
	require.NotEmpty(t, findings)
	assert.Equal(t, models.SecurityFailedLogin, findings[0].Type)

	rr = api.do(t, http.MethodPost, "/api/v1/admin/security-events/"+findings[0].ID+"/resolve", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[models.SecurityEvent](t, rr).Resolved)

	rr = api.do(t, http.MethodGet, "/api/v1/admin/security-events?resolved=maybe", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
