package httpapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	app "github.com/LoyaltyLabs/receipt_layer/internal/app"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/httpapi"
	"github.com/LoyaltyLabs/receipt_layer/pkg/testutil"
)

func newServer(t *testing.T, opts httpapi.Options) *httptest.Server {
	t.Helper()
	application, err := app.New(app.Options{
		Collaborators: app.Collaborators{
			Acquisition: &testutil.MockAcquirer{},
			Mint:        &testutil.MockMinter{},
			Metadata:    &testutil.MockMetadataStore{},
		},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(httpapi.NewHandler(application, opts, nil))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createAccount(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	var acct struct {
		ID string `json:"id"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/accounts", map[string]any{
		"owner":  "kim",
		"wallet": "wallet-1",
	}, &acct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, acct.ID)
	return acct.ID
}

func TestHealth(t *testing.T) {
	srv := newServer(t, httpapi.Options{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAccountLifecycle(t *testing.T) {
	srv := newServer(t, httpapi.Options{})
	id := createAccount(t, srv)

	var acct struct {
		ID     string `json:"id"`
		Wallet string `json:"wallet"`
	}
	resp := doJSON(t, http.MethodGet, srv.URL+"/accounts/"+id, nil, &acct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "wallet-1", acct.Wallet)

	resp = doJSON(t, http.MethodPut, srv.URL+"/accounts/"+id+"/wallet", map[string]string{"wallet": "wallet-2"}, &acct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "wallet-2", acct.Wallet)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/accounts/"+id, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/accounts/"+id, nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCaptureReceiptStartsPipeline(t *testing.T) {
	srv := newServer(t, httpapi.Options{})
	accountID := createAccount(t, srv)

	var captured struct {
		Receipt struct {
			ID string `json:"id"`
		} `json:"receipt"`
		TaskID string `json:"task_id"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/receipts", map[string]any{
		"account_id": accountID,
		"merchant":   "Grocer",
		"total":      42.5,
		"currency":   "USD",
	}, &captured)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, captured.Receipt.ID)
	require.NotEmpty(t, captured.TaskID)

	// The engine is not started, so the root task stays pending.
	var status struct {
		TaskID    string `json:"task_id"`
		Status    string `json:"status"`
		Completed bool   `json:"completed"`
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/receipts/"+captured.Receipt.ID+"/status", nil, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, captured.TaskID, status.TaskID)
	require.Equal(t, "pending", status.Status)
	require.False(t, status.Completed)

	var history []json.RawMessage
	resp = doJSON(t, http.MethodGet, srv.URL+"/receipts/"+captured.Receipt.ID+"/history", nil, &history)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, history, 1)

	resp = doJSON(t, http.MethodGet, srv.URL+"/tasks/"+captured.TaskID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCaptureRejectsUnknownAccount(t *testing.T) {
	srv := newServer(t, httpapi.Options{})
	resp := doJSON(t, http.MethodPost, srv.URL+"/receipts", map[string]any{
		"account_id": "missing",
		"total":      10,
	}, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReceiptStatusUnknownReceipt(t *testing.T) {
	srv := newServer(t, httpapi.Options{})
	resp := doJSON(t, http.MethodGet, srv.URL+"/receipts/missing/status", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvalidJSONBody(t *testing.T) {
	srv := newServer(t, httpapi.Options{})
	resp, err := http.Post(srv.URL+"/accounts", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	srv := newServer(t, httpapi.Options{AuthSecret: secret})

	// Health stays open; the API requires a token.
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/accounts")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/accounts", nil)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", signed))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/accounts", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
