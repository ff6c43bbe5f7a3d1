package delco

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	mu           sync.Mutex
	authCalls    int
	refreshCalls int
	next         int
	authErr      error
	refreshErr   error
}

func (f *fakeTokens) issue() Tokens {
	f.next++
	return Tokens{
		AccessToken:  fmt.Sprintf("token-%d", f.next),
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func (f *fakeTokens) Authenticate(ctx context.Context) (Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authErr != nil {
		return Tokens{}, f.authErr
	}
	return f.issue(), nil
}

func (f *fakeTokens) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return Tokens{}, f.refreshErr
	}
	return f.issue(), nil
}

const accountJSON = `{
	"myAccount": {
		"accountId": 123456,
		"accountBalance": "45.20",
		"latestBillAmount": "41.1",
		"previousBalance": "331.7",
		"latestPayment": "-331.7",
		"billDisplayURL": "https://bills.example.com/docs/123456_999_20250115.pdf",
		"serviceAddresses": [{"premiseId": "P-77"}]
	}
}`

type fakeAPI struct {
	mu        sync.Mutex
	validTok  string
	requests  map[string]int
	bodies    map[string]map[string]any
	account   string
	usageJSON string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		requests: map[string]int{},
		bodies:   map[string]map[string]any{},
		account:  accountJSON,
		usageJSON: `{"usage": {"status": "OK", "usageHistory": [{"uom": "HGAL", "usageData": [
			{"period": "2025-01", "value": "41"},
			{"period": "2025-02", "value": 38.5}
		]}]}}`,
	}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[r.URL.Path]++

	var body map[string]any
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.bodies[r.URL.Path] = body
	}

	if strings.HasPrefix(r.URL.Path, "/docs/") {
		if r.URL.Path == "/docs/123456_555_20250213.pdf" {
			w.Write([]byte("%PDF-fake"))
			return
		}
		http.NotFound(w, r)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+f.validTok || body["AccessToken"] != f.validTok {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"expired"}`))
		return
	}

	switch r.URL.Path {
	case "/account":
		w.Write([]byte(f.account))
	case "/usage":
		w.Write([]byte(f.usageJSON))
	case "/history/billing":
		w.Write([]byte(`{"accountId": "123456", "billing": [
			{"billId": 555, "billDate": "2025-02-13", "billAmount": "41.1", "readDate": "2025-02-06", "dueDate": "2025-03-06"}
		]}`))
	case "/history/payment":
		w.Write([]byte(`{"payment": [
			{"paymentDate": "2025-03-01", "paymentAmount": "-41.10", "tenderType": "ACH", "source": "WEB"},
			{"paymentDate": "garbage", "paymentAmount": "1"}
		]}`))
	case "/broken":
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *fakeAPI) body(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[path]
}

func (f *fakeAPI) setUsage(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageJSON = body
}

func (f *fakeAPI) setAccount(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = body
}

func newTestClient(t *testing.T, api *fakeAPI, auth *fakeTokens, opts ...Option) (*Client, *httptest.Server) {
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	opts = append([]Option{WithBaseURL(srv.URL)}, opts...)
	return NewClient("me@example.com", auth, opts...), srv
}

func TestClientAuthenticatesAndFetchesAccount(t *testing.T) {
	api := newFakeAPI()
	api.validTok = "token-1"
	auth := &fakeTokens{}
	c, _ := newTestClient(t, api, auth)

	acct, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456", acct.AccountID.String())
	assert.Equal(t, 1, auth.authCalls)
	assert.Equal(t, "token-1", api.body("/account")["AccessToken"])

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Balance.Equal(decimal.RequireFromString("45.20")))
	assert.True(t, snap.PaymentsReceived.Equal(decimal.RequireFromString("331.7")))
	assert.True(t, snap.LastBillAmount.Equal(decimal.RequireFromString("41.1")))
}

func TestSnapshotRefetchesAccountEachPoll(t *testing.T) {
	api := newFakeAPI()
	api.validTok = "token-1"
	c, _ := newTestClient(t, api, &fakeTokens{})
	ctx := context.Background()

	first, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, first.Balance.Equal(decimal.RequireFromString("45.20")))

	api.setAccount(strings.Replace(accountJSON, `"accountBalance": "45.20"`, `"accountBalance": "0"`, 1))

	second, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, second.Balance.IsZero())
	assert.Equal(t, 2, api.count("/account"))

	// usage reuses the account fetched by the last snapshot
	_, err = c.GetUsagePoints(ctx, FrequencyMonthly, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, api.count("/account"))
}

func TestClientRefreshesOnceOnAuthFailure(t *testing.T) {
	api := newFakeAPI()
	api.validTok = "token-1"
	auth := &fakeTokens{}

	var saved []Tokens
	c, _ := newTestClient(t, api, auth,
		WithTokens(Tokens{AccessToken: "stale", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour)}),
		WithTokenCallback(func(tok Tokens) { saved = append(saved, tok) }),
	)

	_, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, api.count("/account"), "one rejected call and one retry")
	assert.Equal(t, 1, auth.refreshCalls)
	assert.Equal(t, 0, auth.authCalls)
	require.Len(t, saved, 1)
	assert.Equal(t, "token-1", saved[0].AccessToken)
}

func TestClientSurfacesAuthErrorAfterSingleRetry(t *testing.T) {
	api := newFakeAPI()
	api.validTok = "never-issued"
	auth := &fakeTokens{}
	c, _ := newTestClient(t, api, auth)

	_, err := c.GetAccount(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, 2, api.count("/account"))
}

func TestClientFallsBackToSignInWhenRefreshFails(t *testing.T) {
	api := newFakeAPI()
	api.validTok = "token-1"
	auth := &fakeTokens{refreshErr: &AuthError{Message: "refresh revoked"}}
	c, _ := newTestClient(t, api, auth,
		WithTokens(Tokens{AccessToken: "old", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Hour)}))

	_, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, auth.refreshCalls)
	assert.Equal(t, 1, auth.authCalls)
	assert.Equal(t, 1, api.count("/account"))
}

func TestClientReturnsAuthErrorWhenSignInFails(t *testing.T) {
	api := newFakeAPI()
	auth := &fakeTokens{authErr: &AuthError{Message: "bad password"}}
	c, _ := newTestClient(t, api, auth)

	_, err := c.GetAccount(context.Background())
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, 0, api.count("/account"))
}

func TestClientSurfacesUpstreamErrorsVerbatim(t *testing.T) {
	api := newFakeAPI()
	api.validTok = "token-1"
	c, _ := newTestClient(t, api, &fakeTokens{})

	var out map[string]any
	err := c.post(context.Background(), "/broken", nil, &out)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "upstream exploded", apiErr.Body)
	assert.Equal(t, 1, api.count("/broken"), "non-auth failures are not retried")
}

func TestGetUsagePoints(t *testing.T) {
	api := newFakeAPI()
	api.validTok = "token-1"
	c, _ := newTestClient(t, api, &fakeTokens{})

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	points, err := c.GetUsagePoints(context.Background(), FrequencyMonthly, start, end)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2025-01", points[0].Period)
	assert.True(t, points[1].ValueHGAL.Equal(decimal.RequireFromString("38.5")))

	body := api.body("/usage")
	assert.Equal(t, "P-77", body["premiseId"])
	assert.Equal(t, "123456", body["accountId"])
	assert.Equal(t, "M", body["frequency"])
	assert.Equal(t, "2024-03-01", body["startDate"])
	assert.Equal(t, "2025-03-01", body["endDate"])
	assert.Equal(t, "SEWER", body["service"])
	assert.Equal(t, "me@example.com", body["email"])
}

func TestGetUsageUnsupportedFrequency(t *testing.T) {
	api := newFakeAPI()
	api.validTok = "token-1"
	c, _ := newTestClient(t, api, &fakeTokens{})

	_, err := c.GetUsagePoints(context.Background(), Frequency("Q"), time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrFrequencyNotFound)
	assert.Equal(t, 0, api.count("/usage"))

	api.setUsage(`{"usage": {"status": "ERROR", "message": "Daily data is not available", "usageHistory": []}}`)
	_, err = c.GetUsagePoints(context.Background(), FrequencyDaily, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrNoUsageData)
}

func TestGetBillingAndPaymentHistory(t *testing.T) {
	api := newFakeAPI()
	api.validTok = "token-1"
	c, _ := newTestClient(t, api, &fakeTokens{})

	bills, err := c.GetBillingHistory(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.Equal(t, "555", bills[0].BillID.String())
	assert.True(t, bills[0].BillAmount.Value().Equal(decimal.RequireFromString("41.1")))

	billDate, readDate, _, err := bills[0].Dates()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 13, 0, 0, 0, 0, time.UTC), billDate)
	assert.Equal(t, time.Date(2025, 2, 6, 0, 0, 0, 0, time.UTC), readDate)

	payments, err := c.GetPaymentHistory(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, payments, 1, "the payment with a bad date is skipped")
	assert.True(t, payments[0].Amount.Equal(decimal.RequireFromString("41.10")))
	assert.Equal(t, "ACH", payments[0].TenderType)
}

func TestBillPDFURLAndDownload(t *testing.T) {
	api := newFakeAPI()
	api.validTok = "token-1"
	c, srv := newTestClient(t, api, &fakeTokens{})

	_, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	c.account.BillDisplayURL = srv.URL + "/docs/123456_999_20250115.pdf"

	bill := Bill{BillID: "555", BillDate: "2025-02-13"}
	u, err := c.BillPDFURL(context.Background(), bill)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/docs/123456_555_20250213.pdf", u)

	data, err := c.GetBillPDF(context.Background(), bill)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-fake", string(data))

	_, err = c.GetBillPDF(context.Background(), Bill{BillID: "404", BillDate: "2025-01-01"})
	assert.ErrorIs(t, err, ErrBillNotFound)
}
