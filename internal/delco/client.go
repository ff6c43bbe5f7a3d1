package delco

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jgoulah/delcoscraper/pkg/models"
)

// DefaultBaseURL is the vendor API root
const DefaultBaseURL = "https://delco-api.cloud-esc.com/v2"

// ErrBillNotFound is returned when a bill document cannot be downloaded
var ErrBillNotFound = errors.New("bill PDF not found")

// APIError is a non-auth failure reported by the vendor API. The body is
// kept verbatim.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status %d for %s: %s", e.StatusCode, e.Path, e.Body)
}

// Client talks to the Del-Co Water API
type Client struct {
	baseURL  string
	http     *http.Client
	auth     TokenSource
	username string
	tokens   Tokens
	account  *Account
	onTokens func(Tokens)
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at a different API root
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the default 30s-timeout HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTokens seeds the client with tokens saved from an earlier session
func WithTokens(t Tokens) Option {
	return func(c *Client) { c.tokens = t }
}

// WithTokenCallback is called every time the client obtains new tokens
func WithTokenCallback(fn func(Tokens)) Option {
	return func(c *Client) { c.onTokens = fn }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client. The username is sent in request bodies the
// same way the portal does.
func NewClient(username string, auth TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		auth:     auth,
		username: username,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens returns the current session tokens
func (c *Client) Tokens() Tokens {
	return c.tokens
}

// Authenticate makes sure the client holds a usable access token, refreshing
// or signing in again only when the saved one has expired.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.tokens.Valid(c.now()) {
		return nil
	}
	return c.refreshAuth(ctx)
}

// refreshAuth tries the refresh token first and falls back to a full sign-in
func (c *Client) refreshAuth(ctx context.Context) error {
	if c.auth == nil {
		return &AuthError{Message: "no credentials configured", Err: ErrNotAuthenticated}
	}

	var (
		tokens Tokens
		err    error
	)
	if c.tokens.RefreshToken != "" {
		tokens, err = c.auth.Refresh(ctx, c.tokens.RefreshToken)
		if err != nil {
			c.logger.Warn("token refresh failed, signing in again", zap.Error(err))
		}
	}
	if c.tokens.RefreshToken == "" || err != nil {
		tokens, err = c.auth.Authenticate(ctx)
		if err != nil {
			return err
		}
	}

	c.tokens = tokens
	c.logger.Debug("obtained access token", zap.Time("expiry", tokens.Expiry))
	if c.onTokens != nil {
		c.onTokens(tokens)
	}
	return nil
}

// post sends a JSON body and decodes the JSON response. An auth failure
// triggers one token refresh and one retry; nothing else is retried.
func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	if err := c.Authenticate(ctx); err != nil {
		return err
	}

	err := c.doPost(ctx, path, body, out)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return err
	}

	c.logger.Info("access token rejected, refreshing", zap.String("path", path), zap.Int("status", authErr.StatusCode))
	if refreshErr := c.refreshAuth(ctx); refreshErr != nil {
		return fmt.Errorf("refreshing auth: %w (original error: %v)", refreshErr, err)
	}
	return c.doPost(ctx, path, body, out)
}

func (c *Client) doPost(ctx context.Context, path string, body map[string]any, out any) error {
	// The API wants the access token in the body as well as the header
	payload := map[string]any{"AccessToken": c.tokens.AccessToken}
	for k, v := range body {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.tokens.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("API request", zap.String("path", path))
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("authentication failed (status %d): %s", resp.StatusCode, string(respBody)),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Path: path, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// GetAccount fetches the account and caches it for the other calls
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var resp accountResponse
	if err := c.post(ctx, "/account", nil, &resp); err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	c.account = &resp.MyAccount
	return c.account, nil
}

func (c *Client) cachedAccount(ctx context.Context) (*Account, error) {
	if c.account != nil {
		return c.account, nil
	}
	return c.GetAccount(ctx)
}

// Snapshot fetches the account again and converts it into the balances
// shown as sensors. The other calls reuse the account it caches.
func (c *Client) Snapshot(ctx context.Context) (models.AccountSnapshot, error) {
	acct, err := c.GetAccount(ctx)
	if err != nil {
		return models.AccountSnapshot{}, err
	}
	return models.AccountSnapshot{
		AccountID:        acct.AccountID.String(),
		Balance:          acct.AccountBalance.Value(),
		PreviousBalance:  acct.PreviousBalance.Value(),
		LastBillAmount:   acct.LatestBillAmount.Value(),
		PaymentsReceived: acct.LatestPayment.Value().Abs(),
		FetchedAt:        c.now().UTC(),
	}, nil
}

// defaultRange fills in a lookback ending today when either bound is zero
func (c *Client) defaultRange(start, end time.Time, days int) (time.Time, time.Time) {
	if end.IsZero() {
		end = c.now()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -days)
	}
	return start, end
}

// GetUsage fetches the raw usage history for the first premise
func (c *Client) GetUsage(ctx context.Context, freq Frequency, start, end time.Time) (*UsageResponse, error) {
	if _, err := ParseFrequency(string(freq)); err != nil {
		return nil, err
	}

	acct, err := c.cachedAccount(ctx)
	if err != nil {
		return nil, err
	}
	premiseID, err := acct.PremiseID()
	if err != nil {
		return nil, err
	}

	start, end = c.defaultRange(start, end, 365)
	body := map[string]any{
		"premiseId": premiseID,
		"accountId": acct.AccountID.String(),
		"frequency": string(freq),
		"startDate": start.Format("2006-01-02"),
		"endDate":   end.Format("2006-01-02"),
		"service":   "SEWER",
		"admin":     false,
		"email":     c.username,
	}

	var resp UsageResponse
	if err := c.post(ctx, "/usage", body, &resp); err != nil {
		return nil, fmt.Errorf("getting usage: %w", err)
	}
	return &resp, nil
}

// GetUsagePoints fetches usage and flattens the first series. A response
// with no readings is ErrNoUsageData.
func (c *Client) GetUsagePoints(ctx context.Context, freq Frequency, start, end time.Time) ([]models.UsagePoint, error) {
	resp, err := c.GetUsage(ctx, freq, start, end)
	if err != nil {
		return nil, err
	}
	return UsagePoints(resp)
}

// UsagePoints extracts the readings of the first usage series
func UsagePoints(resp *UsageResponse) ([]models.UsagePoint, error) {
	if resp == nil || len(resp.Usage.UsageHistory) == 0 || len(resp.Usage.UsageHistory[0].UsageData) == 0 {
		msg := ""
		if resp != nil {
			msg = resp.Usage.Message
		}
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoUsageData, msg)
		}
		return nil, ErrNoUsageData
	}

	var points []models.UsagePoint
	for _, d := range resp.Usage.UsageHistory[0].UsageData {
		if d.Period == "" || !d.Value.Valid {
			continue
		}
		points = append(points, models.UsagePoint{Period: d.Period, ValueHGAL: d.Value.Decimal})
	}
	if len(points) == 0 {
		return nil, ErrNoUsageData
	}
	return points, nil
}

// GetBillingHistory lists bills between start and end (default: the last year)
func (c *Client) GetBillingHistory(ctx context.Context, start, end time.Time) ([]Bill, error) {
	acct, err := c.cachedAccount(ctx)
	if err != nil {
		return nil, err
	}

	start, end = c.defaultRange(start, end, 365)
	body := map[string]any{
		"accountId": acct.AccountID.String(),
		"startDate": start.Format("2006-01-02"),
		"endDate":   end.Format("2006-01-02"),
		"admin":     false,
		"email":     c.username,
	}

	var resp billingResponse
	if err := c.post(ctx, "/history/billing", body, &resp); err != nil {
		return nil, fmt.Errorf("getting billing history: %w", err)
	}
	return resp.Billing, nil
}

// GetPaymentHistory lists payments between start and end (default: two years)
func (c *Client) GetPaymentHistory(ctx context.Context, start, end time.Time) ([]models.Payment, error) {
	acct, err := c.cachedAccount(ctx)
	if err != nil {
		return nil, err
	}

	start, end = c.defaultRange(start, end, 730)
	body := map[string]any{
		"accountId": acct.AccountID.String(),
		"startDate": start.Format("2006-01-02"),
		"endDate":   end.Format("2006-01-02"),
		"admin":     false,
		"email":     c.username,
	}

	var resp paymentResponse
	if err := c.post(ctx, "/history/payment", body, &resp); err != nil {
		return nil, fmt.Errorf("getting payment history: %w", err)
	}

	payments := make([]models.Payment, 0, len(resp.Payment))
	for _, p := range resp.Payment {
		date, err := parseAPIDate(p.PaymentDate)
		if err != nil || date.IsZero() {
			c.logger.Warn("skipping payment with bad date", zap.String("date", p.PaymentDate))
			continue
		}
		payments = append(payments, models.Payment{
			Date:       date,
			Amount:     p.PaymentAmount.Value().Abs(),
			TenderType: p.TenderType,
			Source:     p.Source,
		})
	}
	return payments, nil
}

// BillPDFURL builds the document URL for a bill. Bills live next to the
// account's current bill: <dir>/<accountId>_<billId>_<YYYYMMDD>.pdf
func (c *Client) BillPDFURL(ctx context.Context, bill Bill) (string, error) {
	acct, err := c.cachedAccount(ctx)
	if err != nil {
		return "", err
	}
	if acct.BillDisplayURL == "" {
		return "", fmt.Errorf("no bill URL found in account data")
	}
	if bill.BillID == "" || bill.BillDate == "" {
		return "", fmt.Errorf("bill is missing id or date")
	}

	i := strings.LastIndex(acct.BillDisplayURL, "/")
	if i < 0 {
		return "", fmt.Errorf("unexpected bill URL %q", acct.BillDisplayURL)
	}
	base := acct.BillDisplayURL[:i]
	date := strings.ReplaceAll(bill.BillDate, "-", "")
	if len(date) > 8 {
		date = date[:8]
	}

	return fmt.Sprintf("%s/%s_%s_%s.pdf", base, acct.AccountID, bill.BillID, date), nil
}

// GetBillPDF downloads a bill document. The document store is public, so
// no token is sent.
func (c *Client) GetBillPDF(ctx context.Context, bill Bill) ([]byte, error) {
	pdfURL, err := c.BillPDFURL(ctx, bill)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", pdfURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s (HTTP %d)", ErrBillNotFound, pdfURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", pdfURL, err)
	}
	return data, nil
}
