package delco

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/golang-jwt/jwt/v5"
)

// cognitoStorageScript collects the tokens the Amplify/Cognito SDK keeps
// in localStorage under CognitoIdentityServiceProvider.<client>.<user>.<kind>
const cognitoStorageScript = `
(function() {
	const out = {};
	for (let i = 0; i < localStorage.length; i++) {
		const key = localStorage.key(i);
		if (!key.startsWith('CognitoIdentityServiceProvider.')) continue;
		const kind = key.split('.').pop();
		if (kind === 'accessToken' || kind === 'idToken' || kind === 'refreshToken') {
			out[kind] = localStorage.getItem(key);
		}
	}
	return JSON.stringify(out);
})()
`

// BrowserLogin opens the customer portal so a person can sign in (for
// example when the account has MFA), then captures the session tokens.
type BrowserLogin struct {
	PortalURL string
	APIBase   string
	Visible   bool
	Timeout   time.Duration
}

// Capture navigates to the portal, calls waitForUser, and returns the tokens
// seen on API requests or in localStorage, whichever has more.
func (b *BrowserLogin) Capture(ctx context.Context, waitForUser func() error) (Tokens, error) {
	if b.PortalURL == "" {
		return Tokens{}, fmt.Errorf("no portal URL configured (set delco.portal_url)")
	}
	apiBase := b.APIBase
	if apiBase == "" {
		apiBase = DefaultBaseURL
	}
	timeout := b.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !b.Visible),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	// Capture the bearer token from the first API request the portal makes
	var (
		mu       sync.Mutex
		captured string
	)
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if ev, ok := ev.(*network.EventRequestWillBeSent); ok {
			if !strings.HasPrefix(ev.Request.URL, apiBase) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if captured != "" {
				return
			}
			for name, value := range ev.Request.Headers {
				if !strings.EqualFold(name, "Authorization") {
					continue
				}
				if s, ok := value.(string); ok {
					captured = strings.TrimSpace(strings.TrimPrefix(s, "Bearer "))
				}
			}
		}
	})

	if err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(b.PortalURL),
	); err != nil {
		return Tokens{}, fmt.Errorf("navigating to portal: %w", err)
	}

	if err := waitForUser(); err != nil {
		return Tokens{}, err
	}

	var raw string
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(cognitoStorageScript, &raw)); err != nil {
		return Tokens{}, fmt.Errorf("reading portal storage: %w", err)
	}

	mu.Lock()
	fromNetwork := captured
	mu.Unlock()

	return mergeBrowserTokens(raw, fromNetwork)
}

// mergeBrowserTokens prefers the bearer token seen on an API request and
// falls back to the access token in localStorage. The id and refresh tokens
// only ever come from storage. Expiry is read from the access token's exp
// claim; when it cannot be read the expiry stays zero and the token is used
// until the API rejects it.
func mergeBrowserTokens(storageJSON, networkToken string) (Tokens, error) {
	var stored struct {
		AccessToken  string `json:"accessToken"`
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if storageJSON != "" {
		if err := json.Unmarshal([]byte(storageJSON), &stored); err != nil {
			return Tokens{}, fmt.Errorf("decoding portal storage: %w", err)
		}
	}

	t := Tokens{
		AccessToken:  networkToken,
		IDToken:      stored.IDToken,
		RefreshToken: stored.RefreshToken,
	}
	if t.AccessToken == "" {
		t.AccessToken = stored.AccessToken
	}
	if t.AccessToken == "" {
		return Tokens{}, fmt.Errorf("could not capture an access token (did the login complete?)")
	}
	t.Expiry = tokenExpiry(t.AccessToken)
	return t, nil
}

// tokenExpiry returns the exp claim of a JWT without verifying it, or zero
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
