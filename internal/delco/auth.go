package delco

import (
	"context"
	"errors"
	"fmt"
	"time"

	cognitosrp "github.com/alexrudd/cognito-srp/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
)

// Fixed identity provider used by the Del-Co customer portal
const (
	CognitoRegion     = "us-east-2"
	CognitoUserPoolID = "us-east-2_OicSaC5QT"
	CognitoClientID   = "2uh8gm2iusiquj7m2tt55dfpce"
)

// tokens are treated as expired this long before Cognito says so
const expiryLeeway = 2 * time.Minute

// ErrNotAuthenticated is returned when a call needs a token and none can be obtained
var ErrNotAuthenticated = errors.New("not authenticated")

// AuthError represents an authentication failure
type AuthError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Tokens are the Cognito tokens for one session
type Tokens struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	Expiry       time.Time
}

// Valid reports whether the access token can still be used at now
func (t Tokens) Valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Before(t.Expiry.Add(-expiryLeeway))
}

// TokenSource obtains and refreshes API tokens
type TokenSource interface {
	Authenticate(ctx context.Context) (Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

type cognitoAPI interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	RespondToAuthChallenge(ctx context.Context, params *cip.RespondToAuthChallengeInput, optFns ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error)
}

// CognitoAuth signs in with USER_SRP_AUTH, the same flow the portal uses
type CognitoAuth struct {
	api      cognitoAPI
	username string
	password string
	poolID   string
	clientID string
	now      func() time.Time
}

// NewCognitoAuth creates a token source for the given portal credentials
func NewCognitoAuth(username, password string) *CognitoAuth {
	api := cip.New(cip.Options{
		Region:      CognitoRegion,
		Credentials: aws.AnonymousCredentials{},
	})
	return newCognitoAuth(api, username, password)
}

func newCognitoAuth(api cognitoAPI, username, password string) *CognitoAuth {
	return &CognitoAuth{
		api:      api,
		username: username,
		password: password,
		poolID:   CognitoUserPoolID,
		clientID: CognitoClientID,
		now:      time.Now,
	}
}

// Authenticate runs the full SRP exchange
func (a *CognitoAuth) Authenticate(ctx context.Context) (Tokens, error) {
	if a.username == "" || a.password == "" {
		return Tokens{}, &AuthError{Message: "cannot authenticate: no username/password configured", Err: ErrNotAuthenticated}
	}

	csrp, err := cognitosrp.NewCognitoSRP(a.username, a.password, a.poolID, a.clientID, nil)
	if err != nil {
		return Tokens{}, fmt.Errorf("preparing SRP: %w", err)
	}

	initOut, err := a.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserSrpAuth,
		ClientId:       aws.String(csrp.GetClientId()),
		AuthParameters: csrp.GetAuthParams(),
	})
	if err != nil {
		return Tokens{}, &AuthError{Message: fmt.Sprintf("initiating auth: %v", err), Err: err}
	}
	if initOut.ChallengeName != types.ChallengeNameTypePasswordVerifier {
		return Tokens{}, &AuthError{Message: fmt.Sprintf("unexpected challenge %q", initOut.ChallengeName)}
	}

	responses, err := csrp.PasswordVerifierChallenge(initOut.ChallengeParameters, a.now())
	if err != nil {
		return Tokens{}, fmt.Errorf("answering password verifier: %w", err)
	}

	respOut, err := a.api.RespondToAuthChallenge(ctx, &cip.RespondToAuthChallengeInput{
		ChallengeName:      types.ChallengeNameTypePasswordVerifier,
		ChallengeResponses: responses,
		ClientId:           aws.String(csrp.GetClientId()),
		Session:            initOut.Session,
	})
	if err != nil {
		return Tokens{}, &AuthError{Message: fmt.Sprintf("authentication failed: %v", err), Err: err}
	}
	if respOut.AuthenticationResult == nil {
		// MFA or a forced password change; neither can be answered unattended
		return Tokens{}, &AuthError{Message: fmt.Sprintf("authentication needs interactive challenge %q", respOut.ChallengeName)}
	}

	return a.tokensFrom(respOut.AuthenticationResult, ""), nil
}

// Refresh trades a refresh token for a new access token
func (a *CognitoAuth) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if refreshToken == "" {
		return Tokens{}, &AuthError{Message: "no refresh token", Err: ErrNotAuthenticated}
	}

	out, err := a.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(a.clientID),
		AuthParameters: map[string]string{"REFRESH_TOKEN": refreshToken},
	})
	if err != nil {
		return Tokens{}, &AuthError{Message: fmt.Sprintf("refreshing token: %v", err), Err: err}
	}
	if out.AuthenticationResult == nil {
		return Tokens{}, &AuthError{Message: "refresh returned no tokens"}
	}

	// Cognito does not rotate the refresh token on REFRESH_TOKEN_AUTH
	return a.tokensFrom(out.AuthenticationResult, refreshToken), nil
}

func (a *CognitoAuth) tokensFrom(res *types.AuthenticationResultType, refreshToken string) Tokens {
	t := Tokens{
		AccessToken:  aws.ToString(res.AccessToken),
		IDToken:      aws.ToString(res.IdToken),
		RefreshToken: aws.ToString(res.RefreshToken),
	}
	if t.RefreshToken == "" {
		t.RefreshToken = refreshToken
	}
	if res.ExpiresIn > 0 {
		t.Expiry = a.now().Add(time.Duration(res.ExpiresIn) * time.Second)
	}
	return t
}
