package delco

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCognito struct {
	initInputs []*cip.InitiateAuthInput
	initOut    *cip.InitiateAuthOutput
	initErr    error
}

func (f *fakeCognito) InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
	f.initInputs = append(f.initInputs, params)
	return f.initOut, f.initErr
}

func (f *fakeCognito) RespondToAuthChallenge(ctx context.Context, params *cip.RespondToAuthChallengeInput, optFns ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error) {
	return nil, errors.New("not expected in these tests")
}

func TestCognitoRefreshKeepsRefreshToken(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeCognito{initOut: &cip.InitiateAuthOutput{
		AuthenticationResult: &types.AuthenticationResultType{
			AccessToken: aws.String("new-access"),
			IdToken:     aws.String("new-id"),
			ExpiresIn:   3600,
		},
	}}
	auth := newCognitoAuth(api, "me@example.com", "pw")
	auth.now = func() time.Time { return now }

	tokens, err := auth.Refresh(context.Background(), "long-lived")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tokens.AccessToken)
	assert.Equal(t, "long-lived", tokens.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), tokens.Expiry)

	require.Len(t, api.initInputs, 1)
	in := api.initInputs[0]
	assert.Equal(t, types.AuthFlowTypeRefreshTokenAuth, in.AuthFlow)
	assert.Equal(t, CognitoClientID, aws.ToString(in.ClientId))
	assert.Equal(t, "long-lived", in.AuthParameters["REFRESH_TOKEN"])
}

func TestCognitoRefreshWithoutTokenIsAuthError(t *testing.T) {
	auth := newCognitoAuth(&fakeCognito{}, "me@example.com", "pw")

	_, err := auth.Refresh(context.Background(), "")
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestCognitoAuthenticateRequiresCredentials(t *testing.T) {
	api := &fakeCognito{}
	auth := newCognitoAuth(api, "", "")

	_, err := auth.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Empty(t, api.initInputs)
}

func TestCognitoAuthenticateStartsSRPFlow(t *testing.T) {
	api := &fakeCognito{initErr: errors.New("NotAuthorizedException: Incorrect username or password")}
	auth := newCognitoAuth(api, "me@example.com", "wrong")

	_, err := auth.Authenticate(context.Background())
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Error(), "Incorrect username or password")

	require.Len(t, api.initInputs, 1)
	in := api.initInputs[0]
	assert.Equal(t, types.AuthFlowTypeUserSrpAuth, in.AuthFlow)
	assert.Equal(t, "me@example.com", in.AuthParameters["USERNAME"])
	assert.NotEmpty(t, in.AuthParameters["SRP_A"])
}

func TestTokensValid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, Tokens{}.Valid(now))
	assert.True(t, Tokens{AccessToken: "a"}.Valid(now), "no expiry means trust the server")
	assert.True(t, Tokens{AccessToken: "a", Expiry: now.Add(time.Hour)}.Valid(now))
	assert.False(t, Tokens{AccessToken: "a", Expiry: now.Add(time.Minute)}.Valid(now), "inside the leeway")
	assert.False(t, Tokens{AccessToken: "a", Expiry: now.Add(-time.Minute)}.Valid(now))
}
