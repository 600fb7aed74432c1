package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Scopes requested from the Microsoft identity platform. XboxLive.signin
// feeds the Xbox hop, offline_access yields the refresh token.
var msaScopes = []string{"XboxLive.signin", "offline_access"}

// MicrosoftToken is the output of the first hop. Expiry is stored as
// an absolute timestamp, never a duration.
type MicrosoftToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// DeviceCode is the device-authorization response shown to the user
type DeviceCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Interval        time.Duration
	ExpiresAt       time.Time
}

func (c *Client) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.clientID,
		RedirectURL: redirectURI,
		Scopes:      msaScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       msaAuthorizeURL,
			TokenURL:      msaTokenURL,
			DeviceAuthURL: msaDeviceCodeURL,
		},
	}
}

// httpCtx makes x/oauth2 use our retrying client
func (c *Client) httpCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// AuthCodeURL builds the browser authorization URL for one sign-in
// attempt, binding it to the attempt's state nonce and PKCE challenge
func (c *Client) AuthCodeURL(redirectURI, state string, pkce PKCE) string {
	cfg := c.oauthConfig(redirectURI)
	// S256ChallengeOption takes the verifier and derives the challenge
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(pkce.Verifier))
}

// ExchangeCode trades an authorization code plus its PKCE verifier for
// the Microsoft token pair. Provider rejections (invalid_grant and
// friends) are terminal for the attempt.
func (c *Client) ExchangeCode(ctx context.Context, redirectURI, code, verifier string) (*MicrosoftToken, error) {
	cfg := c.oauthConfig(redirectURI)
	tok, err := cfg.Exchange(c.httpCtx(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, mapTokenEndpointError(err, false)
	}
	return microsoftTokenFrom(tok), nil
}

// RefreshMicrosoftToken runs the refresh_token grant. A rejected
// refresh token is reported as ErrRefreshTokenRevoked so the caller
// can flag the account for re-login instead of deleting it.
func (c *Client) RefreshMicrosoftToken(ctx context.Context, refreshToken string) (*MicrosoftToken, error) {
	cfg := c.oauthConfig("")
	src := cfg.TokenSource(c.httpCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapTokenEndpointError(err, true)
	}
	return microsoftTokenFrom(tok), nil
}

// RequestDeviceCode initiates the device code flow
func (c *Client) RequestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	cfg := c.oauthConfig("")
	resp, err := cfg.DeviceAuth(c.httpCtx(ctx))
	if err != nil {
		return nil, mapTokenEndpointError(err, false)
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval == 0 {
		interval = 5 * time.Second
	}
	expiry := resp.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(15 * time.Minute)
	}

	return &DeviceCode{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		Interval:        interval,
		ExpiresAt:       expiry,
	}, nil
}

// PollDeviceToken polls the token endpoint at the server-specified
// interval until the user completes sign-in elsewhere. The loop is
// cancellable through ctx and obeys slow_down by widening the
// interval. Hitting the device code's expiry is terminal.
func (c *Client) PollDeviceToken(ctx context.Context, dc *DeviceCode) (*MicrosoftToken, error) {
	data := url.Values{
		"client_id":   {c.clientID},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {dc.DeviceCode},
	}
	interval := dc.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for time.Now().Before(dc.ExpiresAt) {
		if err := c.sleep(ctx, interval); err != nil {
			return nil, err
		}

		tok, pollErr, err := c.pollOnce(ctx, data)
		if err != nil {
			// Transport-level failure: the retry client already tried
			// once more, keep polling until the code expires.
			c.log.Warn().Err(err).Msg("device token poll failed, will retry")
			continue
		}
		if tok != nil {
			return tok, nil
		}

		switch pollErr {
		case "authorization_pending":
			continue
		case "slow_down":
			interval += 5 * time.Second
			continue
		case "expired_token":
			return nil, deviceCodeExpired()
		default:
			return nil, tokenExchangeFailed("Microsoft rejected the sign-in: "+pollErr, errors.New(pollErr))
		}
	}
	return nil, deviceCodeExpired()
}

// pollOnce returns (token, "", nil) on success, (nil, errorCode, nil)
// on an OAuth error response, and (nil, "", err) on transport failure
func (c *Client) pollOnce(ctx context.Context, data url.Values) (*MicrosoftToken, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msaTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		Error        string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, "", err
	}

	if result.Error != "" {
		return nil, result.Error, nil
	}
	return &MicrosoftToken{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}, "", nil
}

func microsoftTokenFrom(tok *oauth2.Token) *MicrosoftToken {
	return &MicrosoftToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}

// mapTokenEndpointError classifies failures from the Microsoft token
// endpoint: provider rejections become typed auth errors, anything
// else is a network error.
func mapTokenEndpointError(err error, refreshing bool) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.ErrorCode
		if refreshing && (code == "invalid_grant" || code == "expired_token") {
			return refreshTokenRevoked(err)
		}
		detail := re.ErrorDescription
		if detail == "" {
			detail = "Microsoft rejected the sign-in (" + code + ")"
		}
		return tokenExchangeFailed(detail, err)
	}
	return networkError(err)
}
