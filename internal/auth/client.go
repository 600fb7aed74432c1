// Package auth implements the Microsoft → Xbox Live → XSTS → Minecraft
// authentication chain, both interactive flows, account refresh, and
// the orchestration around them.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/quasar/mcauth/internal/account"
	"github.com/quasar/mcauth/internal/logging"
)

// Endpoint URLs are vars so tests can point them at a local server.
var (
	msaAuthorizeURL  = "https://login.microsoftonline.com/consumers/oauth2/v2.0/authorize"
	msaDeviceCodeURL = "https://login.microsoftonline.com/consumers/oauth2/v2.0/devicecode"
	msaTokenURL      = "https://login.microsoftonline.com/consumers/oauth2/v2.0/token"
	xboxUserAuthURL  = "https://user.auth.xboxlive.com/user/authenticate"
	xstsAuthURL      = "https://xsts.auth.xboxlive.com/xsts/authorize"
	mcAuthURL        = "https://api.minecraftservices.com/authentication/login_with_xbox"
	mcProfileURL     = "https://api.minecraftservices.com/minecraft/profile"
)

// Client performs the token-exchange chain. Each hop is a single
// round trip; connection-level failures and 5xx are retried once with
// a short backoff, 4xx never (those are protocol errors, not
// transience).
type Client struct {
	http     *http.Client
	clientID string
	log      *logging.Logger

	// sleep is injected so tests can simulate elapsed time in the
	// device-code poll loop
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates an authentication client for the given public
// application (client) id
func NewClient(clientID string, log *logging.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 1
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &Client{
		http:     rc.StandardClient(),
		clientID: clientID,
		log:      log,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// MinecraftSession is the fully resolved result of the exchange chain
type MinecraftSession struct {
	AccessToken string
	ExpiresAt   time.Time
	Profile     account.Profile
}

// ResolveMinecraft walks steps 2-5 of the chain: Xbox Live user auth,
// XSTS authorization, Minecraft services login, profile fetch. The
// steps are strictly sequential; each one's output is the next one's
// required input.
func (c *Client) ResolveMinecraft(ctx context.Context, msAccessToken string) (*MinecraftSession, error) {
	xbox, err := c.authenticateXbox(ctx, msAccessToken)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Msg("xbox live token obtained")

	xsts, err := c.authenticateXSTS(ctx, xbox.Token)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Msg("xsts token obtained")

	uhs := xbox.userHash()
	mc, err := c.loginWithXbox(ctx, uhs, xsts.Token)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Msg("minecraft token obtained")

	profile, err := c.fetchProfile(ctx, mc.AccessToken)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("username", profile.Username).Msg("minecraft profile resolved")

	return &MinecraftSession{
		AccessToken: mc.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(mc.ExpiresIn) * time.Second),
		Profile:     *profile,
	}, nil
}
