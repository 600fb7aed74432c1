package auth

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMinecraft_HopsRunInStrictOrder(t *testing.T) {
	f := newFakeServices(t)
	c := newTestClient()

	session, err := c.ResolveMinecraft(context.Background(), "ms-access-token")
	require.NoError(t, err)

	assert.Equal(t, []string{"xbox", "xsts", "mclogin", "profile"}, f.callOrder())
	assert.Equal(t, "mc-access-token", session.AccessToken)
	assert.Equal(t, "Steve", session.Profile.Username)
	assert.Equal(t, "069a79f444e94726a5befca90e38aaf5", session.Profile.UUID)
	assert.Equal(t, "http://textures.minecraft.net/texture/abc", session.Profile.SkinURL)
	assert.False(t, session.ExpiresAt.IsZero())
}

func TestResolveMinecraft_XSTSFailureStopsChain(t *testing.T) {
	f := newFakeServices(t)
	f.xstsHandler = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"XErr":    2148916233,
			"Message": "",
		})
	}
	c := newTestClient()

	_, err := c.ResolveMinecraft(context.Background(), "ms-access-token")
	require.ErrorIs(t, err, ErrXboxProfile)
	assert.Contains(t, UserMessage(err), "no Xbox profile")

	// The Minecraft login hop must never run without an XSTS token
	assert.Equal(t, []string{"xbox", "xsts"}, f.callOrder())
}

func TestResolveMinecraft_XSTSVariants(t *testing.T) {
	cases := []struct {
		xerr int64
		want string
	}{
		{2148916235, "region"},
		{2148916236, "adult verification"},
		{2148916238, "child account"},
	}
	for _, tc := range cases {
		f := newFakeServices(t)
		f.xstsHandler = func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"XErr": tc.xerr})
		}
		c := newTestClient()

		_, err := c.ResolveMinecraft(context.Background(), "token")
		require.ErrorIs(t, err, ErrXboxProfile)
		assert.Contains(t, UserMessage(err), tc.want)
	}
}

func TestResolveMinecraft_NoLicense(t *testing.T) {
	f := newFakeServices(t)
	f.profileHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}
	c := newTestClient()

	_, err := c.ResolveMinecraft(context.Background(), "ms-access-token")
	require.ErrorIs(t, err, ErrNoMinecraftLicense)
	assert.Equal(t, []string{"xbox", "xsts", "mclogin", "profile"}, f.callOrder())
}
