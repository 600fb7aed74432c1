package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/quasar/mcauth/internal/account"
)

type minecraftAuthRequest struct {
	IdentityToken string `json:"identityToken"`
}

type minecraftAuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type minecraftProfileResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Skins []struct {
		State   string `json:"state"`
		URL     string `json:"url"`
		Variant string `json:"variant"`
	} `json:"skins"`
}

// loginWithXbox exchanges the XSTS token and user hash for the final
// Minecraft access token
func (c *Client) loginWithXbox(ctx context.Context, uhs, xstsToken string) (*minecraftAuthResponse, error) {
	reqBody := minecraftAuthRequest{
		IdentityToken: fmt.Sprintf("XBL3.0 x=%s;%s", uhs, xstsToken),
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mcAuthURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, tokenExchangeFailed(
			"Minecraft sign-in failed",
			fmt.Errorf("minecraft login failed (%d): %s", resp.StatusCode, string(respBody)),
		)
	}

	var result minecraftAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// fetchProfile gets the Minecraft profile (uuid, name, skin). A 404
// means the authenticated Microsoft account owns no Minecraft license,
// which is distinct from transient failure.
func (c *Client) fetchProfile(ctx context.Context, accessToken string) (*account.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mcProfileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, noMinecraftLicense()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, tokenExchangeFailed(
			"could not fetch the Minecraft profile",
			fmt.Errorf("fetch profile failed: %d", resp.StatusCode),
		)
	}

	var result minecraftProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	profile := &account.Profile{
		UUID:     result.ID,
		Username: result.Name,
	}
	for _, skin := range result.Skins {
		if skin.State == "ACTIVE" {
			profile.SkinURL = skin.URL
			break
		}
	}
	return profile, nil
}
