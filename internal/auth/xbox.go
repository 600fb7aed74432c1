package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type xboxAuthRequest struct {
	Properties   xboxAuthProperties `json:"Properties"`
	RelyingParty string             `json:"RelyingParty"`
	TokenType    string             `json:"TokenType"`
}

type xboxAuthProperties struct {
	AuthMethod string   `json:"AuthMethod,omitempty"`
	SiteName   string   `json:"SiteName,omitempty"`
	RpsTicket  string   `json:"RpsTicket,omitempty"`
	SandboxId  string   `json:"SandboxId,omitempty"`
	UserTokens []string `json:"UserTokens,omitempty"`
}

type xboxAuthResponse struct {
	Token         string `json:"Token"`
	DisplayClaims struct {
		XUI []struct {
			UHS string `json:"uhs"`
		} `json:"xui"`
	} `json:"DisplayClaims"`
}

// userHash returns the uhs claim needed for the Minecraft login credential
func (r *xboxAuthResponse) userHash() string {
	if len(r.DisplayClaims.XUI) == 0 {
		return ""
	}
	return r.DisplayClaims.XUI[0].UHS
}

// xstsErrorResponse is the body of an XSTS 401 for ineligible accounts
type xstsErrorResponse struct {
	XErr    int64  `json:"XErr"`
	Message string `json:"Message"`
}

// authenticateXbox exchanges the Microsoft access token, posted as an
// RPS ticket, for an Xbox Live token and user hash
func (c *Client) authenticateXbox(ctx context.Context, msAccessToken string) (*xboxAuthResponse, error) {
	reqBody := xboxAuthRequest{
		Properties: xboxAuthProperties{
			AuthMethod: "RPS",
			SiteName:   "user.auth.xboxlive.com",
			RpsTicket:  "d=" + msAccessToken,
		},
		RelyingParty: "http://auth.xboxlive.com",
		TokenType:    "JWT",
	}
	return c.doXboxRequest(ctx, xboxUserAuthURL, reqBody)
}

// authenticateXSTS exchanges the Xbox Live token for an XSTS token
// scoped to the Minecraft relying party. A 401 with an XErr code means
// the account itself is ineligible and is surfaced as a distinct,
// user-readable error.
func (c *Client) authenticateXSTS(ctx context.Context, xboxToken string) (*xboxAuthResponse, error) {
	reqBody := xboxAuthRequest{
		Properties: xboxAuthProperties{
			SandboxId:  "RETAIL",
			UserTokens: []string{xboxToken},
		},
		RelyingParty: "rp://api.minecraftservices.com/",
		TokenType:    "JWT",
	}
	return c.doXboxRequest(ctx, xstsAuthURL, reqBody)
}

func (c *Client) doXboxRequest(ctx context.Context, endpoint string, body xboxAuthRequest) (*xboxAuthResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-xbl-contract-version", "1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		var xerr xstsErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&xerr); err == nil && xerr.XErr != 0 {
			return nil, xboxProfileError(xerr.XErr)
		}
		return nil, tokenExchangeFailed("Xbox sign-in was refused", fmt.Errorf("xbox auth unauthorized"))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, tokenExchangeFailed(
			fmt.Sprintf("Xbox sign-in failed (%d)", resp.StatusCode),
			fmt.Errorf("xbox auth failed (%d): %s", resp.StatusCode, string(respBody)),
		)
	}

	var result xboxAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
