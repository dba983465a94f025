package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shineum/mailer-lite/internal/secret"
)

// graphScope requests the application permissions granted to the app
// registration, Mail.Send among them.
const graphScope = "https://graph.microsoft.com/.default"

// tokenResponse is the subset of the token endpoint response we read.
// Error fields are only used to describe failures.
type tokenResponse struct {
	AccessToken      *string `json:"access_token"`
	Error            string  `json:"error"`
	ErrorDescription string  `json:"error_description"`
}

// fetchAccessToken performs one OAuth2 client credentials grant against
// tokenURL. There is no retry and no caching: the caller keeps the token.
func fetchAccessToken(ctx context.Context, client *http.Client, tokenURL, clientID string, clientSecret secret.Secret) (secret.Secret, error) {
	data := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret.Expose()},
		"grant_type":    {"client_credentials"},
		"scope":         {graphScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return secret.Secret{}, &Error{Kind: ErrTokenRequestFailed, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return secret.Secret{}, &Error{Kind: ErrTokenRequestFailed, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return secret.Secret{}, &Error{Kind: ErrTokenResponseUnreadable, StatusCode: resp.StatusCode, Err: err}
	}

	// Error responses carry no access_token and are reported as
	// unparseable, with the status and error fields attached.
	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return secret.Secret{}, &Error{Kind: ErrTokenResponseUnparseable, StatusCode: resp.StatusCode, Err: err}
	}

	if tokenResp.AccessToken == nil || *tokenResp.AccessToken == "" {
		cause := errors.New("response missing access_token")
		if tokenResp.Error != "" {
			cause = fmt.Errorf("response missing access_token: %s: %s", tokenResp.Error, tokenResp.ErrorDescription)
		}
		return secret.Secret{}, &Error{Kind: ErrTokenResponseUnparseable, StatusCode: resp.StatusCode, Err: cause}
	}

	return secret.New(*tokenResp.AccessToken), nil
}
