package provider

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// handleToken is the /token endpoint (§4.6), supporting the
// authorization_code and refresh_token grants — the two grants this
// engine's own session/credentials subsystem acts as identity source
// for. Errors render via apierror.WriteTokenError, matching dex's
// tokenErrHelper split from its JSON success path.
func (p *Provider) handleToken(c *plugin.Context) error {
	noStore(c.W)
	if err := c.R.ParseForm(); err != nil {
		apierror.WriteTokenError(c.W, apierror.BadRequest("invalid_request", "malformed form body"), "")
		return nil
	}
	switch c.R.PostFormValue("grant_type") {
	case "authorization_code":
		p.handleAuthCodeGrant(c)
	case "refresh_token":
		p.handleRefreshGrant(c)
	default:
		apierror.WriteTokenError(c.W, apierror.BadRequest("unsupported_grant_type", ""), "")
	}
	return nil
}

func (p *Provider) handleAuthCodeGrant(c *plugin.Context) {
	codeVal := c.R.PostFormValue("code")
	// An authorization code is single-use regardless of outcome:
	// ConsumeOne finds and deletes it as one atomic operation, so two
	// concurrent redemptions of the same code can't both observe it
	// before either one deletes it.
	rec, err := p.store.ConsumeOne(c, storage.ModelOAuthCode, []storage.Where{storage.Eq("code", codeVal)})
	if err != nil {
		apierror.WriteTokenError(c.W, apierror.BadRequest("invalid_grant", "authorization code is invalid or expired"), "")
		return
	}
	code := storage.OAuthCodeFromRecord(rec)

	if p.now().After(code.ExpiresAt) {
		apierror.WriteTokenError(c.W, apierror.BadRequest("invalid_grant", "authorization code has expired"), "")
		return
	}
	client, err := p.lookupClient(c, code.ClientID)
	if err != nil {
		apierror.WriteTokenError(c.W, apierror.Unauthorized("invalid_client", "client authentication failed"), "")
		return
	}
	if !p.authenticateClient(c.R, client) {
		apierror.WriteTokenError(c.W, apierror.Unauthorized("invalid_client", "client authentication failed"), "")
		return
	}
	if c.R.PostFormValue("redirect_uri") != code.RedirectURI {
		apierror.WriteTokenError(c.W, apierror.BadRequest("invalid_grant", "redirect_uri does not match the authorization request"), "")
		return
	}
	if code.CodeChallenge != "" && !verifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, c.R.PostFormValue("code_verifier")) {
		apierror.WriteTokenError(c.W, apierror.BadRequest("invalid_grant", "code_verifier does not match code_challenge"), "")
		return
	}

	resp, err := p.issueTokenPair(c, client.ClientID, code.UserID, code.Scopes, code.Nonce)
	if err != nil {
		apierror.WriteTokenError(c.W, err, "")
		return
	}
	writeJSON(c, 200, resp)
}

func (p *Provider) handleRefreshGrant(c *plugin.Context) {
	refreshToken := c.R.PostFormValue("refresh_token")
	rec, err := p.store.FindOne(c, storage.ModelOAuthAccessToken, []storage.Where{storage.Eq("refreshToken", refreshToken)}, nil)
	if err != nil {
		apierror.WriteTokenError(c.W, apierror.BadRequest("invalid_grant", "refresh token is invalid"), "")
		return
	}
	existing := storage.OAuthAccessTokenFromRecord(rec)
	client, err := p.lookupClient(c, existing.ClientID)
	if err != nil || !p.authenticateClient(c.R, client) {
		apierror.WriteTokenError(c.W, apierror.Unauthorized("invalid_client", "client authentication failed"), "")
		return
	}
	// Rotating refresh tokens are single-use: consume the row
	// atomically now that the client is authenticated, so a refresh
	// token replayed concurrently can win the race at most once instead
	// of both requests minting a token pair from the same row.
	if _, err := p.store.ConsumeOne(c, storage.ModelOAuthAccessToken, []storage.Where{storage.Eq("id", existing.ID)}); err != nil {
		apierror.WriteTokenError(c.W, apierror.BadRequest("invalid_grant", "refresh token is invalid"), "")
		return
	}

	resp, err := p.issueTokenPair(c, existing.ClientID, existing.UserID, existing.Scopes, "")
	if err != nil {
		apierror.WriteTokenError(c.W, err, "")
		return
	}
	writeJSON(c, 200, resp)
}

func (p *Provider) issueTokenPair(c *plugin.Context, clientID, userID string, scopes []string, nonce string) (tokenResponse, error) {
	now := p.now()
	rec := storage.OAuthAccessToken{
		ID:           storage.NewID(),
		AccessToken:  storage.NewToken(),
		RefreshToken: storage.NewToken(),
		ClientID:     clientID,
		UserID:       userID,
		Scopes:       scopes,
		ExpiresAt:    now.Add(p.cfg.AccessTokenTTL),
		CreatedAt:    now,
	}
	if !hasScope(scopes, "offline_access") {
		rec.RefreshToken = ""
	}
	if _, err := p.store.Create(c, storage.ModelOAuthAccessToken, rec.ToRecord()); err != nil {
		return tokenResponse{}, apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}

	resp := tokenResponse{
		AccessToken:  rec.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: rec.RefreshToken,
		Scope:        joinScopes(scopes),
	}
	if hasScope(scopes, "openid") {
		claims := newIDTokenClaims(p.cfg.Issuer, userID, clientID, nonce, now, p.cfg.IDTokenTTL)
		if err := p.fillIDTokenClaims(c, &claims, scopes); err != nil {
			return tokenResponse{}, err
		}
		idToken, err := p.keys.Sign(c, claims)
		if err != nil {
			return tokenResponse{}, apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
		}
		resp.IDToken = idToken
	}
	return resp, nil
}

func (p *Provider) fillIDTokenClaims(c *plugin.Context, claims *IDTokenClaims, scopes []string) error {
	rec, err := p.store.FindOne(c, storage.ModelUser, []storage.Where{storage.Eq("id", claims.Subject)}, nil)
	if err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", "user backing this token no longer exists")
	}
	user := storage.UserFromRecord(rec)
	if hasScope(scopes, "email") {
		claims.Email = user.Email
		verified := user.EmailVerified
		claims.EmailVerified = &verified
	}
	if hasScope(scopes, "profile") {
		claims.Name = user.Name
		claims.Picture = user.Image
	}
	return nil
}

// verifyPKCE checks a code_verifier against the code_challenge recorded
// at /authorize time, supporting both RFC 7636 transform methods.
func verifyPKCE(challenge, method, verifier string) bool {
	if verifier == "" {
		return false
	}
	switch method {
	case "", "plain":
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(verifier)) == 1
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(computed)) == 1
	default:
		return false
	}
}
