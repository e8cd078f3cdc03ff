package authcore

import (
	"encoding/json"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/oauthclient"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

type signInSocialRequest struct {
	Provider          string `json:"provider"`
	CallbackURL       string `json:"callbackURL,omitempty"`
	ErrorCallbackURL  string `json:"errorCallbackURL,omitempty"`
	NewUserCallbackURL string `json:"newUserCallbackURL,omitempty"`
	RequestSignUp     bool   `json:"requestSignUp,omitempty"`
	// Link, when true and the caller already has a session, attaches
	// the resulting identity to the signed-in user instead of
	// resolving/creating a separate one (§4.5 step 1).
	Link bool `json:"link,omitempty"`
}

type signInSocialResponse struct {
	URL      string `json:"url"`
	Redirect bool   `json:"redirect"`
}

// handleSignInSocial implements POST /sign-in/social (§4.5): begins an
// authorization-code round trip against a configured oauthclient.Provider.
func (c *Core) handleSignInSocial(ctx *plugin.Context) error {
	var req signInSocialRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}
	provider, ok := c.oauth[req.Provider]
	if !ok {
		return apierror.BadRequest("UNKNOWN_PROVIDER", "no such social provider is configured")
	}
	params := oauthclient.BeginParams{
		CallbackURL:   req.CallbackURL,
		ErrorURL:      req.ErrorCallbackURL,
		NewUserURL:    req.NewUserCallbackURL,
		RequestSignUp: req.RequestSignUp,
	}
	if req.Link && ctx.Session != nil {
		params.LinkUserID = ctx.Session.UserID
	}
	url, err := oauthclient.BeginAuthorization(ctx.W, c.cookieSigner, provider, true, c.cfg.Secure, params)
	if err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	writeJSON(ctx, 200, signInSocialResponse{URL: url, Redirect: true})
	return nil
}

// handleCallback implements GET /callback/{provider} (§4.5's
// handleOAuthUserInfo): exchanges the code, resolves identity, then
// either links to an existing account, signs in an email match, or
// provisions a new user — matching dex connector.HandleCallback's
// token-exchange-then-identity-resolution shape, generalized onto the
// spec's link/lookup/create trichotomy. An unknown provider is rejected
// with a JSON error; once the provider is known, every outcome is a redirect:
// success goes to newUserURL (first login) or callbackURL, failure goes
// to errorURL with ?error=<code> appended (§7: "redirect-style errors
// ... never raise JSON"), falling back to BaseURL when the caller didn't
// supply one.
func (c *Core) handleCallback(ctx *plugin.Context) error {
	providerID := ctx.Var("provider")
	provider, ok := c.oauth[providerID]
	if !ok {
		return apierror.BadRequest("UNKNOWN_PROVIDER", "no such social provider is configured")
	}

	state, stateErr := oauthclient.VerifyState(ctx.R, c.cookieSigner, ctx.R.URL.Query().Get("state"))
	defer oauthclient.ClearStateCookies(ctx.W)
	errorURL := c.cfg.BaseURL
	if stateErr == nil && state.ErrorURL != "" {
		errorURL = state.ErrorURL
	}

	if errMsg := ctx.R.URL.Query().Get("error"); errMsg != "" {
		redirectOAuthError(ctx, errorURL, errMsg)
		return nil
	}
	if stateErr != nil {
		redirectOAuthError(ctx, errorURL, "INVALID_STATE")
		return nil
	}

	var pkce *oauthclient.PKCE
	if state.Verifier != "" {
		pkce = &oauthclient.PKCE{Verifier: state.Verifier}
	}
	token, info, err := provider.ValidateAuthorizationCode(ctx, ctx.R.URL.Query().Get("code"), pkce)
	if err != nil {
		redirectOAuthError(ctx, errorURL, "OAUTH_EXCHANGE_FAILED")
		return nil
	}

	user, isNewUser, err := c.resolveOAuthUser(ctx, providerID, info, token, state.LinkUserID)
	if err != nil {
		redirectOAuthError(ctx, errorURL, apierror.As(err).Code)
		return nil
	}
	if err := c.issueSessionSilently(ctx, user); err != nil {
		redirectOAuthError(ctx, errorURL, "INTERNAL_SERVER_ERROR")
		return nil
	}

	dest := state.CallbackURL
	if isNewUser && state.NewUserURL != "" {
		dest = state.NewUserURL
	}
	if dest == "" {
		dest = c.cfg.BaseURL
	}
	redirect(ctx, dest)
	return nil
}

func redirectOAuthError(ctx *plugin.Context, base, code string) {
	location := base
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	location += sep + "error=" + url.QueryEscape(code)
	redirect(ctx, location)
}

// resolveOAuthUser implements the link/lookup/create trichotomy (§4.5):
// a non-empty linkUserID attaches the identity to that already
// signed-in user outright (rejecting a mismatched email unless
// AllowDifferentEmails, and rejecting a subject already bound to a
// different user); otherwise an existing account for (providerId,
// providerUserId) wins; failing that, a verified email match links a
// new account onto the existing user (an unverified email match is
// rejected with ACCOUNT_NOT_LINKED); failing that, a brand-new user
// is provisioned unless DisableSignUp forbids it. The second return
// value reports whether a new user was provisioned, so the caller can
// pick newUserURL vs callbackURL.
func (c *Core) resolveOAuthUser(ctx *plugin.Context, providerID string, info oauthclient.UserInfo, token *oauth2.Token, linkUserID string) (storage.User, bool, error) {
	now := c.now()

	if linkUserID != "" {
		return c.linkOAuthAccount(ctx, providerID, info, token, linkUserID)
	}

	if accountRec, err := c.store.FindOne(ctx, storage.ModelAccount, []storage.Where{
		storage.Eq("providerId", providerID),
		{Field: "accountId", Value: info.ProviderUserID, Operator: storage.OpEq, Connector: storage.And},
	}, nil); err == nil {
		account := storage.AccountFromRecord(accountRec)
		c.updateOAuthTokens(ctx, account.ID, token)
		userRec, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", account.UserID)}, nil)
		if err != nil {
			return storage.User{}, false, apierror.NotFound("NOT_FOUND", "linked user no longer exists")
		}
		return storage.UserFromRecord(userRec), false, nil
	}

	if info.Email != "" {
		if userRec, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("email", info.Email)}, nil); err == nil {
			if !info.EmailVerified {
				return storage.User{}, false, apierror.Forbidden("ACCOUNT_NOT_LINKED", "the provider did not verify this email, so it is not linked to the existing account")
			}
			user := storage.UserFromRecord(userRec)
			account := storage.Account{
				ID: storage.NewID(), UserID: user.ID, ProviderID: providerID, AccountID: info.ProviderUserID,
				AccessToken: token.AccessToken, RefreshToken: token.RefreshToken,
				AccessTokenExpiresAt: token.Expiry, CreatedAt: now, UpdatedAt: now,
			}
			if _, err := c.store.Create(ctx, storage.ModelAccount, account.ToRecord()); err != nil {
				return storage.User{}, false, apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
			}
			return user, false, nil
		}
	}

	if c.cfg.DisableSignUp {
		return storage.User{}, false, apierror.Forbidden("SIGN_UP_DISABLED", "no account found for this identity and sign-up is disabled")
	}

	user := storage.User{
		ID: storage.NewID(), Email: info.Email, EmailVerified: info.EmailVerified,
		Name: info.Name, Image: info.Picture, CreatedAt: now, UpdatedAt: now,
	}
	if _, err := c.store.Create(ctx, storage.ModelUser, user.ToRecord()); err != nil {
		return storage.User{}, false, apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	account := storage.Account{
		ID: storage.NewID(), UserID: user.ID, ProviderID: providerID, AccountID: info.ProviderUserID,
		AccessToken: token.AccessToken, RefreshToken: token.RefreshToken,
		AccessTokenExpiresAt: token.Expiry, CreatedAt: now, UpdatedAt: now,
	}
	if _, err := c.store.Create(ctx, storage.ModelAccount, account.ToRecord()); err != nil {
		return storage.User{}, false, apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	return user, true, nil
}

// linkOAuthAccount attaches (providerId, providerUserId) to linkUserID:
// rejects a subject already bound to a different user, rejects a
// mismatched email unless AllowDifferentEmails, and upserts the Account
// row otherwise.
func (c *Core) linkOAuthAccount(ctx *plugin.Context, providerID string, info oauthclient.UserInfo, token *oauth2.Token, linkUserID string) (storage.User, bool, error) {
	now := c.now()
	userRec, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", linkUserID)}, nil)
	if err != nil {
		return storage.User{}, false, apierror.NotFound("NOT_FOUND", "linking user no longer exists")
	}
	user := storage.UserFromRecord(userRec)

	if accountRec, err := c.store.FindOne(ctx, storage.ModelAccount, []storage.Where{
		storage.Eq("providerId", providerID),
		{Field: "accountId", Value: info.ProviderUserID, Operator: storage.OpEq, Connector: storage.And},
	}, nil); err == nil {
		account := storage.AccountFromRecord(accountRec)
		if account.UserID != linkUserID {
			return storage.User{}, false, apierror.UnprocessableEntity("ACCOUNT_ALREADY_LINKED", "this identity is already linked to a different user")
		}
		c.updateOAuthTokens(ctx, account.ID, token)
		return user, false, nil
	}

	if !c.cfg.AllowDifferentEmails && info.Email != "" && info.Email != user.Email {
		return storage.User{}, false, apierror.UnprocessableEntity("EMAIL_MISMATCH", "the provider's email does not match the signed-in user")
	}

	account := storage.Account{
		ID: storage.NewID(), UserID: linkUserID, ProviderID: providerID, AccountID: info.ProviderUserID,
		AccessToken: token.AccessToken, RefreshToken: token.RefreshToken,
		AccessTokenExpiresAt: token.Expiry, CreatedAt: now, UpdatedAt: now,
	}
	if _, err := c.store.Create(ctx, storage.ModelAccount, account.ToRecord()); err != nil {
		return storage.User{}, false, apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	return user, false, nil
}

func (c *Core) updateOAuthTokens(ctx *plugin.Context, accountID string, token *oauth2.Token) {
	if token == nil {
		return
	}
	_, _ = c.store.Update(ctx, storage.ModelAccount, []storage.Where{storage.Eq("id", accountID)}, storage.Record{
		"accessToken":          token.AccessToken,
		"refreshToken":         token.RefreshToken,
		"accessTokenExpiresAt": token.Expiry,
		"updatedAt":            c.now(),
	})
}
