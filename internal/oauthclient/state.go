package oauthclient

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/better-auth/authd/internal/cookiejar"
	"github.com/better-auth/authd/storage"
)

// stateCookieName holds the full pending-authorization tuple for the
// duration of one authorization-code round trip: a short-lived, signed,
// HttpOnly cookie set right before redirecting to the provider and
// cleared on the callback (§4.5's generateState/parseState).
const (
	stateCookieName = "authd.oauth_state"
	stateCookieTTL  = 10 * time.Minute
)

// BeginParams carries the per-attempt destinations and intent that
// generateState(ctx, {...}) stores alongside the random state token.
type BeginParams struct {
	CallbackURL   string
	ErrorURL      string
	NewUserURL    string
	RequestSignUp bool
	// LinkUserID, when set, marks this round trip as linking the
	// resulting identity onto an already-signed-in user rather than
	// resolving/creating one from scratch.
	LinkUserID string
}

// StateData is the tuple persisted in the signed state cookie and
// handed back by VerifyState.
type StateData struct {
	State         string `json:"state"`
	Verifier      string `json:"verifier,omitempty"`
	CallbackURL   string `json:"callbackURL,omitempty"`
	ErrorURL      string `json:"errorURL,omitempty"`
	NewUserURL    string `json:"newUserURL,omitempty"`
	RequestSignUp bool   `json:"requestSignUp,omitempty"`
	LinkUserID    string `json:"linkUserId,omitempty"`
}

// BeginAuthorization generates a fresh state token and (if usePKCE) a
// PKCE pair, sets the signed state cookie carrying params alongside
// them, and returns the URL to redirect the user agent to.
func BeginAuthorization(w http.ResponseWriter, signer *cookiejar.Signer, p *Provider, usePKCE bool, secure bool, params BeginParams) (redirectURL string, err error) {
	state := storage.NewToken()
	var pkce *PKCE
	var verifier string
	if usePKCE {
		generated, err := NewPKCE()
		if err != nil {
			return "", err
		}
		pkce = &generated
		verifier = generated.Verifier
	}

	data := StateData{
		State:         state,
		Verifier:      verifier,
		CallbackURL:   params.CallbackURL,
		ErrorURL:      params.ErrorURL,
		NewUserURL:    params.NewUserURL,
		RequestSignUp: params.RequestSignUp,
		LinkUserID:    params.LinkUserID,
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    signer.Sign(string(blob)),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   int(stateCookieTTL.Seconds()),
	})

	return p.CreateAuthorizationURL(state, pkce), nil
}

// VerifyState checks the callback's state query parameter against the
// signed state cookie and returns the full stored tuple.
func VerifyState(r *http.Request, signer *cookiejar.Signer, gotState string) (StateData, error) {
	signed, err := r.Cookie(stateCookieName)
	if err != nil {
		return StateData{}, err
	}
	blob, err := signer.Verify(signed.Value)
	if err != nil {
		return StateData{}, err
	}
	var data StateData
	if err := json.Unmarshal([]byte(blob), &data); err != nil {
		return StateData{}, err
	}
	if data.State != gotState {
		return StateData{}, cookiejar.ErrInvalidSignature
	}
	return data, nil
}

// ClearStateCookies removes the state cookie once the callback has
// consumed it.
func ClearStateCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", MaxAge: -1, Path: "/"})
}
