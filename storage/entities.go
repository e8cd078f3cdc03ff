package storage

import "time"

// User is the identity principal described in the data model (§3).
type User struct {
	ID              string
	Email           string
	EmailVerified   bool
	Name            string
	Image           string
	PhoneNumber     string
	PhoneVerified   bool
	TwoFactorEnabled bool
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Extra carries plugin- or deployment-defined additional fields
	// (§3: "configurable additional fields with per-field constraints").
	Extra Record
}

func (u User) ToRecord() Record {
	r := Record{
		"id":               u.ID,
		"email":            u.Email,
		"emailVerified":    u.EmailVerified,
		"name":             u.Name,
		"image":            u.Image,
		"phoneNumber":      u.PhoneNumber,
		"phoneVerified":    u.PhoneVerified,
		"twoFactorEnabled": u.TwoFactorEnabled,
		"createdAt":        u.CreatedAt,
		"updatedAt":        u.UpdatedAt,
	}
	for k, v := range u.Extra {
		if _, exists := r[k]; !exists {
			r[k] = v
		}
	}
	return r
}

func UserFromRecord(r Record) User {
	return User{
		ID:               r.ID(),
		Email:            str(r["email"]),
		EmailVerified:    boolean(r["emailVerified"]),
		Name:             str(r["name"]),
		Image:            str(r["image"]),
		PhoneNumber:      str(r["phoneNumber"]),
		PhoneVerified:    boolean(r["phoneVerified"]),
		TwoFactorEnabled: boolean(r["twoFactorEnabled"]),
		CreatedAt:        ts(r["createdAt"]),
		UpdatedAt:        ts(r["updatedAt"]),
		Extra:            r,
	}
}

// CredentialProvider is the providerId used for local email+password
// accounts (§3: "'credential' for local password").
const CredentialProvider = "credential"

// Account is a credential binding: either the local password account or
// an OAuth provider link (§3).
type Account struct {
	ID                   string
	UserID               string
	ProviderID           string
	AccountID            string
	Password             string
	AccessToken          string
	RefreshToken         string
	IDToken              string
	AccessTokenExpiresAt time.Time
	RefreshTokenExpiresAt time.Time
	Scope                string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (a Account) ToRecord() Record {
	return Record{
		"id":                    a.ID,
		"userId":                a.UserID,
		"providerId":            a.ProviderID,
		"accountId":             a.AccountID,
		"password":              a.Password,
		"accessToken":           a.AccessToken,
		"refreshToken":          a.RefreshToken,
		"idToken":               a.IDToken,
		"accessTokenExpiresAt":  a.AccessTokenExpiresAt,
		"refreshTokenExpiresAt": a.RefreshTokenExpiresAt,
		"scope":                 a.Scope,
		"createdAt":             a.CreatedAt,
		"updatedAt":             a.UpdatedAt,
	}
}

func AccountFromRecord(r Record) Account {
	return Account{
		ID:                    r.ID(),
		UserID:                str(r["userId"]),
		ProviderID:            str(r["providerId"]),
		AccountID:             str(r["accountId"]),
		Password:              str(r["password"]),
		AccessToken:           str(r["accessToken"]),
		RefreshToken:          str(r["refreshToken"]),
		IDToken:               str(r["idToken"]),
		AccessTokenExpiresAt:  ts(r["accessTokenExpiresAt"]),
		RefreshTokenExpiresAt: ts(r["refreshTokenExpiresAt"]),
		Scope:                 str(r["scope"]),
		CreatedAt:             ts(r["createdAt"]),
		UpdatedAt:             ts(r["updatedAt"]),
	}
}

// Session is an authenticated session (§3). Token is the opaque bearer
// credential placed in cookies or the Authorization header; it is never
// re-derivable from ID.
type Session struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	IPAddress string
	UserAgent string
	Extra     Record
}

func (s Session) ToRecord() Record {
	r := Record{
		"id":        s.ID,
		"token":     s.Token,
		"userId":    s.UserID,
		"expiresAt": s.ExpiresAt,
		"createdAt": s.CreatedAt,
		"updatedAt": s.UpdatedAt,
		"ipAddress": s.IPAddress,
		"userAgent": s.UserAgent,
	}
	for k, v := range s.Extra {
		if _, exists := r[k]; !exists {
			r[k] = v
		}
	}
	return r
}

func SessionFromRecord(r Record) Session {
	return Session{
		ID:        r.ID(),
		Token:     str(r["token"]),
		UserID:    str(r["userId"]),
		ExpiresAt: ts(r["expiresAt"]),
		CreatedAt: ts(r["createdAt"]),
		UpdatedAt: ts(r["updatedAt"]),
		IPAddress: str(r["ipAddress"]),
		UserAgent: str(r["userAgent"]),
		Extra:     r,
	}
}

// VerificationValue is the single-use / attempt-bounded token store
// described in §3 and the glossary: email verification, password reset,
// magic link, phone/email OTP, 2FA-pending, trust-device, and OAuth
// consent/select-account all share this one shape.
type VerificationValue struct {
	ID         string
	Identifier string
	Value      string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

func (v VerificationValue) ToRecord() Record {
	return Record{
		"id":         v.ID,
		"identifier": v.Identifier,
		"value":      v.Value,
		"expiresAt":  v.ExpiresAt,
		"createdAt":  v.CreatedAt,
	}
}

func VerificationFromRecord(r Record) VerificationValue {
	return VerificationValue{
		ID:         r.ID(),
		Identifier: str(r["identifier"]),
		Value:      str(r["value"]),
		ExpiresAt:  ts(r["expiresAt"]),
		CreatedAt:  ts(r["createdAt"]),
	}
}

// OAuthClient is a registered relying party of the provider role (§3,
// §4.6).
type OAuthClient struct {
	ID                   string
	ClientID             string
	ClientSecret         string
	RedirectURIs         []string
	TokenEndpointAuth    string
	UserID               string
	SkipConsent          bool
	ClientName           string
	LogoURI              string
	Metadata             Record
	CreatedAt            time.Time
}

func (c OAuthClient) ToRecord() Record {
	return Record{
		"id":                c.ID,
		"clientId":          c.ClientID,
		"clientSecret":      c.ClientSecret,
		"redirectUris":      c.RedirectURIs,
		"tokenEndpointAuth": c.TokenEndpointAuth,
		"userId":            c.UserID,
		"skipConsent":       c.SkipConsent,
		"clientName":        c.ClientName,
		"logoUri":           c.LogoURI,
		"metadata":          c.Metadata,
		"createdAt":         c.CreatedAt,
	}
}

func OAuthClientFromRecord(r Record) OAuthClient {
	uris := strs(r["redirectUris"])
	meta, _ := r["metadata"].(Record)
	return OAuthClient{
		ID:                r.ID(),
		ClientID:          str(r["clientId"]),
		ClientSecret:      str(r["clientSecret"]),
		RedirectURIs:      uris,
		TokenEndpointAuth: str(r["tokenEndpointAuth"]),
		UserID:            str(r["userId"]),
		SkipConsent:       boolean(r["skipConsent"]),
		ClientName:        str(r["clientName"]),
		LogoURI:           str(r["logoUri"]),
		Metadata:          meta,
		CreatedAt:         ts(r["createdAt"]),
	}
}

// TwoFactor holds per-user 2FA material (§3, §4.7).
type TwoFactor struct {
	UserID          string
	Secret          string // encrypted TOTP seed
	BackupCodes     string // plain JSON array, or an encrypted blob
	BackupCodesMode string // "plain" | "encrypted" | "custom"
}

func (t TwoFactor) ToRecord() Record {
	return Record{
		"userId":          t.UserID,
		"secret":          t.Secret,
		"backupCodes":     t.BackupCodes,
		"backupCodesMode": t.BackupCodesMode,
	}
}

func TwoFactorFromRecord(r Record) TwoFactor {
	return TwoFactor{
		UserID:          str(r["userId"]),
		Secret:          str(r["secret"]),
		BackupCodes:     str(r["backupCodes"]),
		BackupCodesMode: str(r["backupCodesMode"]),
	}
}

// OAuthCode is a short-lived authorization code issued from /authorize,
// redeemed exactly once at /token (§4.6).
type OAuthCode struct {
	ID                  string
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

func (c OAuthCode) ToRecord() Record {
	return Record{
		"id":                  c.ID,
		"code":                c.Code,
		"clientId":            c.ClientID,
		"userId":              c.UserID,
		"redirectUri":         c.RedirectURI,
		"scopes":              c.Scopes,
		"codeChallenge":       c.CodeChallenge,
		"codeChallengeMethod": c.CodeChallengeMethod,
		"nonce":               c.Nonce,
		"expiresAt":           c.ExpiresAt,
		"createdAt":           c.CreatedAt,
	}
}

func OAuthCodeFromRecord(r Record) OAuthCode {
	scopes := strs(r["scopes"])
	return OAuthCode{
		ID:                  r.ID(),
		Code:                str(r["code"]),
		ClientID:            str(r["clientId"]),
		UserID:              str(r["userId"]),
		RedirectURI:         str(r["redirectUri"]),
		Scopes:              scopes,
		CodeChallenge:       str(r["codeChallenge"]),
		CodeChallengeMethod: str(r["codeChallengeMethod"]),
		Nonce:               str(r["nonce"]),
		ExpiresAt:           ts(r["expiresAt"]),
		CreatedAt:           ts(r["createdAt"]),
	}
}

// OAuthAccessToken is an issued access/refresh token pair (§4.6). Both
// tokens are stored as opaque, high-entropy identifiers; the access
// token's JWT form (if any) is derived at issuance time and never
// persisted.
type OAuthAccessToken struct {
	ID           string
	AccessToken  string
	RefreshToken string
	ClientID     string
	UserID       string
	Scopes       []string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

func (t OAuthAccessToken) ToRecord() Record {
	return Record{
		"id":           t.ID,
		"accessToken":  t.AccessToken,
		"refreshToken": t.RefreshToken,
		"clientId":     t.ClientID,
		"userId":       t.UserID,
		"scopes":       t.Scopes,
		"expiresAt":    t.ExpiresAt,
		"createdAt":    t.CreatedAt,
	}
}

func OAuthAccessTokenFromRecord(r Record) OAuthAccessToken {
	scopes := strs(r["scopes"])
	return OAuthAccessToken{
		ID:           r.ID(),
		AccessToken:  str(r["accessToken"]),
		RefreshToken: str(r["refreshToken"]),
		ClientID:     str(r["clientId"]),
		UserID:       str(r["userId"]),
		Scopes:       scopes,
		ExpiresAt:    ts(r["expiresAt"]),
		CreatedAt:    ts(r["createdAt"]),
	}
}

// OAuthConsent records that a user has approved a client for a set of
// scopes, so a repeat authorization request can skip the consent screen
// (§4.6).
type OAuthConsent struct {
	ID        string
	UserID    string
	ClientID  string
	Scopes    []string
	CreatedAt time.Time
}

func (c OAuthConsent) ToRecord() Record {
	return Record{
		"id":        c.ID,
		"userId":    c.UserID,
		"clientId":  c.ClientID,
		"scopes":    c.Scopes,
		"createdAt": c.CreatedAt,
	}
}

func OAuthConsentFromRecord(r Record) OAuthConsent {
	scopes := strs(r["scopes"])
	return OAuthConsent{
		ID:        r.ID(),
		UserID:    str(r["userId"]),
		ClientID:  str(r["clientId"]),
		Scopes:    scopes,
		CreatedAt: ts(r["createdAt"]),
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// strs normalizes a []string field that may have round-tripped through
// a JSON-backed adapter (storage/sql) and come back as []any instead of
// the []string a Go caller set it with.
func strs(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func ts(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}
