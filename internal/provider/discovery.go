package provider

import "github.com/better-auth/authd/internal/plugin"

// discoveryDocument is the OIDC Discovery 1.0 metadata document,
// grounded on the field set dex's constructDiscovery assembles.
type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

func (p *Provider) discoveryDocument() discoveryDocument {
	base := p.cfg.Issuer
	return discoveryDocument{
		Issuer:                            base,
		AuthorizationEndpoint:             base + "/oauth2/authorize",
		TokenEndpoint:                     base + "/oauth2/token",
		UserinfoEndpoint:                  base + "/oauth2/userinfo",
		JWKSURI:                           base + "/oauth2/jwks",
		RegistrationEndpoint:              base + "/oauth2/register",
		IntrospectionEndpoint:             base + "/oauth2/introspect",
		ScopesSupported:                   p.cfg.SupportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:     []string{"S256", "plain"},
		ClaimsSupported:                   []string{"sub", "iss", "aud", "exp", "iat", "email", "email_verified", "name", "picture"},
	}
}

func (p *Provider) handleDiscovery(c *plugin.Context) error {
	writeJSON(c, 200, p.discoveryDocument())
	return nil
}

// oauthMetadataDocument is the RFC 8414 OAuth 2.0 Authorization Server
// Metadata document, a plain-OAuth sibling of discoveryDocument that
// clients not speaking OIDC probe for instead.
type oauthMetadataDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

func (p *Provider) oauthMetadataDocument() oauthMetadataDocument {
	doc := p.discoveryDocument()
	return oauthMetadataDocument{
		Issuer:                            doc.Issuer,
		AuthorizationEndpoint:             doc.AuthorizationEndpoint,
		TokenEndpoint:                     doc.TokenEndpoint,
		JWKSURI:                           doc.JWKSURI,
		RegistrationEndpoint:              doc.RegistrationEndpoint,
		IntrospectionEndpoint:             doc.IntrospectionEndpoint,
		ScopesSupported:                   doc.ScopesSupported,
		ResponseTypesSupported:            doc.ResponseTypesSupported,
		GrantTypesSupported:               doc.GrantTypesSupported,
		TokenEndpointAuthMethodsSupported: doc.TokenEndpointAuthMethodsSupported,
		CodeChallengeMethodsSupported:     doc.CodeChallengeMethodsSupported,
	}
}

func (p *Provider) handleOAuthMetadata(c *plugin.Context) error {
	writeJSON(c, 200, p.oauthMetadataDocument())
	return nil
}
