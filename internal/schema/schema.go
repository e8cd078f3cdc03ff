// Package schema describes the logical shape of every model the engine
// and its plugins persist (§4.10): which fields exist, which are
// required/unique/returned to clients, and how they default — plus a
// generator that renders that description as dialect-specific DDL for
// deployments that want a strict relational schema instead of the
// generic document-store tables storage/sql creates by default.
// Grounded on the upstream migrate.go's versioned, idempotent DDL
// shape, generalized from a fixed migration ladder into a descriptor
// table any plugin can extend.
package schema

// FieldType is the logical type of a Field, independent of any SQL
// dialect's concrete column type.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldJSON    FieldType = "json"
)

// Field describes one field of a model: its type and the constraints
// and client-visibility rules the dispatch/credential/session layers
// need to enforce without hard-coding per-model knowledge.
type Field struct {
	Name    string
	Type    FieldType
	Required bool
	Unique   bool
	// References names another model this field is a foreign key into
	// (e.g. account.userId references user.id), informational only —
	// the document-store adapter does not enforce it, and Migration's
	// generated DDL indexes the field but declares no foreign-key
	// constraint.
	References string
	// DefaultValue names the field's default (e.g. user.emailVerified
	// defaults to false). It is descriptive: Migration emits no DEFAULT
	// clause for it and no store applies it on create.
	DefaultValue any
	// Input reports whether API consumers may set this field on create.
	Input bool
	// Returned reports whether this field is present in API responses;
	// false for fields like a password hash that are stored but never
	// echoed back.
	Returned bool
	Sortable bool
}

// Model is one named collection of Fields, keyed the same way
// storage.Record's "model" column and storage/sql's table names are.
type Model struct {
	Name   string
	Fields []Field
}

// Registry is the full set of models known to the engine: the core
// models every build has, plus whatever SchemaField entries plugins
// contributed via internal/plugin.Registry.
type Registry struct {
	models map[string]*Model
	order  []string
}

// NewRegistry seeds a Registry with the core models (§4.8/§4.10) every
// deployment has regardless of which plugins are enabled.
func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]*Model)}
	for _, m := range coreModels() {
		r.add(m)
	}
	return r
}

func (r *Registry) add(m Model) {
	if _, exists := r.models[m.Name]; !exists {
		r.order = append(r.order, m.Name)
	}
	r.models[m.Name] = &m
}

// ExtendModel appends a field to an existing model, or creates the
// model if a plugin is the first to reference it — the mechanism
// internal/plugin.SchemaField entries are applied through.
func (r *Registry) ExtendModel(modelName string, f Field) {
	m, ok := r.models[modelName]
	if !ok {
		r.add(Model{Name: modelName})
		m = r.models[modelName]
	}
	m.Fields = append(m.Fields, f)
}

// Models returns every registered model in registration order, stable
// across calls so generated migrations are deterministic.
func (r *Registry) Models() []Model {
	out := make([]Model, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.models[name])
	}
	return out
}

// Returned projects rec down to the fields the model marks Returned,
// the engine-wide mechanism for hiding fields like a password hash from
// API responses without every handler remembering to strip them.
func (m Model) Returned(rec map[string]any) map[string]any {
	out := make(map[string]any, len(m.Fields))
	for _, f := range m.Fields {
		if !f.Returned {
			continue
		}
		if v, ok := rec[f.Name]; ok {
			out[f.Name] = v
		}
	}
	return out
}

func coreModels() []Model {
	return []Model{
		{Name: "user", Fields: []Field{
			{Name: "id", Type: FieldString, Required: true, Unique: true, Returned: true},
			{Name: "email", Type: FieldString, Required: true, Unique: true, Input: true, Returned: true, Sortable: true},
			{Name: "emailVerified", Type: FieldBoolean, DefaultValue: false, Returned: true},
			{Name: "name", Type: FieldString, Input: true, Returned: true},
			{Name: "image", Type: FieldString, Input: true, Returned: true},
			{Name: "twoFactorEnabled", Type: FieldBoolean, DefaultValue: false, Returned: true},
			{Name: "createdAt", Type: FieldDate, Returned: true, Sortable: true},
			{Name: "updatedAt", Type: FieldDate, Returned: true},
		}},
		{Name: "account", Fields: []Field{
			{Name: "id", Type: FieldString, Required: true, Unique: true, Returned: true},
			{Name: "userId", Type: FieldString, Required: true, References: "user", Returned: true},
			{Name: "providerId", Type: FieldString, Required: true, Returned: true},
			{Name: "accountId", Type: FieldString, Required: true, Returned: true},
			{Name: "passwordHash", Type: FieldString},
			{Name: "accessToken", Type: FieldString},
			{Name: "refreshToken", Type: FieldString},
			{Name: "accessTokenExpiresAt", Type: FieldDate, Returned: true},
			{Name: "createdAt", Type: FieldDate, Returned: true},
		}},
		{Name: "session", Fields: []Field{
			{Name: "id", Type: FieldString, Required: true, Unique: true, Returned: true},
			{Name: "userId", Type: FieldString, Required: true, References: "user", Returned: true},
			{Name: "token", Type: FieldString, Required: true, Unique: true},
			{Name: "ipAddress", Type: FieldString, Returned: true},
			{Name: "userAgent", Type: FieldString, Returned: true},
			{Name: "expiresAt", Type: FieldDate, Required: true, Returned: true, Sortable: true},
			{Name: "createdAt", Type: FieldDate, Returned: true},
		}},
		{Name: "verification", Fields: []Field{
			{Name: "id", Type: FieldString, Required: true, Unique: true},
			{Name: "identifier", Type: FieldString, Required: true},
			{Name: "value", Type: FieldString, Required: true},
			{Name: "expiresAt", Type: FieldDate, Required: true, Sortable: true},
		}},
		{Name: "two_factor", Fields: []Field{
			{Name: "id", Type: FieldString, Required: true, Unique: true},
			{Name: "userId", Type: FieldString, Required: true, Unique: true, References: "user"},
			{Name: "secret", Type: FieldString, Required: true},
			{Name: "backupCodes", Type: FieldJSON},
		}},
		{Name: "oauth_client", Fields: []Field{
			{Name: "id", Type: FieldString, Required: true, Unique: true, Returned: true},
			{Name: "clientId", Type: FieldString, Required: true, Unique: true, Returned: true},
			{Name: "clientSecretHash", Type: FieldString, Required: true},
			{Name: "redirectUris", Type: FieldJSON, Required: true, Returned: true},
			{Name: "public", Type: FieldBoolean, DefaultValue: false, Returned: true},
			{Name: "name", Type: FieldString, Input: true, Returned: true},
			{Name: "createdAt", Type: FieldDate, Returned: true},
		}},
		{Name: "oauth_code", Fields: []Field{
			{Name: "id", Type: FieldString, Required: true, Unique: true},
			{Name: "code", Type: FieldString, Required: true, Unique: true},
			{Name: "clientId", Type: FieldString, Required: true, References: "oauth_client"},
			{Name: "userId", Type: FieldString, Required: true, References: "user"},
			{Name: "scopes", Type: FieldJSON},
			{Name: "codeChallenge", Type: FieldString},
			{Name: "codeChallengeMethod", Type: FieldString},
			{Name: "redirectUri", Type: FieldString, Required: true},
			{Name: "expiresAt", Type: FieldDate, Required: true, Sortable: true},
		}},
		{Name: "oauth_access_token", Fields: []Field{
			{Name: "id", Type: FieldString, Required: true, Unique: true},
			{Name: "accessToken", Type: FieldString, Required: true, Unique: true},
			{Name: "refreshToken", Type: FieldString, Unique: true},
			{Name: "clientId", Type: FieldString, Required: true, References: "oauth_client"},
			{Name: "userId", Type: FieldString, References: "user"},
			{Name: "scopes", Type: FieldJSON},
			{Name: "expiresAt", Type: FieldDate, Required: true, Sortable: true},
		}},
		{Name: "oauth_consent", Fields: []Field{
			{Name: "id", Type: FieldString, Required: true, Unique: true},
			{Name: "userId", Type: FieldString, Required: true, References: "user"},
			{Name: "clientId", Type: FieldString, Required: true, References: "oauth_client"},
			{Name: "scopes", Type: FieldJSON},
			{Name: "createdAt", Type: FieldDate, Returned: true},
		}},
	}
}
