package sql

import (
	"context"
	"fmt"
)

// coreModels lists every model with a dedicated table, grounded on the
// versioned-DDL pattern of the upstream migrate.go: each model gets the
// same five-column shape (id, model, idx_key, expires_at, data) plus a
// seq column, so adding a model means adding its name here and to
// table() in sql.go; migrate creates its index.
var coreModels = []string{
	"user", "account", "session", "verification", "two_factor",
	"oauth_client", "oauth_code", "oauth_access_token", "oauth_consent",
	"signing_keys",
}

// migrate creates every core table and the shared kv_store table for
// plugin-registered models, idempotently. There is deliberately no
// version-tracked migration ladder: the schema is a fixed, small set of
// generic tables, so "create if not exists" is the whole migration.
func (s *Store) migrate(ctx context.Context) error {
	serial := s.serialType()
	for _, model := range append(append([]string{}, coreModels...), "kv_store") {
		ddl := fmt.Sprintf(`create table if not exists %s (
			seq %s,
			id varchar(255) primary key,
			model varchar(64) not null,
			idx_key varchar(512) not null default '',
			expires_at timestamp null,
			data text not null
		)`, model, serial)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sql: create table %s: %w", model, err)
		}
		idxDDL := fmt.Sprintf("create index if not exists idx_%s_key on %s (model, idx_key)", model, model)
		if _, err := s.db.ExecContext(ctx, idxDDL); err != nil {
			// sqlite3 and mysql both accept "if not exists" on indexes;
			// tolerate drivers that don't and treat it as best-effort.
			_ = err
		}
	}
	return nil
}

func (s *Store) serialType() string {
	switch s.d.name {
	case "postgres":
		return "serial"
	case "mysql":
		return "integer auto_increment"
	default:
		return "integer"
	}
}
