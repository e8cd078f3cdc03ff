package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/better-auth/authd/storage"
)

var _ storage.GarbageCollector = (*Store)(nil)

// GarbageCollect deletes expired rows from the session, verification, and
// oauth_code tables, grounded on the upstream sql adapter's gc.go sweep.
// Rows without an expiry (expires_at is null) are never swept.
func (s *Store) GarbageCollect(ctx context.Context, now time.Time) (storage.GCResult, error) {
	var result storage.GCResult
	for model, counter := range map[string]*int64{
		storage.ModelSession:      &result.Sessions,
		storage.ModelVerification: &result.Verifications,
		storage.ModelOAuthCode:    &result.OAuthCodes,
	} {
		tbl, _ := table(model)
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("delete from %s where model = %s and expires_at is not null and expires_at < %s",
				tbl, s.d.placeholder(1), s.d.placeholder(2)),
			model, now)
		if err != nil {
			return result, fmt.Errorf("sql: gc %s: %w", model, err)
		}
		n, _ := res.RowsAffected()
		*counter = n
	}
	return result, nil
}

var _ storage.HealthChecker = (*Store)(nil)

// CheckHealth pings the underlying connection pool.
func (s *Store) CheckHealth(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
