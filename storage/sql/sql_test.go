package sql

import (
	"context"
	"testing"

	"github.com/better-auth/authd/storage"
	"github.com/better-auth/authd/storage/conformance"
)

func TestConformanceSQLite3(t *testing.T) {
	conformance.RunTests(t, func() storage.Store {
		s, err := Open(context.Background(), Config{Driver: "sqlite3", DataSourceName: ":memory:"}, nil)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	})
}
