package memory

import (
	"testing"

	"github.com/better-auth/authd/storage"
	"github.com/better-auth/authd/storage/conformance"
)

func TestConformance(t *testing.T) {
	conformance.RunTests(t, func() storage.Store { return New() })
}
