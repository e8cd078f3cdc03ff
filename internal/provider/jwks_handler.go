package provider

import (
	"fmt"
	"time"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
)

// handleJWKS serves the provider's public keyset, grounded on dex's
// handlePublicKeys: the Cache-Control max-age tracks time until the
// next scheduled rotation, floored at two minutes so a client never
// caches past a key change by more than that margin.
func (p *Provider) handleJWKS(c *plugin.Context) error {
	set, nextRotation, err := p.keys.JWKS(c)
	if err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", "signing keys unavailable")
	}
	maxAge := nextRotation.Sub(p.now())
	if maxAge < 2*time.Minute {
		maxAge = 2 * time.Minute
	}
	c.W.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d, must-revalidate", int(maxAge.Seconds())))
	writeJSON(c, 200, set)
	return nil
}
