package provider

import "github.com/better-auth/authd/internal/plugin"

// handleSelectedAccount is GET /selected-account (§4.6): consumes the
// parked prompt=select_account request and resumes the authorize flow
// at the consent step, redirecting either straight to the client's
// redirect_uri or to the consent screen depending on prior consent.
func (p *Provider) handleSelectedAccount(c *plugin.Context) error {
	id := c.R.URL.Query().Get("request_id")
	pending, err := p.loadPending(c, pendingSelectAccountPrefix, id)
	if err != nil {
		return err
	}
	p.deletePending(c, pendingSelectAccountPrefix, id)

	client, err := p.lookupClient(c, pending.ClientID)
	if err != nil {
		return err
	}
	return p.finishAuthorization(c, client, pending, "")
}
