package provider

import (
	"encoding/json"
	"net/http"

	"github.com/better-auth/authd/internal/plugin"
)

func writeJSON(c *plugin.Context, status int, body any) {
	c.W.Header().Set("Content-Type", "application/json")
	c.W.WriteHeader(status)
	_ = json.NewEncoder(c.W).Encode(body)
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// redirect issues a 302 to location.
func redirect(c *plugin.Context, location string) {
	c.W.Header().Set("Location", location)
	c.W.WriteHeader(302)
}
