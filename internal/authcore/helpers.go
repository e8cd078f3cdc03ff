package authcore

import (
	"encoding/json"
	"net/http"

	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

func writeJSON(c *plugin.Context, status int, body any) {
	c.W.Header().Set("Content-Type", "application/json")
	c.W.WriteHeader(status)
	_ = json.NewEncoder(c.W).Encode(body)
}

// redirect issues a 302 to location.
func redirect(c *plugin.Context, location string) {
	c.W.Header().Set("Location", location)
	c.W.WriteHeader(302)
}

// publicUser is the response shape every endpoint that echoes a user
// uses, matching Model.Returned's field-hiding intent (§4.10) without
// requiring a schema.Registry round trip for a handful of fixed fields.
type publicUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	Name          string `json:"name,omitempty"`
	Image         string `json:"image,omitempty"`
}

func toPublicUser(u storage.User) publicUser {
	return publicUser{ID: u.ID, Email: u.Email, EmailVerified: u.EmailVerified, Name: u.Name, Image: u.Image}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
