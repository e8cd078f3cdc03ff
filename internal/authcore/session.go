package authcore

import (
	"encoding/json"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

type sessionResponse struct {
	Session storage.Session `json:"session"`
	User    publicUser      `json:"user"`
}

// requireSession resolves the caller's session, trying the
// already-populated ctx.Session (set by the engine's global session
// middleware) before falling back to a direct resolve — the fallback
// keeps this package usable in tests that build a *plugin.Context
// directly without running the full dispatcher chain.
func (c *Core) requireSession(ctx *plugin.Context) (storage.Session, error) {
	if ctx.Session != nil {
		return *ctx.Session, nil
	}
	sess, user, err := c.sessions.Resolve(ctx, ctx.W, ctx.R, true)
	if err != nil {
		return storage.Session{}, apierror.Unauthorized("UNAUTHORIZED", "no active session")
	}
	ctx.Session = &sess
	ctx.CachedUser = user
	return sess, nil
}

// handleGetSession implements GET /session (§4.3's getSession(ctx)). When
// the session was resolved from the trusted cookie cache, the user
// snapshot it already carries is used directly instead of re-hitting
// ModelUser, so this read-only endpoint can skip the database entirely.
func (c *Core) handleGetSession(ctx *plugin.Context) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}
	if ctx.CachedUser != nil {
		writeJSON(ctx, 200, sessionResponse{Session: sess, User: toPublicUser(*ctx.CachedUser)})
		return nil
	}
	userRec, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", sess.UserID)}, nil)
	if err != nil {
		return apierror.NotFound("NOT_FOUND", "user backing this session no longer exists")
	}
	writeJSON(ctx, 200, sessionResponse{Session: sess, User: toPublicUser(storage.UserFromRecord(userRec))})
	return nil
}

// handleSignOut implements POST /sign-out: revokes the session and
// clears every cookie this package writes for it.
func (c *Core) handleSignOut(ctx *plugin.Context) error {
	if ctx.Session != nil {
		_ = c.sessions.Delete(ctx, ctx.Session.Token)
	}
	c.sessions.ClearCookies(ctx.W)
	writeJSON(ctx, 200, map[string]bool{"success": true})
	return nil
}

type updateUserRequest struct {
	Name  *string `json:"name,omitempty"`
	Image *string `json:"image,omitempty"`
}

// handleUpdateUser implements POST /update-user: patches the
// caller's own profile fields.
func (c *Core) handleUpdateUser(ctx *plugin.Context) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}
	var req updateUserRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}
	update := storage.Record{"updatedAt": c.now()}
	if req.Name != nil {
		update["name"] = *req.Name
	}
	if req.Image != nil {
		update["image"] = *req.Image
	}
	rec, err := c.store.Update(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", sess.UserID)}, update)
	if err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	writeJSON(ctx, 200, map[string]any{"user": toPublicUser(storage.UserFromRecord(rec))})
	return nil
}

type deleteUserRequest struct {
	Password string `json:"password"`
}

// handleDeleteUser implements POST /delete-user: re-verifies the
// caller's password, then cascades user -> sessions -> accounts,
// matching the data model's delete-user lifecycle (§3).
func (c *Core) handleDeleteUser(ctx *plugin.Context) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}
	var req deleteUserRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}

	accountRec, err := c.store.FindOne(ctx, storage.ModelAccount, []storage.Where{
		storage.Eq("userId", sess.UserID),
		{Field: "providerId", Value: storage.CredentialProvider, Operator: storage.OpEq, Connector: storage.And},
	}, nil)
	if err == nil {
		account := storage.AccountFromRecord(accountRec)
		if account.Password != "" && !c.hasher.Verify(account.Password, req.Password) {
			return apierror.Unauthorized("INVALID_CREDENTIALS", "password is incorrect")
		}
	}

	if _, err := c.sessions.DeleteAllForUser(ctx, sess.UserID); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	if _, err := c.store.DeleteMany(ctx, storage.ModelAccount, []storage.Where{storage.Eq("userId", sess.UserID)}); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	if _, err := c.store.DeleteMany(ctx, storage.ModelTwoFactor, []storage.Where{storage.Eq("userId", sess.UserID)}); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	if err := c.store.Delete(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", sess.UserID)}); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	c.sessions.ClearCookies(ctx.W)
	writeJSON(ctx, 200, map[string]bool{"success": true})
	return nil
}
