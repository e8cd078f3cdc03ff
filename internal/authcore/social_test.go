package authcore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"

	"github.com/better-auth/authd/internal/oauthclient"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

func newBackgroundCtx(store storage.Store) *plugin.Context {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	return newCtx(r, httptest.NewRecorder(), store, nil, nil)
}

func TestResolveOAuthUserCreatesNewUserOnFirstSignIn(t *testing.T) {
	core, store, _ := newTestCore(t, Config{})
	info := oauthclient.UserInfo{ProviderUserID: "provider-user-1", Email: "ada@example.com", EmailVerified: true, Name: "Ada"}
	token := &oauth2.Token{AccessToken: "access-token"}

	ctx := newBackgroundCtx(store)
	user, isNewUser, err := core.resolveOAuthUser(ctx, "google", info, token, "")
	if err != nil {
		t.Fatalf("resolveOAuthUser: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Errorf("user.Email = %q, want ada@example.com", user.Email)
	}
	if !isNewUser {
		t.Errorf("resolveOAuthUser on first sign-in: isNewUser = false, want true")
	}

	accountRec, err := store.FindOne(context.Background(), storage.ModelAccount, []storage.Where{
		storage.Eq("providerId", "google"),
		{Field: "accountId", Value: "provider-user-1", Operator: storage.OpEq, Connector: storage.And},
	}, nil)
	if err != nil {
		t.Fatalf("expected a linked account row: %v", err)
	}
	if storage.AccountFromRecord(accountRec).UserID != user.ID {
		t.Errorf("linked account does not point at the created user")
	}
}

func TestResolveOAuthUserLinksToExistingVerifiedEmail(t *testing.T) {
	core, store, now := newTestCore(t, Config{})
	existing := storage.User{ID: storage.NewID(), Email: "ada@example.com", EmailVerified: true, CreatedAt: now()}
	if _, err := store.Create(context.Background(), storage.ModelUser, existing.ToRecord()); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	info := oauthclient.UserInfo{ProviderUserID: "provider-user-1", Email: "ada@example.com", EmailVerified: true}
	token := &oauth2.Token{AccessToken: "access-token"}
	ctx := newBackgroundCtx(store)
	user, isNewUser, err := core.resolveOAuthUser(ctx, "google", info, token, "")
	if err != nil {
		t.Fatalf("resolveOAuthUser: %v", err)
	}
	if user.ID != existing.ID {
		t.Errorf("resolveOAuthUser created a new user instead of linking to the existing one")
	}
	if isNewUser {
		t.Errorf("resolveOAuthUser linking an existing email: isNewUser = true, want false")
	}
}

func TestResolveOAuthUserReusesLinkedAccountOnRepeatSignIn(t *testing.T) {
	core, store, _ := newTestCore(t, Config{})
	info := oauthclient.UserInfo{ProviderUserID: "provider-user-1", Email: "ada@example.com", EmailVerified: true}
	token := &oauth2.Token{AccessToken: "first-token"}
	ctx := newBackgroundCtx(store)

	first, _, err := core.resolveOAuthUser(ctx, "google", info, token, "")
	if err != nil {
		t.Fatalf("first resolveOAuthUser: %v", err)
	}

	second, _, err := core.resolveOAuthUser(ctx, "google", info, &oauth2.Token{AccessToken: "second-token"}, "")
	if err != nil {
		t.Fatalf("second resolveOAuthUser: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("repeat sign-in created a different user: %q vs %q", second.ID, first.ID)
	}

	count, err := store.Count(context.Background(), storage.ModelAccount, []storage.Where{storage.Eq("providerId", "google")})
	if err != nil {
		t.Fatalf("counting accounts: %v", err)
	}
	if count != 1 {
		t.Errorf("repeat sign-in created %d accounts, want 1", count)
	}
}

func TestResolveOAuthUserRejectsUnknownIdentityWhenSignUpDisabled(t *testing.T) {
	core, store, _ := newTestCore(t, Config{DisableSignUp: true})
	info := oauthclient.UserInfo{ProviderUserID: "provider-user-1", Email: "new@example.com"}
	ctx := newBackgroundCtx(store)

	_, _, err := core.resolveOAuthUser(ctx, "google", info, &oauth2.Token{AccessToken: "token"}, "")
	if err == nil {
		t.Errorf("resolveOAuthUser with DisableSignUp and no existing account: want error")
	}
}

func TestResolveOAuthUserLinksToSignedInUser(t *testing.T) {
	core, store, now := newTestCore(t, Config{})
	existing := storage.User{ID: storage.NewID(), Email: "ada@example.com", EmailVerified: true, CreatedAt: now()}
	if _, err := store.Create(context.Background(), storage.ModelUser, existing.ToRecord()); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	info := oauthclient.UserInfo{ProviderUserID: "provider-user-1", Email: "someone-else@example.com"}
	ctx := newBackgroundCtx(store)
	user, isNewUser, err := core.resolveOAuthUser(ctx, "google", info, &oauth2.Token{AccessToken: "token"}, existing.ID)
	if err == nil {
		t.Errorf("resolveOAuthUser linking a mismatched email without AllowDifferentEmails: want error, got user %+v isNewUser=%v", user, isNewUser)
	}

	core2, store2, now2 := newTestCore(t, Config{AllowDifferentEmails: true})
	existing2 := storage.User{ID: storage.NewID(), Email: "ada@example.com", EmailVerified: true, CreatedAt: now2()}
	if _, err := store2.Create(context.Background(), storage.ModelUser, existing2.ToRecord()); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	ctx2 := newBackgroundCtx(store2)
	user2, isNewUser2, err := core2.resolveOAuthUser(ctx2, "google", info, &oauth2.Token{AccessToken: "token"}, existing2.ID)
	if err != nil {
		t.Fatalf("resolveOAuthUser linking with AllowDifferentEmails: %v", err)
	}
	if user2.ID != existing2.ID {
		t.Errorf("resolveOAuthUser linking: got user %q, want the signed-in user %q", user2.ID, existing2.ID)
	}
	if isNewUser2 {
		t.Errorf("resolveOAuthUser linking: isNewUser = true, want false")
	}

	accountRec, err := store2.FindOne(context.Background(), storage.ModelAccount, []storage.Where{
		storage.Eq("providerId", "google"),
		{Field: "accountId", Value: "provider-user-1", Operator: storage.OpEq, Connector: storage.And},
	}, nil)
	if err != nil {
		t.Fatalf("expected a linked account row: %v", err)
	}
	if storage.AccountFromRecord(accountRec).UserID != existing2.ID {
		t.Errorf("linked account does not point at the signed-in user")
	}
}

func TestResolveOAuthUserRejectsLinkingSubjectBoundToDifferentUser(t *testing.T) {
	core, store, _ := newTestCore(t, Config{})
	info := oauthclient.UserInfo{ProviderUserID: "provider-user-1", Email: "ada@example.com", EmailVerified: true}
	ctx := newBackgroundCtx(store)

	owner, _, err := core.resolveOAuthUser(ctx, "google", info, &oauth2.Token{AccessToken: "token"}, "")
	if err != nil {
		t.Fatalf("resolveOAuthUser: %v", err)
	}

	otherUser := storage.User{ID: storage.NewID(), Email: "other@example.com", EmailVerified: true}
	if _, err := store.Create(context.Background(), storage.ModelUser, otherUser.ToRecord()); err != nil {
		t.Fatalf("creating other user: %v", err)
	}

	_, _, err = core.resolveOAuthUser(ctx, "google", info, &oauth2.Token{AccessToken: "token2"}, otherUser.ID)
	if err == nil {
		t.Errorf("linking a subject already bound to %q onto %q: want error", owner.ID, otherUser.ID)
	}
}
