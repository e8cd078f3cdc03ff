package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/better-auth/authd/storage/memory"
)

func newTestManager() *Manager {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewManager(memory.New(), BcryptHasher{Cost: 4}, Complexity{Level: LevelLow}, func() time.Time { return fixed })
}

func TestManagerSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	user, err := m.SignUp(ctx, "Ada@Example.com", "longenough", "Ada")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Errorf("SignUp: email = %q, want lower-cased ada@example.com", user.Email)
	}

	got, err := m.SignIn(ctx, "ADA@example.com", "longenough")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("SignIn: id = %q, want %q", got.ID, user.ID)
	}
}

func TestManagerSignUpRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	if _, err := m.SignUp(ctx, "ada@example.com", "longenough", "Ada"); err != nil {
		t.Fatalf("first SignUp: %v", err)
	}
	_, err := m.SignUp(ctx, "ada@example.com", "longenough", "Ada Again")
	if !errors.Is(err, ErrEmailInUse) {
		t.Errorf("second SignUp: err = %v, want ErrEmailInUse", err)
	}
}

func TestManagerSignUpRejectsWeakPassword(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	_, err := m.SignUp(ctx, "ada@example.com", "short", "Ada")
	if err == nil {
		t.Fatalf("SignUp with short password: want error")
	}
}

func TestManagerSignInRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	if _, err := m.SignUp(ctx, "ada@example.com", "longenough", "Ada"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	_, err := m.SignIn(ctx, "ada@example.com", "wrongpassword")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("SignIn with wrong password: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestManagerSignInUnknownEmail(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	_, err := m.SignIn(ctx, "ghost@example.com", "whatever1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("SignIn with unknown email: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestManagerChangePassword(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	user, err := m.SignUp(ctx, "ada@example.com", "longenough", "Ada")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	if err := m.ChangePassword(ctx, user.ID, "newpassword1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := m.SignIn(ctx, "ada@example.com", "longenough"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("SignIn with old password after change: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := m.SignIn(ctx, "ada@example.com", "newpassword1"); err != nil {
		t.Errorf("SignIn with new password: %v", err)
	}
}
