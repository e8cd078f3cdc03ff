package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/better-auth/authd/storage"
)

var (
	ErrEmailInUse          = errors.New("credentials: email already registered")
	ErrInvalidCredentials  = errors.New("credentials: invalid email or password")
	ErrAccountHasNoPassword = errors.New("credentials: account has no password set")
)

// Manager implements sign-up/sign-in against the local "credential"
// provider account (§3: CredentialProvider), grounded on dex's
// password-account handling generalized off dex's own storage.Password
// type onto the single Account entity this module's storage package
// defines.
type Manager struct {
	store  storage.Store
	hasher Hasher
	policy Complexity
	now    func() time.Time
}

func NewManager(store storage.Store, hasher Hasher, policy Complexity, now func() time.Time) *Manager {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, hasher: hasher, policy: policy, now: now}
}

// SignUp creates a new user and its local credential account. Email is
// lower-cased before lookup/storage so identity checks are
// case-insensitive, matching dex's account/email handling.
func (m *Manager) SignUp(ctx context.Context, email, password, name string) (storage.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := m.policy.Validate(password); err != nil {
		return storage.User{}, err
	}

	if _, err := m.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("email", email)}, nil); err == nil {
		return storage.User{}, ErrEmailInUse
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, err
	}

	hash, err := m.hasher.Hash(password)
	if err != nil {
		return storage.User{}, err
	}

	now := m.now()
	user := storage.User{
		ID:        storage.NewID(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	userRec, err := m.store.Create(ctx, storage.ModelUser, user.ToRecord())
	if err != nil {
		return storage.User{}, err
	}
	user = storage.UserFromRecord(userRec)

	account := storage.Account{
		ID:         storage.NewID(),
		UserID:     user.ID,
		ProviderID: storage.CredentialProvider,
		AccountID:  email,
		Password:   hash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := m.store.Create(ctx, storage.ModelAccount, account.ToRecord()); err != nil {
		return storage.User{}, err
	}
	return user, nil
}

// SignIn verifies email+password against the stored credential account.
func (m *Manager) SignIn(ctx context.Context, email, password string) (storage.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	userRec, err := m.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("email", email)}, nil)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.User{}, ErrInvalidCredentials
		}
		return storage.User{}, err
	}
	user := storage.UserFromRecord(userRec)

	accountRec, err := m.store.FindOne(ctx, storage.ModelAccount, []storage.Where{
		storage.Eq("userId", user.ID),
		{Field: "providerId", Value: storage.CredentialProvider, Operator: storage.OpEq, Connector: storage.And},
	}, nil)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.User{}, ErrInvalidCredentials
		}
		return storage.User{}, err
	}
	account := storage.AccountFromRecord(accountRec)
	if account.Password == "" {
		return storage.User{}, ErrAccountHasNoPassword
	}
	if !m.hasher.Verify(account.Password, password) {
		return storage.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ChangePassword replaces the stored hash for userID's credential
// account after re-validating the new password against policy.
func (m *Manager) ChangePassword(ctx context.Context, userID, newPassword string) error {
	if err := m.policy.Validate(newPassword); err != nil {
		return err
	}
	hash, err := m.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	_, err = m.store.Update(ctx, storage.ModelAccount, []storage.Where{
		storage.Eq("userId", userID),
		{Field: "providerId", Value: storage.CredentialProvider, Operator: storage.OpEq, Connector: storage.And},
	}, storage.Record{"password": hash, "updatedAt": m.now()})
	return err
}
