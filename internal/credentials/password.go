// Package credentials implements the email+password and phone OTP
// authentication flows (§4.4): sign-up, sign-in, password hashing,
// verification/reset/magic-link tokens, and phone OTP delivery.
package credentials

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordPolicy is wrapped by a more specific complexity error
// returned from Complexity.Validate.
var ErrPasswordPolicy = errors.New("credentials: password does not meet policy")

// Hasher is the pluggable password hasher the spec calls for, defaulted
// to bcrypt — the same algorithm dex's password handling already uses.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// BcryptHasher is the default Hasher, grounded on dex's bcrypt use for
// local password accounts.
type BcryptHasher struct {
	Cost int
}

// DefaultBcryptCost matches bcrypt's own recommended default; dex does
// not override it and neither do we.
const DefaultBcryptCost = bcrypt.DefaultCost

func (h BcryptHasher) cost() int {
	if h.Cost <= 0 {
		return DefaultBcryptCost
	}
	return h.Cost
}

func (h BcryptHasher) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost())
	return string(out), err
}

func (h BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// complexityLevel mirrors dex's PasswordPolicy complexity ladder
// (server/passwordpolicy.go): none/low/fair/good/excellent.
type complexityLevel int

const (
	LevelNone complexityLevel = iota
	LevelLow
	LevelFair
	LevelGood
	LevelExcellent
)

// Complexity validates a candidate password against one rung of the
// ladder.
type Complexity struct {
	Level complexityLevel
}

func (c Complexity) Validate(password string) error {
	switch c.Level {
	case LevelNone:
		return nil
	case LevelLow:
		if len(password) < 8 {
			return errors.New("minimum 8 characters required")
		}
		return nil
	case LevelFair, LevelGood, LevelExcellent:
		if len(password) < 8 {
			return errors.New("minimum 8 characters required")
		}
		var hasLower, hasUpper, hasNumber, hasSpecial bool
		var previous rune
		for _, r := range password {
			if c.Level == LevelExcellent && r == previous {
				return errors.New("password contains 2 identical characters in a row")
			}
			switch {
			case unicode.IsLower(r):
				hasLower = true
			case unicode.IsUpper(r):
				hasUpper = true
			case unicode.IsNumber(r):
				hasNumber = true
			case !unicode.IsLetter(r) && !unicode.IsNumber(r):
				hasSpecial = true
			}
			previous = r
		}
		if !hasLower {
			return errors.New("at least one lowercase letter required")
		}
		if !hasUpper {
			return errors.New("at least one uppercase letter required")
		}
		if !hasNumber {
			return errors.New("at least one number required")
		}
		if c.Level >= LevelGood && !hasSpecial {
			return errors.New("at least one special character required")
		}
		return nil
	default:
		return errors.New("unknown password complexity level")
	}
}
