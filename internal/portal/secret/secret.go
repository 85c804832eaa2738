// Package secret implements the portal's password policy, bcrypt hashing and
// temporary password generation.
package secret

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinLength is the minimum accepted password length.
	MinLength = 8

	// Symbols is the punctuation set a password must draw at least one character from.
	Symbols = `!@#$%^&*(),.?":{}|<>`

	// TempAlphabet is the character set used for temporary passwords.
	TempAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*"

	// DefaultTempLength is the length of generated temporary passwords.
	DefaultTempLength = 12
)

var (
	ErrWeakSecret = errors.New("password does not meet security requirements")
	ErrMismatch   = errors.New("password does not match")
)

// Rule names reported inside a PolicyError.
const (
	RuleLength    = "length"
	RuleUppercase = "uppercase"
	RuleLowercase = "lowercase"
	RuleDigit     = "digit"
	RuleSymbol    = "symbol"
)

// PolicyError lists the rules a candidate password failed. It matches
// ErrWeakSecret with errors.Is.
type PolicyError struct {
	Failed []string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrWeakSecret.Error(), strings.Join(e.Failed, ", "))
}

func (e *PolicyError) Is(target error) bool {
	return target == ErrWeakSecret
}

// Validate checks s against the password policy.
func Validate(s string) error {
	var upper, lower, digit, symbol bool
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(Symbols, r):
			symbol = true
		}
	}

	var failed []string
	if len(s) < MinLength {
		failed = append(failed, RuleLength)
	}
	if !upper {
		failed = append(failed, RuleUppercase)
	}
	if !lower {
		failed = append(failed, RuleLowercase)
	}
	if !digit {
		failed = append(failed, RuleDigit)
	}
	if !symbol {
		failed = append(failed, RuleSymbol)
	}
	if len(failed) > 0 {
		return &PolicyError{Failed: failed}
	}
	return nil
}

// Hash returns the bcrypt hash of s at bcrypt.DefaultCost.
func Hash(s string) (string, error) {
	return HashCost(s, bcrypt.DefaultCost)
}

// HashCost returns the bcrypt hash of s at the given cost.
func HashCost(s string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(s), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether s matches hash. It returns ErrMismatch on a wrong
// password and a wrapped error when hash is malformed.
func Compare(hash, s string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(s))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	return fmt.Errorf("compare password: %w", err)
}

// Temporary returns a random password of length n drawn from TempAlphabet.
// n <= 0 selects DefaultTempLength.
func Temporary(n int) (string, error) {
	if n <= 0 {
		n = DefaultTempLength
	}
	max := big.NewInt(int64(len(TempAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate temporary password: %w", err)
		}
		out[i] = TempAlphabet[idx.Int64()]
	}
	return string(out), nil
}
