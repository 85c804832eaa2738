// Package challenge issues the arithmetic human-verification puzzle that gates
// login attempts. It is an anti-automation placeholder, not a security control.
package challenge

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"
)

// DefaultTTL is how long an issued challenge stays answerable.
const DefaultTTL = 5 * time.Minute

var (
	ErrMissing  = errors.New("no challenge issued")
	ErrExpired  = errors.New("challenge expired")
	ErrMismatch = errors.New("challenge answer incorrect")
)

// Challenge is a single addition puzzle.
type Challenge struct {
	A        int    `json:"-"`
	B        int    `json:"-"`
	Question string `json:"question"`
	Answer   string `json:"-"`
}

// New returns a challenge with two operands in [1,10].
func New() (Challenge, error) {
	a, err := operand()
	if err != nil {
		return Challenge{}, err
	}
	b, err := operand()
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{
		A:        a,
		B:        b,
		Question: fmt.Sprintf("%d + %d = ?", a, b),
		Answer:   strconv.Itoa(a + b),
	}, nil
}

func operand() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10))
	if err != nil {
		return 0, fmt.Errorf("generate challenge: %w", err)
	}
	return int(n.Int64()) + 1, nil
}

// Store holds the single outstanding challenge for a session manager, the
// equivalent of the per-tab transient storage of the browser portal.
type Store struct {
	mu        sync.Mutex
	answer    string
	expiresAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

// NewStore creates a store. ttl <= 0 selects DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{ttl: ttl, now: time.Now}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Issue generates a new challenge, replacing any outstanding one.
func (s *Store) Issue() (Challenge, error) {
	c, err := New()
	if err != nil {
		return Challenge{}, err
	}
	s.Put(c)
	return c, nil
}

// Put stores c as the outstanding challenge.
func (s *Store) Put(c Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = c.Answer
	s.expiresAt = s.now().Add(s.ttl)
}

// Verify compares response with the outstanding answer. The challenge stays
// outstanding after a mismatch so the user can retry it.
func (s *Store) Verify(response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.answer == "" {
		return ErrMissing
	}
	if !s.now().Before(s.expiresAt) {
		s.answer = ""
		return ErrExpired
	}
	if response == "" || response != s.answer {
		return ErrMismatch
	}
	return nil
}

// Clear drops the outstanding challenge.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = ""
	s.expiresAt = time.Time{}
}

// Pending reports whether an unexpired challenge is outstanding.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer != "" && s.now().Before(s.expiresAt)
}
