// Package identity is the portal's credential store: a fixed set of named
// accounts, each with a bcrypt password hash, a role and a permission set.
// Identities are never created or deleted at runtime; the only mutation is a
// password change or reset.
package identity

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/secret"
)

var (
	ErrNotFound           = errors.New("identity not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidRole        = errors.New("invalid role")
	ErrDuplicate          = errors.New("username already exists")
)

// Role is a coarse access tier.
type Role string

const (
	RoleClient     Role = "client"
	RoleOperator   Role = "operator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// ValidRole reports whether role is one of the supported roles.
func ValidRole(role Role) bool {
	switch role {
	case RoleClient, RoleOperator, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// PermissionAll grants every permission tag.
const PermissionAll = "all"

// Well-known permission tags.
const (
	PermViewUsers      = "view_users"
	PermEditLoans      = "edit_loans"
	PermViewPayments   = "view_payments"
	PermResetPasswords = "reset_passwords"
)

// Identity is a portal account.
type Identity struct {
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	SecretHash  string   `json:"-"`
	Role        Role     `json:"role"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Institution string   `json:"institution,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Clone returns a deep copy of i.
func (i Identity) Clone() Identity {
	i.Permissions = slices.Clone(i.Permissions)
	return i
}

// HasPermission reports explicit membership of tag, or the "all" sentinel.
// Role-based shortcuts are applied by the session manager, not here.
func (i Identity) HasPermission(tag string) bool {
	return slices.Contains(i.Permissions, PermissionAll) || slices.Contains(i.Permissions, tag)
}

// Store looks up and mutates identities.
type Store interface {
	Find(username string) (Identity, error)
	UpdateSecret(username, secretHash string) error
	List() ([]Identity, error)
}

// Verify checks username/password against store. Unknown users and wrong
// passwords both return ErrInvalidCredentials; unknown users are compared
// against a dummy hash so the two cases take similar time.
func Verify(store Store, username, password string) (Identity, error) {
	id, err := store.Find(username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = secret.Compare(dummyHash(), password)
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}

	if err := secret.Compare(id.SecretHash, password); err != nil {
		if errors.Is(err, secret.ErrMismatch) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}
	return id, nil
}

var (
	dummyOnce sync.Once
	dummy     string
)

func dummyHash() string {
	dummyOnce.Do(func() {
		dummy, _ = secret.Hash("bnr-portal-dummy-password")
	})
	return dummy
}

// MemoryStore keeps identities in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[string]Identity
}

// NewMemoryStore creates a store holding ids.
func NewMemoryStore(ids ...Identity) (*MemoryStore, error) {
	s := &MemoryStore{identities: make(map[string]Identity, len(ids))}
	for _, id := range ids {
		if err := validate(id); err != nil {
			return nil, err
		}
		if _, exists := s.identities[id.Username]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, id.Username)
		}
		s.identities[id.Username] = id.Clone()
	}
	return s, nil
}

// Find returns a copy of the identity named username.
func (s *MemoryStore) Find(username string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[username]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return id.Clone(), nil
}

// UpdateSecret replaces the password hash of username.
func (s *MemoryStore) UpdateSecret(username, secretHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[username]
	if !ok {
		return ErrNotFound
	}
	id.SecretHash = secretHash
	s.identities[username] = id
	return nil
}

// List returns all identities sorted by username.
func (s *MemoryStore) List() ([]Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Identity, 0, len(s.identities))
	for _, id := range s.identities {
		out = append(out, id.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func validate(id Identity) error {
	if strings.TrimSpace(id.Username) == "" {
		return fmt.Errorf("username required")
	}
	if !ValidRole(id.Role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, id.Role)
	}
	if id.SecretHash == "" {
		return fmt.Errorf("identity %s has no password hash", id.Username)
	}
	return nil
}
