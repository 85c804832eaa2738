package identity

import (
	"fmt"
	"os"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/secret"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Seed is a fixture entry with a plaintext password. Seeds only exist at load
// time; the password is hashed before the identity reaches a store.
type Seed struct {
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Role        Role     `yaml:"role"`
	Name        string   `yaml:"name"`
	Email       string   `yaml:"email,omitempty"`
	Phone       string   `yaml:"phone,omitempty"`
	Bank        string   `yaml:"bank,omitempty"`
	Permissions []string `yaml:"permissions,omitempty"`
}

type seedFile struct {
	Identities []Seed `yaml:"identities"`
}

// DefaultSeed returns the demo accounts of the BNR portal.
func DefaultSeed() []Seed {
	return []Seed{
		{
			Username: "client",
			Password: "Client123!",
			Role:     RoleClient,
			Name:     "Ion Popescu",
			Email:    "client@bnr.ro",
			Phone:    "+40 721 123 456",
			Bank:     "BNR",
		},
		{
			Username:    "pult",
			Password:    "PultOperator123!",
			Role:        RoleOperator,
			Name:        "Ana Ionescu",
			Email:       "pult@bnr.ro",
			Phone:       "+40 721 234 567",
			Bank:        "BNR",
			Permissions: []string{PermViewUsers, PermEditLoans, PermViewPayments},
		},
		{
			Username:    "admin",
			Password:    "AdminSecure123!",
			Role:        RoleAdmin,
			Name:        "Administrator Sistem",
			Email:       "admin@bnr.ro",
			Phone:       "+40 721 345 678",
			Bank:        "BNR",
			Permissions: []string{PermissionAll},
		},
		{
			Username:    "Lorde_Macalister",
			Password:    "Shunia03SMacalister",
			Role:        RoleSuperAdmin,
			Name:        "Super Administrator",
			Email:       "superadmin@bnr.ro",
			Phone:       "+40 721 456 789",
			Bank:        "BNR",
			Permissions: []string{PermissionAll},
		},
	}
}

// LoadSeed reads a YAML fixture of the form:
//
//	identities:
//	  - username: client
//	    password: Client123!
//	    role: client
//	    name: Ion Popescu
func LoadSeed(path string) ([]Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identities: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse identities: %w", err)
	}
	if len(f.Identities) == 0 {
		return nil, fmt.Errorf("identities file %s lists no identities", path)
	}
	return f.Identities, nil
}

// Build hashes seeds into identities at the given bcrypt cost; cost 0 selects
// bcrypt.DefaultCost.
func Build(seeds []Seed, cost int) ([]Identity, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out := make([]Identity, 0, len(seeds))
	for _, s := range seeds {
		if !ValidRole(s.Role) {
			return nil, fmt.Errorf("%w: %q for %s", ErrInvalidRole, s.Role, s.Username)
		}
		hash, err := secret.HashCost(s.Password, cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", s.Username, err)
		}
		out = append(out, Identity{
			Username:    s.Username,
			DisplayName: s.Name,
			SecretHash:  hash,
			Role:        s.Role,
			Email:       s.Email,
			Phone:       s.Phone,
			Institution: s.Bank,
			Permissions: append([]string(nil), s.Permissions...),
		})
	}
	return out, nil
}
