// README: User aggregate as a closed variant over passenger and driver profiles.
package user

import (
	"errors"
	"fmt"
	"strings"

	"sharedride/internal/types"
)

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
)

var (
	ErrInvalidRole    = errors.New("invalid role")
	ErrInvalidProfile = errors.New("profile does not match role")
	ErrMissingField   = errors.New("missing required field")
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RolePassenger:
		return RolePassenger, nil
	case RoleDriver:
		return RoleDriver, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Caller is the identity supplied per request by the identity provider.
type Caller struct {
	ID   types.ID
	Role Role
}

// Profile is implemented only by PassengerProfile and DriverProfile.
type Profile interface {
	role() Role
}

type PaymentMethod struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

type PassengerProfile struct {
	WalletBalance  float64         `json:"wallet_balance"`
	PaymentMethods []PaymentMethod `json:"payment_methods"`
}

func (PassengerProfile) role() Role { return RolePassenger }

type Vehicle struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Plate string `json:"plate"`
	Color string `json:"color"`
}

type DriverProfile struct {
	LicenseNumber string       `json:"license_number"`
	Vehicle       Vehicle      `json:"vehicle"`
	Available     bool         `json:"available"`
	Location      *types.Point `json:"location,omitempty"`
}

func (DriverProfile) role() Role { return RoleDriver }

// User fields are unexported where they must not change after New.
type User struct {
	ID      types.ID
	Name    string
	Email   string
	Phone   string
	role    Role
	profile Profile
}

func New(id types.ID, name, email, phone string, profile Profile) (*User, error) {
	if id == "" || strings.TrimSpace(name) == "" {
		return nil, ErrMissingField
	}
	if profile == nil {
		return nil, ErrInvalidProfile
	}
	u := &User{ID: id, Name: name, Email: email, Phone: phone, role: profile.role(), profile: profile}
	if dp, ok := u.Driver(); ok && strings.TrimSpace(dp.LicenseNumber) == "" {
		return nil, fmt.Errorf("%w: license number", ErrMissingField)
	}
	return u, nil
}

func (u *User) Role() Role {
	return u.role
}

func (u *User) Caller() Caller {
	return Caller{ID: u.ID, Role: u.role}
}

func (u *User) Passenger() (PassengerProfile, bool) {
	switch u.role {
	case RolePassenger:
		p, ok := u.profile.(PassengerProfile)
		return p, ok
	case RoleDriver:
		return PassengerProfile{}, false
	}
	return PassengerProfile{}, false
}

func (u *User) Driver() (DriverProfile, bool) {
	switch u.role {
	case RoleDriver:
		d, ok := u.profile.(DriverProfile)
		return d, ok
	case RolePassenger:
		return DriverProfile{}, false
	}
	return DriverProfile{}, false
}

// UpdateProfile replaces the role payload. The new payload must be of the same
// kind, so the role never changes.
func (u *User) UpdateProfile(p Profile) error {
	if p == nil || p.role() != u.role {
		return ErrInvalidProfile
	}
	u.profile = p
	return nil
}
