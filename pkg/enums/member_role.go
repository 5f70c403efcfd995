package enums

import "fmt"

// MemberRole is the actor role carried in access tokens minted by the
// platform's auth service. Vendors, restaurants, and drivers all own earnings
// accounts; admins operate the settlement queue.
type MemberRole string

const (
	MemberRoleVendor     MemberRole = "vendor"
	MemberRoleRestaurant MemberRole = "restaurant"
	MemberRoleDriver     MemberRole = "driver"
	MemberRoleAdmin      MemberRole = "admin"
)

var validMemberRoles = []MemberRole{
	MemberRoleVendor,
	MemberRoleRestaurant,
	MemberRoleDriver,
	MemberRoleAdmin,
}

// IsValid reports whether the value matches the canonical member role enum.
func (r MemberRole) IsValid() bool {
	for _, candidate := range validMemberRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsPayee reports whether the role earns into a ledger account.
func (r MemberRole) IsPayee() bool {
	switch r {
	case MemberRoleVendor, MemberRoleRestaurant, MemberRoleDriver:
		return true
	default:
		return false
	}
}

// ParseMemberRole converts raw input into MemberRole.
func ParseMemberRole(value string) (MemberRole, error) {
	for _, candidate := range validMemberRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid member role %q", value)
}
