package identity

import "time"

// View is the caller-facing projection of an Identity. It never carries the
// secret hash, token hashes, or lockout counters.
type View struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	Phone             string     `json:"phone"`
	Role              Role       `json:"role"`
	Status            Status     `json:"status"`
	EmailVerified     bool       `json:"emailVerified"`
	PhoneVerified     bool       `json:"phoneVerified"`
	Verified          bool       `json:"verified"`
	IsProfileComplete bool       `json:"isProfileComplete"`
	LastLoginAt       *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// ToView projects i for API responses.
func (i *Identity) ToView() View {
	v := View{
		ID:                i.ID,
		Name:              i.Name,
		Email:             i.Email,
		Phone:             i.Phone,
		Role:              i.Role,
		Status:            i.Status,
		EmailVerified:     i.EmailVerified,
		PhoneVerified:     i.PhoneVerified,
		Verified:          i.Verified(),
		IsProfileComplete: i.IsProfileComplete(),
		CreatedAt:         i.CreatedAt,
	}
	if i.LastLogin != nil && !i.LastLogin.At.IsZero() {
		at := i.LastLogin.At
		v.LastLoginAt = &at
	}
	return v
}
