package config

import (
	"fmt"
	"time"
)

// InvitationPolicy configures team invitations
type InvitationPolicy struct {
	TTL            time.Duration `env:"INVITATION_TTL" envDefault:"168h"`              // Lifetime of an invitation token
	DailyLimit     int           `env:"INVITATION_DAILY_LIMIT" envDefault:"20"`        // Invitations one inviter may create per window
	LimitWindow    time.Duration `env:"INVITATION_LIMIT_WINDOW" envDefault:"24h"`      // Rolling window of DailyLimit
	AllowSolo      bool          `env:"ALLOW_SOLO_COMPLETION" envDefault:"true"`       // Complete teams where nobody accepted
	ExpireOnCancel bool          `env:"EXPIRE_INVITATIONS_ON_CANCEL" envDefault:"false"` // Expire pending invitations of a cancelled registration
}

var DefaultInvitationPolicy = InvitationPolicy{
	TTL:            7 * 24 * time.Hour,
	DailyLimit:     20,
	LimitWindow:    24 * time.Hour,
	AllowSolo:      true,
	ExpireOnCancel: false,
}

// Validate rejects policies that cannot be enforced
func (p InvitationPolicy) Validate() error {
	if p.TTL <= 0 {
		return fmt.Errorf("INVITATION_TTL must be positive, got %s", p.TTL)
	}
	if p.DailyLimit < 1 {
		return fmt.Errorf("INVITATION_DAILY_LIMIT must be at least 1, got %d", p.DailyLimit)
	}
	if p.LimitWindow <= 0 {
		return fmt.Errorf("INVITATION_LIMIT_WINDOW must be positive, got %s", p.LimitWindow)
	}
	return nil
}
