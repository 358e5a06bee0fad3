package models

import "time"

// Invitation is a single-use code a DOM hands to a prospective SUB
type Invitation struct {
	ID        string     `json:"id" db:"id"`
	Code      string     `json:"code" db:"code"`
	DomID     string     `json:"domId" db:"dom_id"`
	Email     *string    `json:"email,omitempty" db:"email"`
	Message   *string    `json:"message,omitempty" db:"message"`
	ExpiresAt time.Time  `json:"expiresAt" db:"expires_at"`
	IsActive  bool       `json:"isActive" db:"is_active"`
	UsedBy    *string    `json:"usedBy,omitempty" db:"used_by"`
	UsedAt    *time.Time `json:"usedAt,omitempty" db:"used_at"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// IsExpired reports whether the invitation is past its expiry at now.
func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// IsRedeemable reports whether the code can still be consumed at now.
func (i *Invitation) IsRedeemable(now time.Time) bool {
	return i.UsedAt == nil && i.IsActive && !i.IsExpired(now)
}

// Status returns a human-readable status for listings
func (i *Invitation) Status(now time.Time) string {
	switch {
	case i.UsedAt != nil:
		return "used"
	case !i.IsActive:
		return "revoked"
	case i.IsExpired(now):
		return "expired"
	default:
		return "pending"
	}
}

// CreateInvitationRequest is the body of POST /api/invitations
type CreateInvitationRequest struct {
	Email      string `json:"email,omitempty"`
	Message    string `json:"message,omitempty"`
	ValidHours int    `json:"validHours,omitempty"`
}

// InvitationCodeRequest carries a code for validate/accept
type InvitationCodeRequest struct {
	Code string `json:"code"`
}

// InvitationView is an invitation as listed to its owner
type InvitationView struct {
	Invitation
	Status string `json:"status"`
}
