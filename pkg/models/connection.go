package models

import "time"

type ConnectionStatus string

const (
	ConnectionActive     ConnectionStatus = "ACTIVE"
	ConnectionTerminated ConnectionStatus = "TERMINATED"
	ConnectionSuspended  ConnectionStatus = "SUSPENDED"
)

// Connection links one DOM to one SUB
type Connection struct {
	ID           string           `json:"id" db:"id"`
	DomID        string           `json:"domId" db:"dom_id"`
	SubID        string           `json:"subId" db:"sub_id"`
	InvitationID *string          `json:"invitationId,omitempty" db:"invitation_id"`
	Status       ConnectionStatus `json:"status" db:"status"`
	CreatedAt    time.Time        `json:"createdAt" db:"created_at"`
	TerminatedAt *time.Time       `json:"terminatedAt,omitempty" db:"terminated_at"`
	TerminatedBy *string          `json:"terminatedBy,omitempty" db:"terminated_by"`
}

// PartnerOf returns the id on the other side of the connection from userID.
func (c *Connection) PartnerOf(userID string) string {
	if c.DomID == userID {
		return c.SubID
	}
	return c.DomID
}

// Involves reports whether userID is either party.
func (c *Connection) Involves(userID string) bool {
	return c.DomID == userID || c.SubID == userID
}

// ConnectionView is what GET /connections/my-connection returns
type ConnectionView struct {
	ID        string           `json:"id"`
	Status    ConnectionStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	Partner   PartnerSummary   `json:"partner"`
}
