package models

import (
	"testing"
	"time"
)

func TestInvitationState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	used := now.Add(-time.Hour)

	tests := []struct {
		name       string
		inv        Invitation
		redeemable bool
		status     string
	}{
		{"pending", Invitation{IsActive: true, ExpiresAt: now.Add(time.Minute)}, true, "pending"},
		{"expires exactly now", Invitation{IsActive: true, ExpiresAt: now}, false, "expired"},
		{"revoked", Invitation{IsActive: false, ExpiresAt: now.Add(time.Hour)}, false, "revoked"},
		{"used", Invitation{IsActive: true, UsedAt: &used, ExpiresAt: now.Add(time.Hour)}, false, "used"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.inv.IsRedeemable(now); got != tt.redeemable {
				t.Errorf("IsRedeemable = %v, want %v", got, tt.redeemable)
			}
			if got := tt.inv.Status(now); got != tt.status {
				t.Errorf("Status = %q, want %q", got, tt.status)
			}
		})
	}
}
