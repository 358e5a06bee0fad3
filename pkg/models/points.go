package models

import "time"

// PointAccount holds a SUB's accumulated points
type PointAccount struct {
	UserID      string    `json:"userId" db:"user_id"`
	TotalPoints int       `json:"totalPoints" db:"total_points"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// Progress is the derived position of a point total on the stage ladder
type Progress struct {
	UserID       string `json:"userId"`
	TotalPoints  int    `json:"totalPoints"`
	CurrentStage *Stage `json:"currentStage,omitempty"`
	NextStage    *Stage `json:"nextStage,omitempty"`
	PointsToNext int    `json:"pointsToNext"`
	Percent      int    `json:"percent"`
}

// AwardPointsRequest is the body of POST /api/points/award
type AwardPointsRequest struct {
	Points int    `json:"points"`
	Reason string `json:"reason,omitempty"`
}
