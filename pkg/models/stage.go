package models

import "time"

// Stage is one numbered step of progression
type Stage struct {
	ID             string    `json:"id" db:"id" yaml:"-"`
	StageNumber    int       `json:"stageNumber" db:"stage_number" yaml:"stageNumber"`
	Name           string    `json:"name" db:"name" yaml:"name"`
	Description    string    `json:"description,omitempty" db:"description" yaml:"description"`
	PointsRequired int       `json:"pointsRequired" db:"points_required" yaml:"pointsRequired"`
	Color          string    `json:"color" db:"color" yaml:"color"`
	IsActive       bool      `json:"isActive" db:"is_active" yaml:"isActive"`
	IsSubActive    bool      `json:"isSubActive" db:"is_sub_active" yaml:"isSubActive"`
	IsSubVisible   bool      `json:"isSubVisible" db:"is_sub_visible" yaml:"isSubVisible"`
	IsSubLocked    bool      `json:"isSubLocked" db:"is_sub_locked" yaml:"isSubLocked"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at" yaml:"-"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at" yaml:"-"`
}

// StageFlag names one of the SUB-facing booleans on a stage
type StageFlag string

const (
	FlagSubActive  StageFlag = "is_sub_active"
	FlagSubVisible StageFlag = "is_sub_visible"
	FlagSubLocked  StageFlag = "is_sub_locked"
)

// EntityCounts is how many entities of each kind are visible at a stage
type EntityCounts struct {
	Tasks int `json:"tasks"`
	Rules int `json:"rules"`
	Goals int `json:"goals"`
}

// StageWithCounts is a stage row as listed by GET /api/stages
type StageWithCounts struct {
	Stage
	Counts EntityCounts `json:"counts"`
}

// StageRequest is the body for creating or updating a stage
type StageRequest struct {
	StageNumber    int    `json:"stageNumber"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	PointsRequired int    `json:"pointsRequired"`
	Color          string `json:"color"`
	IsActive       *bool  `json:"isActive,omitempty"`
}
