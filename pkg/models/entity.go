package models

import "time"

type EntityKind string

const (
	KindTask EntityKind = "TASK"
	KindRule EntityKind = "RULE"
	KindGoal EntityKind = "GOAL"
)

// StageEntity is a task, rule or goal attached to a range of stages.
// ActiveFromStage is inclusive, ActiveToStage exclusive; nil means unbounded.
type StageEntity struct {
	ID              string     `json:"id" db:"id"`
	Kind            EntityKind `json:"kind" db:"kind"`
	OwnerID         string     `json:"ownerId" db:"owner_id"`
	Title           string     `json:"title" db:"title"`
	Description     string     `json:"description,omitempty" db:"description"`
	ActiveFromStage int        `json:"activeFromStage" db:"active_from_stage"`
	ActiveToStage   *int       `json:"activeToStage,omitempty" db:"active_to_stage"`
	Priority        string     `json:"priority,omitempty" db:"priority"`
	Severity        string     `json:"severity,omitempty" db:"severity"`
	Points          int        `json:"points" db:"points"`
	DueDate         *time.Time `json:"dueDate,omitempty" db:"due_date"`
	CompletedAt     *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
}

// EntityView decorates an entity with its inherited flag for a stage
type EntityView struct {
	StageEntity
	Inherited bool `json:"inherited"`
}

// EntityRequest is the body for creating or updating an entity
type EntityRequest struct {
	Kind            string     `json:"kind"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	ActiveFromStage int        `json:"activeFromStage"`
	ActiveToStage   *int       `json:"activeToStage,omitempty"`
	Priority        string     `json:"priority,omitempty"`
	Severity        string     `json:"severity,omitempty"`
	Points          int        `json:"points"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
}
