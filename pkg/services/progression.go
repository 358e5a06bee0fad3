package services

import (
	"sort"

	"underneath-backend/pkg/models"
)

// IsVisibleAtStage reports whether e applies at stage: the lower bound is
// inclusive, the upper bound exclusive, and a nil upper bound never closes.
func IsVisibleAtStage(e *models.StageEntity, stage int) bool {
	if e.ActiveFromStage > stage {
		return false
	}
	return e.ActiveToStage == nil || stage < *e.ActiveToStage
}

// Inherited reports whether e is visible at stage but was introduced earlier.
func Inherited(e *models.StageEntity, stage int) bool {
	return IsVisibleAtStage(e, stage) && e.ActiveFromStage < stage
}

// StageForPoints returns the highest-numbered stage whose threshold is met.
func StageForPoints(totalPoints int, stages []models.Stage) (*models.Stage, bool) {
	var best *models.Stage
	for i := range stages {
		s := &stages[i]
		if s.PointsRequired > totalPoints {
			continue
		}
		if best == nil || s.StageNumber > best.StageNumber {
			best = s
		}
	}
	if best == nil {
		return nil, false
	}
	out := *best
	return &out, true
}

// Progress places totalPoints on the stage ladder.
func Progress(userID string, totalPoints int, stages []models.Stage) models.Progress {
	p := models.Progress{UserID: userID, TotalPoints: totalPoints}

	ordered := make([]models.Stage, len(stages))
	copy(ordered, stages)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].StageNumber < ordered[j].StageNumber })

	current, ok := StageForPoints(totalPoints, ordered)
	if ok {
		p.CurrentStage = current
	}

	for i := range ordered {
		if current == nil || ordered[i].StageNumber > current.StageNumber {
			next := ordered[i]
			p.NextStage = &next
			break
		}
	}

	if p.NextStage == nil {
		p.Percent = 100
		return p
	}

	base := 0
	if current != nil {
		base = current.PointsRequired
	}
	p.PointsToNext = max(p.NextStage.PointsRequired-totalPoints, 0)

	span := p.NextStage.PointsRequired - base
	if span <= 0 {
		p.Percent = 100
		return p
	}
	p.Percent = min(max((totalPoints-base)*100/span, 0), 100)
	return p
}

// countVisible tallies entities visible at stage by kind.
func countVisible(entities []models.StageEntity, stage int) models.EntityCounts {
	var c models.EntityCounts
	for i := range entities {
		if !IsVisibleAtStage(&entities[i], stage) {
			continue
		}
		switch entities[i].Kind {
		case models.KindTask:
			c.Tasks++
		case models.KindRule:
			c.Rules++
		case models.KindGoal:
			c.Goals++
		}
	}
	return c
}
