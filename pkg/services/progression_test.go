package services

import (
	"testing"

	"underneath-backend/pkg/models"
)

func intPtr(v int) *int { return &v }

func TestIsVisibleAtStage(t *testing.T) {
	tests := []struct {
		name     string
		from     int
		to       *int
		stage    int
		visible  bool
		inherits bool
	}{
		{"before range", 3, nil, 2, false, false},
		{"first stage", 3, nil, 3, true, false},
		{"open ended", 3, nil, 10, true, true},
		{"inside closed range", 1, intPtr(4), 3, true, true},
		{"upper bound excluded", 1, intPtr(4), 4, false, false},
		{"single stage range", 2, intPtr(3), 2, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &models.StageEntity{ActiveFromStage: tt.from, ActiveToStage: tt.to}
			if got := IsVisibleAtStage(e, tt.stage); got != tt.visible {
				t.Errorf("IsVisibleAtStage = %v, want %v", got, tt.visible)
			}
			if got := Inherited(e, tt.stage); got != tt.inherits {
				t.Errorf("Inherited = %v, want %v", got, tt.inherits)
			}
		})
	}
}

func ladder() []models.Stage {
	return []models.Stage{
		{StageNumber: 3, PointsRequired: 300},
		{StageNumber: 1, PointsRequired: 0},
		{StageNumber: 2, PointsRequired: 100},
	}
}

func TestStageForPoints(t *testing.T) {
	tests := []struct {
		points int
		want   int // 0 means no stage
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{299, 2},
		{300, 3},
		{5000, 3},
	}
	for _, tt := range tests {
		got, ok := StageForPoints(tt.points, ladder())
		if !ok || got.StageNumber != tt.want {
			t.Errorf("StageForPoints(%d) = %v, %v; want stage %d", tt.points, got, ok, tt.want)
		}
	}

	if _, ok := StageForPoints(10, []models.Stage{{StageNumber: 1, PointsRequired: 50}}); ok {
		t.Error("expected no stage below the first threshold")
	}
	if _, ok := StageForPoints(10, nil); ok {
		t.Error("expected no stage for an empty ladder")
	}

	tie := []models.Stage{{StageNumber: 1, PointsRequired: 0}, {StageNumber: 2, PointsRequired: 0}}
	if got, _ := StageForPoints(0, tie); got.StageNumber != 2 {
		t.Errorf("tie resolved to %d, want 2", got.StageNumber)
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name    string
		points  int
		current int
		next    int
		toNext  int
		percent int
	}{
		{"start", 0, 1, 2, 100, 0},
		{"halfway", 50, 1, 2, 50, 50},
		{"second stage", 200, 2, 3, 100, 50},
		{"top", 400, 3, 0, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Progress("sub", tt.points, ladder())
			if p.CurrentStage == nil || p.CurrentStage.StageNumber != tt.current {
				t.Fatalf("current = %+v", p.CurrentStage)
			}
			if tt.next == 0 {
				if p.NextStage != nil {
					t.Fatalf("next = %+v, want none", p.NextStage)
				}
			} else if p.NextStage == nil || p.NextStage.StageNumber != tt.next {
				t.Fatalf("next = %+v", p.NextStage)
			}
			if p.PointsToNext != tt.toNext || p.Percent != tt.percent {
				t.Errorf("toNext=%d percent=%d, want %d/%d", p.PointsToNext, p.Percent, tt.toNext, tt.percent)
			}
		})
	}

	p := Progress("sub", 10, []models.Stage{{StageNumber: 1, PointsRequired: 40}})
	if p.CurrentStage != nil || p.NextStage == nil || p.Percent != 25 || p.PointsToNext != 30 {
		t.Errorf("below first stage: %+v", p)
	}
	if p := Progress("sub", 10, nil); p.Percent != 100 || p.CurrentStage != nil {
		t.Errorf("empty ladder: %+v", p)
	}
}
