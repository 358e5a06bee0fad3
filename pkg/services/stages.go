package services

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"underneath-backend/pkg/apperrors"
	"underneath-backend/pkg/database"
	"underneath-backend/pkg/metrics"
	"underneath-backend/pkg/models"
)

//go:embed default_stages.yaml
var defaultStagesYAML []byte

// DefaultStages returns the embedded stage ladder document.
func DefaultStages() []byte {
	return defaultStagesYAML
}

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

const maxStageNameLength = 100

// StageTracker manages the stage ladder and its SUB-facing flags.
type StageTracker struct {
	db      database.DatabaseInterface
	metrics *metrics.Metrics
}

func NewStageTracker(db database.DatabaseInterface, m *metrics.Metrics) *StageTracker {
	return &StageTracker{db: db, metrics: m}
}

// GetAllStages lists stages by stage number with counts of ownerID's
// entities visible at each. An empty ownerID counts every owner.
func (t *StageTracker) GetAllStages(ctx context.Context, ownerID string) ([]models.StageWithCounts, error) {
	stages, err := t.db.ListStages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	entities, err := t.db.ListEntities(ctx, ownerID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	out := make([]models.StageWithCounts, 0, len(stages))
	for _, s := range stages {
		out = append(out, models.StageWithCounts{Stage: s, Counts: countVisible(entities, s.StageNumber)})
	}
	return out, nil
}

// activeStages returns the stages taking part in point progression.
func (t *StageTracker) activeStages(ctx context.Context) ([]models.Stage, error) {
	stages, err := t.db.ListStages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	out := stages[:0]
	for _, s := range stages {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

// ToggleSubActive flips isSubActive. Turning a stage on clears it on every
// other stage in the same transaction.
func (t *StageTracker) ToggleSubActive(ctx context.Context, stageID string) (*models.Stage, error) {
	return t.toggle(ctx, stageID, models.FlagSubActive)
}

// ToggleSubVisible flips isSubVisible.
func (t *StageTracker) ToggleSubVisible(ctx context.Context, stageID string) (*models.Stage, error) {
	return t.toggle(ctx, stageID, models.FlagSubVisible)
}

// ToggleSubLocked flips isSubLocked.
func (t *StageTracker) ToggleSubLocked(ctx context.Context, stageID string) (*models.Stage, error) {
	return t.toggle(ctx, stageID, models.FlagSubLocked)
}

func (t *StageTracker) toggle(ctx context.Context, stageID string, flag models.StageFlag) (stage *models.Stage, err error) {
	ctx, span := startSpan(ctx, "stages.Toggle",
		attribute.String("stage.id", stageID),
		attribute.String("stage.flag", string(flag)))
	defer func() { endSpan(span, err) }()

	err = t.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
		s, err := tx.GetStage(ctx, stageID)
		if err != nil {
			return notFound(err, ErrStageNotFound, "failed to load stage")
		}

		switch flag {
		case models.FlagSubActive:
			if !s.IsSubActive {
				if err := tx.ClearSubActive(ctx, s.ID); err != nil {
					return fmt.Errorf("failed to clear active stage: %w", err)
				}
			}
			s.IsSubActive = !s.IsSubActive
		case models.FlagSubVisible:
			s.IsSubVisible = !s.IsSubVisible
		case models.FlagSubLocked:
			s.IsSubLocked = !s.IsSubLocked
		default:
			return fmt.Errorf("unknown stage flag %q", flag)
		}

		if err := tx.UpdateStage(ctx, s); err != nil {
			return t.translate(err, "failed to update stage")
		}
		stage = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.metrics.IncStageToggle(string(flag))
	zerolog.Ctx(ctx).Info().
		Str("stage_id", stage.ID).
		Str("flag", string(flag)).
		Bool("is_sub_active", stage.IsSubActive).
		Bool("is_sub_visible", stage.IsSubVisible).
		Bool("is_sub_locked", stage.IsSubLocked).
		Msg("stage toggled")
	return stage, nil
}

func (t *StageTracker) translate(err error, op string) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return ErrStageNotFound
	case errors.Is(err, database.ErrDuplicateStageNumber):
		return ErrStageNumberTaken
	case errors.Is(err, database.ErrSubActiveConflict):
		return ErrSubActiveConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

func validateStageRequest(req models.StageRequest) []string {
	violations := []string{}
	if req.StageNumber < 1 {
		violations = append(violations, "Stage number must be at least 1")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		violations = append(violations, "Stage name is required")
	} else if utf8.RuneCountInString(name) > maxStageNameLength {
		violations = append(violations, fmt.Sprintf("Stage name must be at most %d characters", maxStageNameLength))
	}
	if req.PointsRequired < 0 {
		violations = append(violations, "Points required cannot be negative")
	}
	if req.Color != "" && !colorPattern.MatchString(req.Color) {
		violations = append(violations, "Color must be a hex value like #A1B2C3")
	}
	return violations
}

// checkMonotonic verifies thresholds never decrease with stage number once
// candidate replaces the stage with the same ID (or is added).
func checkMonotonic(existing []models.Stage, candidate models.Stage) error {
	all := make([]models.Stage, 0, len(existing)+1)
	for _, s := range existing {
		if s.ID != candidate.ID {
			all = append(all, s)
		}
	}
	all = append(all, candidate)
	sort.Slice(all, func(i, j int) bool { return all[i].StageNumber < all[j].StageNumber })

	for i := 1; i < len(all); i++ {
		if all[i].PointsRequired < all[i-1].PointsRequired {
			return apperrors.Validation("Invalid stage", []string{fmt.Sprintf(
				"Points required must not decrease: stage %d needs %d but stage %d needs %d",
				all[i].StageNumber, all[i].PointsRequired, all[i-1].StageNumber, all[i-1].PointsRequired)})
		}
	}
	return nil
}

// CreateStage adds a stage after validation and the threshold check.
func (t *StageTracker) CreateStage(ctx context.Context, req models.StageRequest) (*models.Stage, error) {
	if v := validateStageRequest(req); len(v) > 0 {
		return nil, apperrors.Validation("Invalid stage", v)
	}
	stage := &models.Stage{
		StageNumber:    req.StageNumber,
		Name:           strings.TrimSpace(req.Name),
		Description:    strings.TrimSpace(req.Description),
		PointsRequired: req.PointsRequired,
		Color:          req.Color,
		IsActive:       true,
		IsSubVisible:   true,
	}
	if req.IsActive != nil {
		stage.IsActive = *req.IsActive
	}

	err := t.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
		existing, err := tx.ListStages(ctx)
		if err != nil {
			return fmt.Errorf("failed to list stages: %w", err)
		}
		for _, s := range existing {
			if s.StageNumber == stage.StageNumber {
				return ErrStageNumberTaken
			}
		}
		if err := checkMonotonic(existing, *stage); err != nil {
			return err
		}
		if err := tx.CreateStage(ctx, stage); err != nil {
			return t.translate(err, "failed to create stage")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("stage_id", stage.ID).Int("stage_number", stage.StageNumber).Msg("stage created")
	return stage, nil
}

// UpdateStage replaces the editable fields of a stage. Flags are left to the toggles.
func (t *StageTracker) UpdateStage(ctx context.Context, stageID string, req models.StageRequest) (*models.Stage, error) {
	if v := validateStageRequest(req); len(v) > 0 {
		return nil, apperrors.Validation("Invalid stage", v)
	}

	var out *models.Stage
	err := t.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
		stage, err := tx.GetStage(ctx, stageID)
		if err != nil {
			return notFound(err, ErrStageNotFound, "failed to load stage")
		}
		stage.StageNumber = req.StageNumber
		stage.Name = strings.TrimSpace(req.Name)
		stage.Description = strings.TrimSpace(req.Description)
		stage.PointsRequired = req.PointsRequired
		stage.Color = req.Color
		if req.IsActive != nil {
			stage.IsActive = *req.IsActive
		}

		existing, err := tx.ListStages(ctx)
		if err != nil {
			return fmt.Errorf("failed to list stages: %w", err)
		}
		for _, s := range existing {
			if s.ID != stage.ID && s.StageNumber == stage.StageNumber {
				return ErrStageNumberTaken
			}
		}
		if err := checkMonotonic(existing, *stage); err != nil {
			return err
		}
		if err := tx.UpdateStage(ctx, stage); err != nil {
			return t.translate(err, "failed to update stage")
		}
		out = stage
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteStage removes a stage. Entities keep their stage-number ranges.
func (t *StageTracker) DeleteStage(ctx context.Context, stageID string) error {
	if err := t.db.DeleteStage(ctx, stageID); err != nil {
		return t.translate(err, "failed to delete stage")
	}
	zerolog.Ctx(ctx).Info().Str("stage_id", stageID).Msg("stage deleted")
	return nil
}

type stageSeedFile struct {
	Stages []models.Stage `yaml:"stages"`
}

// SeedStages creates the stages of a YAML document whose numbers do not
// exist yet and reports how many were created. Existing stages are left as
// they are.
func (t *StageTracker) SeedStages(ctx context.Context, doc []byte) (int, error) {
	var file stageSeedFile
	if err := yaml.Unmarshal(doc, &file); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeValidation, "Invalid stage seed file", err)
	}
	if len(file.Stages) == 0 {
		return 0, apperrors.Validation("Invalid stage seed file", []string{"No stages defined"})
	}

	var violations []string
	seenActive := 0
	for _, s := range file.Stages {
		for _, v := range validateStageRequest(models.StageRequest{
			StageNumber: s.StageNumber, Name: s.Name, PointsRequired: s.PointsRequired, Color: s.Color,
		}) {
			violations = append(violations, fmt.Sprintf("stage %d: %s", s.StageNumber, v))
		}
		if s.IsSubActive {
			seenActive++
		}
	}
	if seenActive > 1 {
		violations = append(violations, "At most one stage may be active for the SUB")
	}
	if len(violations) > 0 {
		return 0, apperrors.Validation("Invalid stage seed file", violations)
	}

	created := 0
	err := t.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
		existing, err := tx.ListStages(ctx)
		if err != nil {
			return fmt.Errorf("failed to list stages: %w", err)
		}
		byNumber := make(map[int]bool, len(existing))
		anyActive := false
		for _, s := range existing {
			byNumber[s.StageNumber] = true
			anyActive = anyActive || s.IsSubActive
		}

		for _, s := range file.Stages {
			if byNumber[s.StageNumber] {
				continue
			}
			stage := s
			stage.ID = ""
			stage.Name = strings.TrimSpace(stage.Name)
			// an existing active stage wins over the seed file
			if anyActive {
				stage.IsSubActive = false
			}
			if err := checkMonotonic(existing, stage); err != nil {
				return err
			}
			if err := tx.CreateStage(ctx, &stage); err != nil {
				return t.translate(err, "failed to seed stage")
			}
			existing = append(existing, stage)
			byNumber[stage.StageNumber] = true
			anyActive = anyActive || stage.IsSubActive
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	zerolog.Ctx(ctx).Info().Int("created", created).Msg("stages seeded")
	return created, nil
}
