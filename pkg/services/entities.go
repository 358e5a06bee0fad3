package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"underneath-backend/pkg/apperrors"
	"underneath-backend/pkg/database"
	"underneath-backend/pkg/metrics"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/validation"
)

const (
	maxEntityTitleLength = 120
	maxEntityPoints      = 10000
)

var (
	priorities = map[string]bool{"LOW": true, "MEDIUM": true, "HIGH": true}
	severities = map[string]bool{"MINOR": true, "MAJOR": true, "CRITICAL": true}
)

// EntityService manages the tasks, rules and goals a DOM attaches to stages.
type EntityService struct {
	db      database.DatabaseInterface
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewEntityService(db database.DatabaseInterface, m *metrics.Metrics) *EntityService {
	return &EntityService{db: db, metrics: m, now: time.Now}
}

// CompletionResult is returned by CompleteEntity
type CompletionResult struct {
	Entity  *models.StageEntity  `json:"entity"`
	Account *models.PointAccount `json:"account"`
}

func normalizeEntityRequest(req *models.EntityRequest) []string {
	var violations []string

	req.Kind = strings.ToUpper(strings.TrimSpace(req.Kind))
	req.Title = validation.SanitizeInput(req.Title)
	req.Description = validation.SanitizeInput(req.Description)
	req.Priority = strings.ToUpper(strings.TrimSpace(req.Priority))
	req.Severity = strings.ToUpper(strings.TrimSpace(req.Severity))

	kind := models.EntityKind(req.Kind)
	switch kind {
	case models.KindTask, models.KindRule, models.KindGoal:
	default:
		violations = append(violations, "Kind must be one of TASK, RULE, GOAL")
	}

	if n := utf8.RuneCountInString(req.Title); n == 0 {
		violations = append(violations, "Title is required")
	} else if n > maxEntityTitleLength {
		violations = append(violations, fmt.Sprintf("Title must be at most %d characters", maxEntityTitleLength))
	}
	if r := validation.ValidateMessage(req.Description); !r.Valid {
		violations = append(violations, r.Errors...)
	}

	if req.ActiveFromStage < 1 {
		violations = append(violations, "activeFromStage must be at least 1")
	}
	if req.ActiveToStage != nil && *req.ActiveToStage <= req.ActiveFromStage {
		violations = append(violations, "activeToStage must be greater than activeFromStage")
	}

	if req.Priority != "" && !priorities[req.Priority] {
		violations = append(violations, "Priority must be one of LOW, MEDIUM, HIGH")
	}
	if req.Severity != "" {
		if !severities[req.Severity] {
			violations = append(violations, "Severity must be one of MINOR, MAJOR, CRITICAL")
		}
		if kind != models.KindRule {
			violations = append(violations, "Severity only applies to rules")
		}
	}
	if req.Points < 0 || req.Points > maxEntityPoints {
		violations = append(violations, fmt.Sprintf("Points must be between 0 and %d", maxEntityPoints))
	}
	if req.Points > 0 && kind == models.KindRule {
		violations = append(violations, "Rules cannot award points")
	}
	return violations
}

func applyEntityRequest(e *models.StageEntity, req models.EntityRequest) {
	e.Kind = models.EntityKind(req.Kind)
	e.Title = req.Title
	e.Description = req.Description
	e.ActiveFromStage = req.ActiveFromStage
	e.ActiveToStage = req.ActiveToStage
	e.Priority = req.Priority
	e.Severity = req.Severity
	e.Points = req.Points
	e.DueDate = req.DueDate
}

// CreateEntity adds an entity owned by domID.
func (s *EntityService) CreateEntity(ctx context.Context, domID string, req models.EntityRequest) (*models.StageEntity, error) {
	dom, err := loadUser(ctx, s.db, domID)
	if err != nil {
		return nil, err
	}
	if dom.Role != models.RoleDom {
		return nil, forbidden("Only a DOM can create entities")
	}
	if v := normalizeEntityRequest(&req); len(v) > 0 {
		return nil, apperrors.Validation("Invalid entity", v)
	}

	e := &models.StageEntity{OwnerID: domID}
	applyEntityRequest(e, req)
	if err := s.db.CreateEntity(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("entity_id", e.ID).
		Str("kind", string(e.Kind)).
		Int("from_stage", e.ActiveFromStage).
		Msg("entity created")
	return e, nil
}

// owned loads an entity and checks that domID owns it.
func (s *EntityService) owned(ctx context.Context, db database.DatabaseInterface, domID, entityID string) (*models.StageEntity, error) {
	e, err := db.GetEntity(ctx, entityID)
	if err != nil {
		return nil, notFound(err, ErrEntityNotFound, "failed to load entity")
	}
	if e.OwnerID != domID {
		return nil, forbidden("Entity belongs to another user")
	}
	return e, nil
}

// UpdateEntity replaces the editable fields. Completion state is kept.
func (s *EntityService) UpdateEntity(ctx context.Context, domID, entityID string, req models.EntityRequest) (*models.StageEntity, error) {
	if v := normalizeEntityRequest(&req); len(v) > 0 {
		return nil, apperrors.Validation("Invalid entity", v)
	}

	var out *models.StageEntity
	err := s.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
		e, err := s.owned(ctx, tx, domID, entityID)
		if err != nil {
			return err
		}
		applyEntityRequest(e, req)
		if err := tx.UpdateEntity(ctx, e); err != nil {
			return notFound(err, ErrEntityNotFound, "failed to update entity")
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEntity removes an entity owned by domID.
func (s *EntityService) DeleteEntity(ctx context.Context, domID, entityID string) error {
	return s.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
		if _, err := s.owned(ctx, tx, domID, entityID); err != nil {
			return err
		}
		if err := tx.DeleteEntity(ctx, entityID); err != nil {
			return notFound(err, ErrEntityNotFound, "failed to delete entity")
		}
		zerolog.Ctx(ctx).Info().Str("entity_id", entityID).Msg("entity deleted")
		return nil
	})
}

// ListEntities returns the entities viewerID may see. A DOM sees its own, a
// SUB its partner's. stage 0 means the SUB's current stage by points; with no
// current stage the list is not filtered.
func (s *EntityService) ListEntities(ctx context.Context, viewerID string, kind models.EntityKind, stage int) ([]models.EntityView, error) {
	viewer, err := loadUser(ctx, s.db, viewerID)
	if err != nil {
		return nil, err
	}

	var ownerID string
	switch viewer.Role {
	case models.RoleDom:
		ownerID = viewer.ID
	case models.RoleSub:
		if ownerID, err = partnerDom(ctx, s.db, viewer); err != nil {
			return nil, err
		}
	default:
		return nil, forbidden("Only connected DOM or SUB users can list entities")
	}

	if stage == 0 {
		if stage, err = s.currentStage(ctx, viewer); err != nil {
			return nil, err
		}
	}

	list, err := s.db.ListEntities(ctx, ownerID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	out := make([]models.EntityView, 0, len(list))
	for i := range list {
		e := &list[i]
		if stage > 0 && !IsVisibleAtStage(e, stage) {
			continue
		}
		out = append(out, models.EntityView{StageEntity: *e, Inherited: stage > 0 && Inherited(e, stage)})
	}
	return out, nil
}

// currentStage returns the stage number the connected SUB has reached, or 0.
func (s *EntityService) currentStage(ctx context.Context, viewer *models.User) (int, error) {
	subID, err := partnerSub(ctx, s.db, viewer)
	if apperrors.CodeOf(err) == apperrors.CodeNoActiveConnection {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return stageOf(ctx, s.db, subID)
}

// stageOf returns the active stage subID's points reach through db, or 0.
func stageOf(ctx context.Context, db database.DatabaseInterface, subID string) (int, error) {
	acct, err := pointAccount(ctx, db, subID)
	if err != nil {
		return 0, err
	}
	stages, err := (&StageTracker{db: db}).activeStages(ctx)
	if err != nil {
		return 0, err
	}
	if st, ok := StageForPoints(acct.TotalPoints, stages); ok {
		return st.StageNumber, nil
	}
	return 0, nil
}

// CompleteEntity marks a TASK or GOAL of the SUB's partner as done and
// credits its points to the SUB.
func (s *EntityService) CompleteEntity(ctx context.Context, subID, entityID string) (res *CompletionResult, err error) {
	ctx, span := startSpan(ctx, "entities.Complete",
		attribute.String("user.id", subID),
		attribute.String("entity.id", entityID))
	defer func() { endSpan(span, err) }()

	sub, err := loadUser(ctx, s.db, subID)
	if err != nil {
		return nil, err
	}
	if sub.Role != models.RoleSub {
		return nil, forbidden("Only a SUB can complete entities")
	}

	err = s.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
		domID, err := partnerDom(ctx, tx, sub)
		if err != nil {
			return err
		}
		e, err := tx.GetEntity(ctx, entityID)
		if err != nil {
			return notFound(err, ErrEntityNotFound, "failed to load entity")
		}
		if e.OwnerID != domID {
			return forbidden("Entity belongs to another connection")
		}
		if e.Kind == models.KindRule {
			return apperrors.Validation("Invalid entity", []string{"Rules cannot be completed"})
		}
		stage, err := stageOf(ctx, tx, subID)
		if err != nil {
			return err
		}
		if stage > 0 && !IsVisibleAtStage(e, stage) {
			return forbidden("Entity is not available at your current stage")
		}
		if e.CompletedAt != nil {
			return ErrAlreadyCompleted
		}

		ts := s.now().UTC()
		e.CompletedAt = &ts
		if err := tx.UpdateEntity(ctx, e); err != nil {
			return fmt.Errorf("failed to complete entity: %w", err)
		}
		acct, err := addPoints(ctx, tx, subID, e.Points)
		if err != nil {
			return err
		}
		res = &CompletionResult{Entity: e, Account: acct}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Entity.Points > 0 {
		s.metrics.IncPointsAwarded()
	}
	zerolog.Ctx(ctx).Info().
		Str("entity_id", entityID).
		Str("sub_id", subID).
		Int("points", res.Entity.Points).
		Int("total", res.Account.TotalPoints).
		Msg("entity completed")
	return res, nil
}
