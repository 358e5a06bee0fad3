package services

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"underneath-backend/pkg/apperrors"
	"underneath-backend/pkg/database"
	"underneath-backend/pkg/metrics"
	"underneath-backend/pkg/models"
)

const (
	maxAward        = 10000
	maxReasonLength = 200
)

// PointsService keeps SUB point totals and derives progression from them.
type PointsService struct {
	db      database.DatabaseInterface
	stages  *StageTracker
	metrics *metrics.Metrics
}

func NewPointsService(db database.DatabaseInterface, m *metrics.Metrics) *PointsService {
	return &PointsService{db: db, stages: NewStageTracker(db, m), metrics: m}
}

// pointAccount returns the account of userID, or an empty one.
func pointAccount(ctx context.Context, db database.DatabaseInterface, userID string) (*models.PointAccount, error) {
	acct, err := db.GetPointAccount(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return &models.PointAccount{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load point account: %w", err)
	}
	return acct, nil
}

// addPoints applies delta to userID's total, flooring at zero.
func addPoints(ctx context.Context, db database.DatabaseInterface, userID string, delta int) (*models.PointAccount, error) {
	acct, err := pointAccount(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	acct.TotalPoints = max(acct.TotalPoints+delta, 0)
	if err := db.SavePointAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("failed to save point account: %w", err)
	}
	return acct, nil
}

// AwardPoints adds delta (negative to deduct) to the SUB connected to domID.
func (p *PointsService) AwardPoints(ctx context.Context, domID string, delta int, reason string) (acct *models.PointAccount, err error) {
	ctx, span := startSpan(ctx, "points.Award",
		attribute.String("user.id", domID),
		attribute.Int("points.delta", delta))
	defer func() { endSpan(span, err) }()

	var violations []string
	if delta == 0 {
		violations = append(violations, "Points must not be zero")
	}
	if delta > maxAward || delta < -maxAward {
		violations = append(violations, fmt.Sprintf("Points must be between -%d and %d", maxAward, maxAward))
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		violations = append(violations, fmt.Sprintf("Reason must be at most %d characters", maxReasonLength))
	}
	if len(violations) > 0 {
		return nil, apperrors.Validation("Invalid award", violations)
	}

	dom, err := loadUser(ctx, p.db, domID)
	if err != nil {
		return nil, err
	}
	if dom.Role != models.RoleDom {
		return nil, forbidden("Only a DOM can award points")
	}

	var subID string
	err = p.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
		if subID, err = partnerSub(ctx, tx, dom); err != nil {
			return err
		}
		acct, err = addPoints(ctx, tx, subID, delta)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.metrics.IncPointsAwarded()
	zerolog.Ctx(ctx).Info().
		Str("dom_id", domID).
		Str("sub_id", subID).
		Int("delta", delta).
		Int("total", acct.TotalPoints).
		Str("reason", reason).
		Msg("points awarded")
	return acct, nil
}

// GetProgress places a SUB's total on the ladder of active stages. A DOM
// gets its connected SUB's progress.
func (p *PointsService) GetProgress(ctx context.Context, userID string) (*models.Progress, error) {
	user, err := loadUser(ctx, p.db, userID)
	if err != nil {
		return nil, err
	}
	if user.Role != models.RoleDom && user.Role != models.RoleSub {
		return nil, forbidden("Progress is only tracked for DOM and SUB users")
	}
	subID, err := partnerSub(ctx, p.db, user)
	if err != nil {
		return nil, err
	}
	acct, err := pointAccount(ctx, p.db, subID)
	if err != nil {
		return nil, err
	}
	stages, err := p.stages.activeStages(ctx)
	if err != nil {
		return nil, err
	}
	progress := Progress(subID, acct.TotalPoints, stages)
	return &progress, nil
}
