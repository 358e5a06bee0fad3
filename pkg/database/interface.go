package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"underneath-backend/pkg/models"
)

// Store-level sentinels. Services translate these into coded errors.
var (
	ErrNotFound             = errors.New("record not found")
	ErrDuplicateCode        = errors.New("invitation code already exists")
	ErrActiveDomConnection  = errors.New("dom already has an active connection")
	ErrActiveSubConnection  = errors.New("sub already has an active connection")
	ErrDuplicateStageNumber = errors.New("stage number already exists")
	ErrDuplicateEmail       = errors.New("email already registered")
	ErrSubActiveConflict    = errors.New("another stage is already sub-active")
)

// DatabaseInterface 定义数据库访问接口
type DatabaseInterface interface {
	// 用户管理
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Invitations
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	// GetInvitationByCode locks the row when called inside WithTx on Postgres.
	GetInvitationByCode(ctx context.Context, code string) (*models.Invitation, error)
	ListInvitationsByDom(ctx context.Context, domID string) ([]models.Invitation, error)
	UpdateInvitation(ctx context.Context, inv *models.Invitation) error

	// Connections
	CreateConnection(ctx context.Context, conn *models.Connection) error
	// GetActiveConnection returns ErrNotFound when userID has no ACTIVE connection on either side.
	GetActiveConnection(ctx context.Context, userID string) (*models.Connection, error)
	ListConnectionsByUser(ctx context.Context, userID string) ([]models.Connection, error)
	UpdateConnection(ctx context.Context, conn *models.Connection) error

	// Stages
	CreateStage(ctx context.Context, stage *models.Stage) error
	UpdateStage(ctx context.Context, stage *models.Stage) error
	DeleteStage(ctx context.Context, id string) error
	GetStage(ctx context.Context, id string) (*models.Stage, error)
	ListStages(ctx context.Context) ([]models.Stage, error)
	// ClearSubActive sets is_sub_active=false on every stage except exceptID.
	ClearSubActive(ctx context.Context, exceptID string) error

	// Stage-scoped entities
	CreateEntity(ctx context.Context, e *models.StageEntity) error
	UpdateEntity(ctx context.Context, e *models.StageEntity) error
	DeleteEntity(ctx context.Context, id string) error
	GetEntity(ctx context.Context, id string) (*models.StageEntity, error)
	// ListEntities filters by owner and kind; empty values match everything.
	ListEntities(ctx context.Context, ownerID string, kind models.EntityKind) ([]models.StageEntity, error)

	// Points
	GetPointAccount(ctx context.Context, userID string) (*models.PointAccount, error)
	SavePointAccount(ctx context.Context, acct *models.PointAccount) error

	// WithTx runs fn against a transactional view of the store. fn's error
	// rolls everything back; nested calls reuse the outer transaction.
	WithTx(ctx context.Context, fn func(tx DatabaseInterface) error) error

	// 健康检查
	HealthCheck(ctx context.Context) error

	// 关闭连接
	Close() error
}

func newID() string {
	return uuid.New().String()
}

// now truncates to microseconds so values survive a round trip through Postgres.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
