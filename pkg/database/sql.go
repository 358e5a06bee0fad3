package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"underneath-backend/pkg/models"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DialectSQLite, sqlx.QUESTION)
}

// SQLDatabase implements DatabaseInterface over database/sql for Postgres
// (lib/pq) and SQLite (modernc.org/sqlite). Queries are written with ?
// placeholders and rebound per driver.
type SQLDatabase struct {
	db      *sqlx.DB
	q       sqlx.ExtContext
	tx      *sqlx.Tx
	dialect string
}

// NewSQLDatabase wraps an open handle. dialect is DialectPostgres or DialectSQLite.
func NewSQLDatabase(db *sqlx.DB, dialect string) *SQLDatabase {
	return &SQLDatabase{db: db, q: db, dialect: dialect}
}

// DB exposes the underlying handle for migrations.
func (s *SQLDatabase) DB() *sql.DB {
	return s.db.DB
}

// Dialect returns DialectPostgres or DialectSQLite.
func (s *SQLDatabase) Dialect() string {
	return s.dialect
}

func (s *SQLDatabase) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, s.q, dest, s.q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLDatabase) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, s.q, dest, s.q.Rebind(query), args...)
}

func (s *SQLDatabase) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.q.Rebind(query), args...)
}

func (s *SQLDatabase) execNamed(ctx context.Context, query string, arg any) (sql.Result, error) {
	return sqlx.NamedExecContext(ctx, s.q, query, arg)
}

// forUpdate appends a row lock on Postgres inside a transaction.
func (s *SQLDatabase) forUpdate(query string) string {
	if s.tx != nil && s.dialect == DialectPostgres {
		return query + " FOR UPDATE"
	}
	return query
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type uniqueRule struct {
	constraint string // Postgres constraint or index name
	column     string // SQLite "table.column" from the constraint message
	err        error
}

var uniqueRules = []uniqueRule{
	{"users_email_key", "users.email", ErrDuplicateEmail},
	{"invitations_code_key", "invitations.code", ErrDuplicateCode},
	{"connections_active_dom_idx", "connections.dom_id", ErrActiveDomConnection},
	{"connections_active_sub_idx", "connections.sub_id", ErrActiveSubConnection},
	{"stages_stage_number_key", "stages.stage_number", ErrDuplicateStageNumber},
	{"stages_sub_active_idx", "stages.is_sub_active", ErrSubActiveConflict},
}

// translate maps unique-constraint violations onto store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		for _, r := range uniqueRules {
			if pqErr.Constraint == r.constraint {
				return fmt.Errorf("%w: %v", r.err, err)
			}
		}
		return err
	}

	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		default:
			return err
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		for _, r := range uniqueRules {
			if strings.Contains(msg, r.column) {
				return fmt.Errorf("%w: %v", r.err, err)
			}
		}
	}
	return err
}

// WithTx 在事务中执行 fn
func (s *SQLDatabase) WithTx(ctx context.Context, fn func(tx DatabaseInterface) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&SQLDatabase{db: s.db, q: tx, tx: tx, dialect: s.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}
	return nil
}

const userColumns = `id, email, password_hash, display_name, role, created_at, updated_at`

// CreateUser 创建用户
func (s *SQLDatabase) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = newID()
	}
	user.CreatedAt = now()
	user.UpdatedAt = user.CreatedAt

	_, err := s.execNamed(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :email, :password_hash, :display_name, :role, :created_at, :updated_at)`, user)
	if err := translate(err); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail 根据邮箱获取用户
func (s *SQLDatabase) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.get(ctx, &u, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower(?)`, email); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID 根据ID获取用户
func (s *SQLDatabase) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.get(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &u, nil
}

const invitationColumns = `id, code, dom_id, email, message, expires_at, is_active, used_by, used_at, created_at`

func (s *SQLDatabase) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	if inv.ID == "" {
		inv.ID = newID()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now()
	}
	_, err := s.execNamed(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES (:id, :code, :dom_id, :email, :message, :expires_at, :is_active, :used_by, :used_at, :created_at)`, inv)
	return translate(err)
}

func (s *SQLDatabase) GetInvitationByCode(ctx context.Context, code string) (*models.Invitation, error) {
	var inv models.Invitation
	query := s.forUpdate(`SELECT ` + invitationColumns + ` FROM invitations WHERE code = ?`)
	if err := s.get(ctx, &inv, query, code); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *SQLDatabase) ListInvitationsByDom(ctx context.Context, domID string) ([]models.Invitation, error) {
	out := []models.Invitation{}
	err := s.selectAll(ctx, &out, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE dom_id = ?
		ORDER BY created_at DESC`, domID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return out, nil
}

func (s *SQLDatabase) UpdateInvitation(ctx context.Context, inv *models.Invitation) error {
	return mustAffect(s.execNamed(ctx, `
		UPDATE invitations
		SET is_active = :is_active, used_by = :used_by, used_at = :used_at,
		    email = :email, message = :message, expires_at = :expires_at
		WHERE id = :id`, inv))
}

const connectionColumns = `id, dom_id, sub_id, invitation_id, status, created_at, terminated_at, terminated_by`

func (s *SQLDatabase) CreateConnection(ctx context.Context, conn *models.Connection) error {
	if conn.ID == "" {
		conn.ID = newID()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now()
	}
	_, err := s.execNamed(ctx, `
		INSERT INTO connections (`+connectionColumns+`)
		VALUES (:id, :dom_id, :sub_id, :invitation_id, :status, :created_at, :terminated_at, :terminated_by)`, conn)
	return translate(err)
}

func (s *SQLDatabase) GetActiveConnection(ctx context.Context, userID string) (*models.Connection, error) {
	var c models.Connection
	query := s.forUpdate(`
		SELECT ` + connectionColumns + ` FROM connections
		WHERE status = ? AND (dom_id = ? OR sub_id = ?)
		LIMIT 1`)
	if err := s.get(ctx, &c, query, string(models.ConnectionActive), userID, userID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLDatabase) ListConnectionsByUser(ctx context.Context, userID string) ([]models.Connection, error) {
	out := []models.Connection{}
	err := s.selectAll(ctx, &out, `
		SELECT `+connectionColumns+` FROM connections
		WHERE dom_id = ? OR sub_id = ?
		ORDER BY created_at DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return out, nil
}

func (s *SQLDatabase) UpdateConnection(ctx context.Context, conn *models.Connection) error {
	return mustAffect(s.execNamed(ctx, `
		UPDATE connections
		SET status = :status, terminated_at = :terminated_at, terminated_by = :terminated_by
		WHERE id = :id`, conn))
}

const stageColumns = `id, stage_number, name, description, points_required, color,
	is_active, is_sub_active, is_sub_visible, is_sub_locked, created_at, updated_at`

func (s *SQLDatabase) CreateStage(ctx context.Context, stage *models.Stage) error {
	if stage.ID == "" {
		stage.ID = newID()
	}
	stage.CreatedAt = now()
	stage.UpdatedAt = stage.CreatedAt
	_, err := s.execNamed(ctx, `
		INSERT INTO stages (`+stageColumns+`)
		VALUES (:id, :stage_number, :name, :description, :points_required, :color,
			:is_active, :is_sub_active, :is_sub_visible, :is_sub_locked, :created_at, :updated_at)`, stage)
	return translate(err)
}

func (s *SQLDatabase) UpdateStage(ctx context.Context, stage *models.Stage) error {
	stage.UpdatedAt = now()
	err := mustAffect(s.execNamed(ctx, `
		UPDATE stages
		SET stage_number = :stage_number, name = :name, description = :description,
		    points_required = :points_required, color = :color, is_active = :is_active,
		    is_sub_active = :is_sub_active, is_sub_visible = :is_sub_visible,
		    is_sub_locked = :is_sub_locked, updated_at = :updated_at
		WHERE id = :id`, stage))
	return translate(err)
}

func (s *SQLDatabase) DeleteStage(ctx context.Context, id string) error {
	return mustAffect(s.exec(ctx, `DELETE FROM stages WHERE id = ?`, id))
}

func (s *SQLDatabase) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	var st models.Stage
	if err := s.get(ctx, &st, s.forUpdate(`SELECT `+stageColumns+` FROM stages WHERE id = ?`), id); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLDatabase) ListStages(ctx context.Context) ([]models.Stage, error) {
	out := []models.Stage{}
	if err := s.selectAll(ctx, &out, `SELECT `+stageColumns+` FROM stages ORDER BY stage_number ASC`); err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	return out, nil
}

func (s *SQLDatabase) ClearSubActive(ctx context.Context, exceptID string) error {
	_, err := s.exec(ctx, `
		UPDATE stages SET is_sub_active = ?, updated_at = ?
		WHERE is_sub_active = ? AND id <> ?`, false, now(), true, exceptID)
	return err
}

const entityColumns = `id, kind, owner_id, title, description, active_from_stage, active_to_stage,
	priority, severity, points, due_date, completed_at, created_at, updated_at`

func (s *SQLDatabase) CreateEntity(ctx context.Context, e *models.StageEntity) error {
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = now()
	e.UpdatedAt = e.CreatedAt
	_, err := s.execNamed(ctx, `
		INSERT INTO stage_entities (`+entityColumns+`)
		VALUES (:id, :kind, :owner_id, :title, :description, :active_from_stage, :active_to_stage,
			:priority, :severity, :points, :due_date, :completed_at, :created_at, :updated_at)`, e)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

func (s *SQLDatabase) UpdateEntity(ctx context.Context, e *models.StageEntity) error {
	e.UpdatedAt = now()
	return mustAffect(s.execNamed(ctx, `
		UPDATE stage_entities
		SET title = :title, description = :description, active_from_stage = :active_from_stage,
		    active_to_stage = :active_to_stage, priority = :priority, severity = :severity,
		    points = :points, due_date = :due_date, completed_at = :completed_at,
		    updated_at = :updated_at
		WHERE id = :id`, e))
}

func (s *SQLDatabase) DeleteEntity(ctx context.Context, id string) error {
	return mustAffect(s.exec(ctx, `DELETE FROM stage_entities WHERE id = ?`, id))
}

func (s *SQLDatabase) GetEntity(ctx context.Context, id string) (*models.StageEntity, error) {
	var e models.StageEntity
	if err := s.get(ctx, &e, s.forUpdate(`SELECT `+entityColumns+` FROM stage_entities WHERE id = ?`), id); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLDatabase) ListEntities(ctx context.Context, ownerID string, kind models.EntityKind) ([]models.StageEntity, error) {
	var (
		where []string
		args  []any
	)
	if ownerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, ownerID)
	}
	if kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(kind))
	}

	query := `SELECT ` + entityColumns + ` FROM stage_entities`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY active_from_stage ASC, created_at ASC, id ASC`

	out := []models.StageEntity{}
	if err := s.selectAll(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return out, nil
}

func (s *SQLDatabase) GetPointAccount(ctx context.Context, userID string) (*models.PointAccount, error) {
	var a models.PointAccount
	query := s.forUpdate(`SELECT user_id, total_points, updated_at FROM point_accounts WHERE user_id = ?`)
	if err := s.get(ctx, &a, query, userID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLDatabase) SavePointAccount(ctx context.Context, acct *models.PointAccount) error {
	acct.UpdatedAt = now()
	_, err := s.execNamed(ctx, `
		INSERT INTO point_accounts (user_id, total_points, updated_at)
		VALUES (:user_id, :total_points, :updated_at)
		ON CONFLICT (user_id) DO UPDATE
		SET total_points = excluded.total_points, updated_at = excluded.updated_at`, acct)
	if err != nil {
		return fmt.Errorf("failed to save point account: %w", err)
	}
	return nil
}

// HealthCheck 健康检查
func (s *SQLDatabase) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *SQLDatabase) Close() error {
	return s.db.Close()
}
