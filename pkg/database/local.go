package database

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"underneath-backend/pkg/models"
)

// LocalDatabase 本地内存数据库实现
//
// Every top-level call holds the store mutex; WithTx holds it for the whole
// callback and restores a snapshot when the callback fails.
type LocalDatabase struct {
	store *localStore
	inTx  bool
}

type localStore struct {
	mu   sync.Mutex
	data localData
}

type localData struct {
	users       map[string]models.User
	invitations map[string]models.Invitation
	connections map[string]models.Connection
	stages      map[string]models.Stage
	entities    map[string]models.StageEntity
	points      map[string]models.PointAccount
}

func (d localData) clone() localData {
	return localData{
		users:       maps.Clone(d.users),
		invitations: maps.Clone(d.invitations),
		connections: maps.Clone(d.connections),
		stages:      maps.Clone(d.stages),
		entities:    maps.Clone(d.entities),
		points:      maps.Clone(d.points),
	}
}

// NewLocalDatabase 创建本地数据库实例
func NewLocalDatabase() *LocalDatabase {
	return &LocalDatabase{store: &localStore{data: localData{
		users:       map[string]models.User{},
		invitations: map[string]models.Invitation{},
		connections: map[string]models.Connection{},
		stages:      map[string]models.Stage{},
		entities:    map[string]models.StageEntity{},
		points:      map[string]models.PointAccount{},
	}}}
}

func (db *LocalDatabase) lock() func() {
	if db.inTx {
		return func() {}
	}
	db.store.mu.Lock()
	return db.store.mu.Unlock
}

func (db *LocalDatabase) d() *localData {
	return &db.store.data
}

// WithTx 在事务中执行 fn
func (db *LocalDatabase) WithTx(ctx context.Context, fn func(tx DatabaseInterface) error) error {
	if db.inTx {
		return fn(db)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	db.store.mu.Lock()
	defer db.store.mu.Unlock()

	snapshot := db.store.data.clone()
	if err := fn(&LocalDatabase{store: db.store, inTx: true}); err != nil {
		db.store.data = snapshot
		return err
	}
	return nil
}

// CreateUser 创建用户
func (db *LocalDatabase) CreateUser(ctx context.Context, user *models.User) error {
	defer db.lock()()
	for _, u := range db.d().users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicateEmail
		}
	}
	if user.ID == "" {
		user.ID = newID()
	}
	user.CreatedAt = now()
	user.UpdatedAt = user.CreatedAt
	db.d().users[user.ID] = *user
	return nil
}

// GetUserByEmail 根据邮箱获取用户
func (db *LocalDatabase) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer db.lock()()
	for _, u := range db.d().users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// GetUserByID 根据ID获取用户
func (db *LocalDatabase) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	defer db.lock()()
	u, ok := db.d().users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (db *LocalDatabase) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	defer db.lock()()
	for _, existing := range db.d().invitations {
		if existing.Code == inv.Code {
			return ErrDuplicateCode
		}
	}
	if inv.ID == "" {
		inv.ID = newID()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now()
	}
	db.d().invitations[inv.ID] = *inv
	return nil
}

func (db *LocalDatabase) GetInvitationByCode(ctx context.Context, code string) (*models.Invitation, error) {
	defer db.lock()()
	for _, inv := range db.d().invitations {
		if inv.Code == code {
			return &inv, nil
		}
	}
	return nil, ErrNotFound
}

func (db *LocalDatabase) ListInvitationsByDom(ctx context.Context, domID string) ([]models.Invitation, error) {
	defer db.lock()()
	out := []models.Invitation{}
	for _, inv := range db.d().invitations {
		if inv.DomID == domID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (db *LocalDatabase) UpdateInvitation(ctx context.Context, inv *models.Invitation) error {
	defer db.lock()()
	if _, ok := db.d().invitations[inv.ID]; !ok {
		return ErrNotFound
	}
	db.d().invitations[inv.ID] = *inv
	return nil
}

func (db *LocalDatabase) CreateConnection(ctx context.Context, conn *models.Connection) error {
	defer db.lock()()
	if conn.Status == models.ConnectionActive {
		for _, c := range db.d().connections {
			if c.Status != models.ConnectionActive {
				continue
			}
			if c.DomID == conn.DomID {
				return ErrActiveDomConnection
			}
			if c.SubID == conn.SubID {
				return ErrActiveSubConnection
			}
		}
	}
	if conn.ID == "" {
		conn.ID = newID()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now()
	}
	db.d().connections[conn.ID] = *conn
	return nil
}

func (db *LocalDatabase) GetActiveConnection(ctx context.Context, userID string) (*models.Connection, error) {
	defer db.lock()()
	for _, c := range db.d().connections {
		if c.Status == models.ConnectionActive && c.Involves(userID) {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (db *LocalDatabase) ListConnectionsByUser(ctx context.Context, userID string) ([]models.Connection, error) {
	defer db.lock()()
	out := []models.Connection{}
	for _, c := range db.d().connections {
		if c.Involves(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (db *LocalDatabase) UpdateConnection(ctx context.Context, conn *models.Connection) error {
	defer db.lock()()
	if _, ok := db.d().connections[conn.ID]; !ok {
		return ErrNotFound
	}
	db.d().connections[conn.ID] = *conn
	return nil
}

func (db *LocalDatabase) checkStage(stage *models.Stage) error {
	for _, s := range db.d().stages {
		if s.ID == stage.ID {
			continue
		}
		if s.StageNumber == stage.StageNumber {
			return ErrDuplicateStageNumber
		}
		if stage.IsSubActive && s.IsSubActive {
			return ErrSubActiveConflict
		}
	}
	return nil
}

func (db *LocalDatabase) CreateStage(ctx context.Context, stage *models.Stage) error {
	defer db.lock()()
	if err := db.checkStage(stage); err != nil {
		return err
	}
	if stage.ID == "" {
		stage.ID = newID()
	}
	stage.CreatedAt = now()
	stage.UpdatedAt = stage.CreatedAt
	db.d().stages[stage.ID] = *stage
	return nil
}

func (db *LocalDatabase) UpdateStage(ctx context.Context, stage *models.Stage) error {
	defer db.lock()()
	if _, ok := db.d().stages[stage.ID]; !ok {
		return ErrNotFound
	}
	if err := db.checkStage(stage); err != nil {
		return err
	}
	stage.UpdatedAt = now()
	db.d().stages[stage.ID] = *stage
	return nil
}

func (db *LocalDatabase) DeleteStage(ctx context.Context, id string) error {
	defer db.lock()()
	if _, ok := db.d().stages[id]; !ok {
		return ErrNotFound
	}
	delete(db.d().stages, id)
	return nil
}

func (db *LocalDatabase) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	defer db.lock()()
	s, ok := db.d().stages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (db *LocalDatabase) ListStages(ctx context.Context) ([]models.Stage, error) {
	defer db.lock()()
	out := make([]models.Stage, 0, len(db.d().stages))
	for _, s := range db.d().stages {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageNumber < out[j].StageNumber })
	return out, nil
}

func (db *LocalDatabase) ClearSubActive(ctx context.Context, exceptID string) error {
	defer db.lock()()
	ts := now()
	for id, s := range db.d().stages {
		if id != exceptID && s.IsSubActive {
			s.IsSubActive = false
			s.UpdatedAt = ts
			db.d().stages[id] = s
		}
	}
	return nil
}

func (db *LocalDatabase) CreateEntity(ctx context.Context, e *models.StageEntity) error {
	defer db.lock()()
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = now()
	e.UpdatedAt = e.CreatedAt
	db.d().entities[e.ID] = *e
	return nil
}

func (db *LocalDatabase) UpdateEntity(ctx context.Context, e *models.StageEntity) error {
	defer db.lock()()
	if _, ok := db.d().entities[e.ID]; !ok {
		return ErrNotFound
	}
	e.UpdatedAt = now()
	db.d().entities[e.ID] = *e
	return nil
}

func (db *LocalDatabase) DeleteEntity(ctx context.Context, id string) error {
	defer db.lock()()
	if _, ok := db.d().entities[id]; !ok {
		return ErrNotFound
	}
	delete(db.d().entities, id)
	return nil
}

func (db *LocalDatabase) GetEntity(ctx context.Context, id string) (*models.StageEntity, error) {
	defer db.lock()()
	e, ok := db.d().entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (db *LocalDatabase) ListEntities(ctx context.Context, ownerID string, kind models.EntityKind) ([]models.StageEntity, error) {
	defer db.lock()()
	out := []models.StageEntity{}
	for _, e := range db.d().entities {
		if ownerID != "" && e.OwnerID != ownerID {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActiveFromStage != out[j].ActiveFromStage {
			return out[i].ActiveFromStage < out[j].ActiveFromStage
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (db *LocalDatabase) GetPointAccount(ctx context.Context, userID string) (*models.PointAccount, error) {
	defer db.lock()()
	a, ok := db.d().points[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (db *LocalDatabase) SavePointAccount(ctx context.Context, acct *models.PointAccount) error {
	defer db.lock()()
	acct.UpdatedAt = now()
	db.d().points[acct.UserID] = *acct
	return nil
}

// HealthCheck 健康检查
func (db *LocalDatabase) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Close 关闭数据库连接
func (db *LocalDatabase) Close() error {
	return nil
}
