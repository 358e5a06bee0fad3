package database

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// idleTimeout is how long a cached store may sit unused before it is reopened.
const idleTimeout = 10 * time.Minute

// Pool caches one open store per process so warm serverless invocations
// reuse their connections.
type Pool struct {
	mu       sync.Mutex
	instance DatabaseInterface
	config   DatabaseConfig
	lastUsed time.Time
	opened   int

	open func(context.Context, DatabaseConfig) (DatabaseInterface, error)
	now  func() time.Time
}

func NewPool() *Pool {
	return &Pool{open: NewDatabase, now: time.Now}
}

var sharedPool = NewPool()

// Shared returns the process-wide store for cfg from the default pool.
func Shared(ctx context.Context, cfg DatabaseConfig) (DatabaseInterface, error) {
	return sharedPool.Get(ctx, cfg)
}

// SharedStats reports on the default pool.
func SharedStats() map[string]interface{} {
	return sharedPool.Stats()
}

// Get 获取数据库连接（单例模式 + 健康检查）
func (p *Pool) Get(ctx context.Context, cfg DatabaseConfig) (DatabaseInterface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	log := zerolog.Ctx(ctx)

	if p.instance != nil {
		reason := p.staleReason(ctx, cfg)
		if reason == "" {
			p.lastUsed = p.now()
			return p.instance, nil
		}
		log.Info().Str("reason", reason).Msg("recreating database connection")
		if err := p.instance.Close(); err != nil {
			log.Warn().Err(err).Msg("close stale database")
		}
		p.instance = nil
	}

	db, err := p.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.instance = db
	p.config = cfg
	p.lastUsed = p.now()
	p.opened++
	return db, nil
}

// staleReason is empty when the cached store can be reused.
func (p *Pool) staleReason(ctx context.Context, cfg DatabaseConfig) string {
	if p.config != cfg {
		return "configuration changed"
	}
	if cfg.Driver == "memory" {
		// reopening would drop every record
		return ""
	}
	if p.now().Sub(p.lastUsed) > idleTimeout {
		return "idle"
	}
	if err := p.instance.HealthCheck(ctx); err != nil {
		return "health check failed: " + err.Error()
	}
	return ""
}

// Close releases the cached store.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instance == nil {
		return nil
	}
	err := p.instance.Close()
	p.instance = nil
	return err
}

// Stats 获取连接池统计信息
func (p *Pool) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.instance == nil {
		return map[string]interface{}{
			"status":     "no_connection",
			"opened":     p.opened,
			"serverless": IsServerless(),
		}
	}
	return map[string]interface{}{
		"status":     "connected",
		"driver":     p.config.Driver,
		"opened":     p.opened,
		"last_used":  p.lastUsed.Format(time.RFC3339),
		"idle":       p.now().Sub(p.lastUsed).String(),
		"serverless": IsServerless(),
	}
}

// IsServerless 检查是否在Vercel/Lambda环境中
func IsServerless() bool {
	return os.Getenv("VERCEL_ENV") != "" ||
		os.Getenv("VERCEL_URL") != "" ||
		os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
