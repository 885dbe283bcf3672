package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/logger"
	"github.com/LotLinkDrive/LotLinkDrive/internal/connector"
	"github.com/google/uuid"
)

var (
	// ErrRollbackNotAllowed 只有 CSV 导入可以回滚。
	// FTP/API 是持续同步源，下一轮会重建状态，回滚没有意义。
	ErrRollbackNotAllowed = errors.New("only csv import runs can be rolled back")
	// ErrRollbackTokenInvalid 确认令牌不匹配或已过期。
	ErrRollbackTokenInvalid = errors.New("rollback token invalid or expired")
	// ErrRollbackRunning 运行中的 run 不能回滚。
	ErrRollbackRunning = errors.New("cannot roll back a running sync")
)

// rollbackTokenTTL 第一阶段令牌的有效期。
const rollbackTokenTTL = 10 * time.Minute

// RunSource 回滚需要的 run 读删面。
type RunSource interface {
	GetByID(ctx context.Context, id string) (*IngestionRun, error)
	Delete(ctx context.Context, id string) error
}

// InventoryPurger 回滚窗口内车辆的统计与物理删除。
type InventoryPurger interface {
	CountCreatedWithin(ctx context.Context, dealerID string, from, to time.Time) (int64, error)
	PurgeCreatedWithin(ctx context.Context, dealerID string, from, to time.Time) (int64, error)
}

type pendingRollback struct {
	token   string
	expires time.Time
}

// Rollback CSV 导入的两段式撤销。
// 第一阶段校验资格并返回确认令牌和影响预估，第二阶段凭令牌执行删除：
// 先删窗口内创建的车辆（连带价格台账），再删 run 记录本身。
type Rollback struct {
	runs   RunSource
	inv    InventoryPurger
	window time.Duration
	log    logger.Logger

	mu      sync.Mutex
	pending map[string]pendingRollback // runID -> 待确认令牌
	now     func() time.Time
}

func NewRollback(runs RunSource, inv InventoryPurger, windowSeconds int, log logger.Logger) *Rollback {
	if windowSeconds <= 0 {
		windowSeconds = 5
	}
	return &Rollback{
		runs:    runs,
		inv:     inv,
		window:  time.Duration(windowSeconds) * time.Second,
		log:     log,
		pending: make(map[string]pendingRollback),
		now:     time.Now,
	}
}

// Request 第一阶段：校验 run 可回滚，返回确认令牌和预估删除数。
// 对同一 run 重复请求会换发新令牌，旧令牌作废。
func (r *Rollback) Request(ctx context.Context, runID string) (token string, affected int64, err error) {
	run, err := r.runs.GetByID(ctx, runID)
	if err != nil {
		return "", 0, err
	}
	if run.FeedType != connector.FeedCSV {
		return "", 0, ErrRollbackNotAllowed
	}
	if run.Status == RunRunning {
		return "", 0, ErrRollbackRunning
	}

	from, to := r.windowFor(run)
	affected, err = r.inv.CountCreatedWithin(ctx, run.DealerID, from, to)
	if err != nil {
		return "", 0, err
	}

	token = uuid.NewString()
	r.mu.Lock()
	r.pending[runID] = pendingRollback{token: token, expires: r.now().Add(rollbackTokenTTL)}
	r.mu.Unlock()

	r.log.WithFields(map[string]interface{}{
		"run_id":    runID,
		"dealer_id": run.DealerID,
		"affected":  affected,
	}).Info("rollback requested")
	return token, affected, nil
}

// Confirm 第二阶段：凭令牌执行删除，返回实际删除的车辆数。
// 令牌一次性：无论成败都作废。
func (r *Rollback) Confirm(ctx context.Context, runID, token string) (int64, error) {
	r.mu.Lock()
	p, ok := r.pending[runID]
	delete(r.pending, runID)
	r.mu.Unlock()
	if !ok || p.token != token || r.now().After(p.expires) {
		return 0, ErrRollbackTokenInvalid
	}

	run, err := r.runs.GetByID(ctx, runID)
	if err != nil {
		return 0, err
	}
	if run.FeedType != connector.FeedCSV {
		return 0, ErrRollbackNotAllowed
	}

	from, to := r.windowFor(run)
	deleted, err := r.inv.PurgeCreatedWithin(ctx, run.DealerID, from, to)
	if err != nil {
		return 0, err
	}
	if err := r.runs.Delete(ctx, runID); err != nil {
		return deleted, err
	}

	r.log.WithFields(map[string]interface{}{
		"run_id":    runID,
		"dealer_id": run.DealerID,
		"deleted":   deleted,
	}).Info("rollback confirmed")
	return deleted, nil
}

// windowFor run 开始时刻前后各留 window，吸收落库时间戳的抖动。
func (r *Rollback) windowFor(run *IngestionRun) (time.Time, time.Time) {
	return run.StartedAt.Add(-r.window), run.StartedAt.Add(r.window)
}
