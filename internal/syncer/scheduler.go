package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/logger"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ErrBusy 同一 dealer 已有 run 在执行。触发方直接收到拒绝，不排队。
var ErrBusy = errors.New("sync already running for this dealer")

// Runner 执行一次同步（Pipeline 实现）。调用阻塞到 run 结束。
type Runner interface {
	Run(ctx context.Context, runID string, req SyncRequest) *IngestionRun
}

// Schedule dealer 的同步频率档位。
type Schedule string

const (
	ScheduleManual  Schedule = "manual"
	ScheduleEvery4h Schedule = "every_4h"
	ScheduleEvery8h Schedule = "every_8h"
	ScheduleEvery12 Schedule = "every_12h"
	ScheduleNightly Schedule = "nightly_2am"
	ScheduleMorning Schedule = "morning_6am"
)

// cronSpec 档位到 cron 表达式。manual 不挂定时任务。
func cronSpec(s Schedule) (string, bool) {
	switch s {
	case ScheduleEvery4h:
		return "@every 4h", true
	case ScheduleEvery8h:
		return "@every 8h", true
	case ScheduleEvery12:
		return "@every 12h", true
	case ScheduleNightly:
		return "0 2 * * *", true
	case ScheduleMorning:
		return "0 6 * * *", true
	default:
		return "", false
	}
}

// Scheduler 串行化每个 dealer 的同步：同一 dealer 任意时刻至多一个 run，
// 不同 dealer 互不阻塞。定时触发和手动触发走同一闸门。
type Scheduler struct {
	runner Runner
	log    logger.Logger

	mu      sync.Mutex
	running map[string]bool

	cron    *cron.Cron
	entries map[string]cron.EntryID // dealerID -> 定时任务
}

func NewScheduler(runner Runner, log logger.Logger) *Scheduler {
	return &Scheduler{
		runner:  runner,
		log:     log,
		running: make(map[string]bool),
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start 启动定时器。
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停掉定时器并等待在跑的定时回调返回。
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// TriggerSync 触发一次同步。立即返回预生成的 runID，执行是异步的；
// 该 dealer 已有 run 在跑时返回 ErrBusy。
func (s *Scheduler) TriggerSync(req SyncRequest) (string, error) {
	if req.DealerID == "" {
		return "", fmt.Errorf("dealer id is required")
	}
	if err := s.acquire(req.DealerID); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	go func() {
		defer s.release(req.DealerID)
		// 触发请求的 ctx 在 HTTP 返回后即失效，run 用独立 ctx
		s.runner.Run(context.Background(), runID, req)
	}()
	return runID, nil
}

// RunSync 同步执行一次（定时回调和测试用），同样过闸门。
func (s *Scheduler) RunSync(ctx context.Context, req SyncRequest) (*IngestionRun, error) {
	if err := s.acquire(req.DealerID); err != nil {
		return nil, err
	}
	defer s.release(req.DealerID)
	return s.runner.Run(ctx, uuid.NewString(), req), nil
}

// IsRunning 该 dealer 是否有 run 在执行。
func (s *Scheduler) IsRunning(dealerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[dealerID]
}

// SetSchedule 设置 dealer 的定时同步档位，覆盖旧档位。
// manual 档只移除定时任务。
func (s *Scheduler) SetSchedule(sched Schedule, req SyncRequest) error {
	if req.DealerID == "" {
		return fmt.Errorf("dealer id is required")
	}
	s.removeEntry(req.DealerID)

	spec, ok := cronSpec(sched)
	if !ok {
		if sched != ScheduleManual && sched != "" {
			return fmt.Errorf("unknown schedule %q", sched)
		}
		return nil
	}

	id, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunSync(context.Background(), req); err != nil {
			if errors.Is(err, ErrBusy) {
				// 上一轮还没跑完，这一轮放弃而不是排队
				s.log.Warnf("scheduled sync skipped for dealer %s: previous run still in progress", req.DealerID)
				return
			}
			s.log.Errorf("scheduled sync for dealer %s failed to start: %v", req.DealerID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}

	s.mu.Lock()
	s.entries[req.DealerID] = id
	s.mu.Unlock()
	return nil
}

// RemoveSchedule 移除 dealer 的定时任务。
func (s *Scheduler) RemoveSchedule(dealerID string) {
	s.removeEntry(dealerID)
}

func (s *Scheduler) removeEntry(dealerID string) {
	s.mu.Lock()
	id, ok := s.entries[dealerID]
	if ok {
		delete(s.entries, dealerID)
	}
	s.mu.Unlock()
	if ok {
		s.cron.Remove(id)
	}
}

func (s *Scheduler) acquire(dealerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[dealerID] {
		return ErrBusy
	}
	s.running[dealerID] = true
	return nil
}

func (s *Scheduler) release(dealerID string) {
	s.mu.Lock()
	delete(s.running, dealerID)
	s.mu.Unlock()
}
