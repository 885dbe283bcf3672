package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/logger"
)

// blockingRunner 卡在 release 上，用来制造"run 进行中"的窗口。
type blockingRunner struct {
	started chan string
	release chan struct{}
}

func (r *blockingRunner) Run(_ context.Context, runID string, _ SyncRequest) *IngestionRun {
	r.started <- runID
	<-r.release
	return &IngestionRun{ID: runID}
}

func TestTriggerSyncRejectsConcurrentRunsPerDealer(t *testing.T) {
	runner := &blockingRunner{started: make(chan string, 2), release: make(chan struct{})}
	s := NewScheduler(runner, logger.Nop())

	req := SyncRequest{DealerID: "dealer-1", Source: "upload", FeedType: "csv"}
	runID, err := s.TriggerSync(req)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if runID == "" {
		t.Fatal("expected run id from trigger")
	}

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("run never started")
	}

	// 同 dealer 第二次触发被拒，不排队
	if _, err := s.TriggerSync(req); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	// 别的 dealer 不受影响
	other := SyncRequest{DealerID: "dealer-2", Source: "upload", FeedType: "csv"}
	if _, err := s.TriggerSync(other); err != nil {
		t.Fatalf("other dealer must not be blocked: %v", err)
	}
	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("second dealer run never started")
	}

	close(runner.release)

	// run 结束后闸门释放，可再次触发
	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning("dealer-1") {
		if time.Now().After(deadline) {
			t.Fatal("dealer-1 gate never released")
		}
		time.Sleep(5 * time.Millisecond)
	}

	runner2 := &blockingRunner{started: make(chan string, 1), release: make(chan struct{})}
	close(runner2.release)
	s2 := NewScheduler(runner2, logger.Nop())
	if _, err := s2.TriggerSync(req); err != nil {
		t.Fatalf("trigger after release: %v", err)
	}
}

func TestRunSyncHoldsGateForWholeRun(t *testing.T) {
	runner := &blockingRunner{started: make(chan string, 1), release: make(chan struct{})}
	s := NewScheduler(runner, logger.Nop())
	req := SyncRequest{DealerID: "dealer-1"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.RunSync(context.Background(), req); err != nil {
			t.Errorf("RunSync: %v", err)
		}
	}()

	<-runner.started
	if !s.IsRunning("dealer-1") {
		t.Fatal("gate must be held while run is in progress")
	}
	close(runner.release)
	<-done
	if s.IsRunning("dealer-1") {
		t.Fatal("gate must be released after run")
	}
}

func TestCronSpecMapping(t *testing.T) {
	cases := map[Schedule]string{
		ScheduleEvery4h: "@every 4h",
		ScheduleEvery8h: "@every 8h",
		ScheduleEvery12: "@every 12h",
		ScheduleNightly: "0 2 * * *",
		ScheduleMorning: "0 6 * * *",
	}
	for sched, want := range cases {
		spec, ok := cronSpec(sched)
		if !ok || spec != want {
			t.Fatalf("cronSpec(%s) = %q/%v, want %q", sched, spec, ok, want)
		}
	}
	if _, ok := cronSpec(ScheduleManual); ok {
		t.Fatal("manual schedule must not produce a cron entry")
	}
}

func TestSetScheduleRejectsUnknown(t *testing.T) {
	s := NewScheduler(&blockingRunner{started: make(chan string, 1), release: make(chan struct{})}, logger.Nop())
	if err := s.SetSchedule(Schedule("hourly"), SyncRequest{DealerID: "dealer-1"}); err == nil {
		t.Fatal("expected error for unknown schedule")
	}
	if err := s.SetSchedule(ScheduleManual, SyncRequest{DealerID: "dealer-1"}); err != nil {
		t.Fatalf("manual schedule must be accepted: %v", err)
	}
	if err := s.SetSchedule(ScheduleNightly, SyncRequest{DealerID: "dealer-1"}); err != nil {
		t.Fatalf("nightly schedule: %v", err)
	}
	s.RemoveSchedule("dealer-1")
}
