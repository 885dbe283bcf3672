package syncer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/config"
	"github.com/LotLinkDrive/LotLinkDrive/internal/common/logger"
	"github.com/LotLinkDrive/LotLinkDrive/internal/connector"
	"github.com/LotLinkDrive/LotLinkDrive/internal/mapping"
	"github.com/LotLinkDrive/LotLinkDrive/internal/pricehistory"
	"github.com/LotLinkDrive/LotLinkDrive/internal/vehicle"
)

type fakeInv struct {
	snapshot  map[string]*vehicle.Vehicle
	sold      map[string]bool
	commitErr error

	commits      int
	gotInserts   []*vehicle.Vehicle
	gotUpdates   []*vehicle.Vehicle
	gotUnchanged []string
	gotLedger    []pricehistory.Entry
}

func (f *fakeInv) SnapshotActive(context.Context, string) (map[string]*vehicle.Vehicle, error) {
	if f.snapshot == nil {
		return map[string]*vehicle.Vehicle{}, nil
	}
	return f.snapshot, nil
}

func (f *fakeInv) SoldVINs(context.Context, string) (map[string]bool, error) {
	return f.sold, nil
}

func (f *fakeInv) CommitSync(_ context.Context, inserts, updates []*vehicle.Vehicle, unchangedIDs []string, _ time.Time, ledger []pricehistory.Entry) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits++
	f.gotInserts = inserts
	f.gotUpdates = updates
	f.gotUnchanged = unchangedIDs
	f.gotLedger = ledger
	return nil
}

type fakeRuns struct {
	avg       float64
	created   []IngestionRun
	finalized []IngestionRun
}

func (f *fakeRuns) Create(_ context.Context, run *IngestionRun) error {
	f.created = append(f.created, *run)
	return nil
}

func (f *fakeRuns) Finalize(_ context.Context, run *IngestionRun) error {
	f.finalized = append(f.finalized, *run)
	return nil
}

func (f *fakeRuns) TrailingScanAverage(context.Context, string, int) (float64, error) {
	return f.avg, nil
}

type fakeMaps struct {
	rules []mapping.FieldMapping
}

func (f *fakeMaps) ActiveByDealer(context.Context, string) ([]mapping.FieldMapping, error) {
	return f.rules, nil
}

type recordingNotifier struct {
	soldVINs []string
	drops    []pricehistory.Entry
}

func (n *recordingNotifier) VehicleSold(_ context.Context, v *vehicle.Vehicle, _ string) {
	n.soldVINs = append(n.soldVINs, v.VIN)
}

func (n *recordingNotifier) PriceDropped(_ context.Context, _ *vehicle.Vehicle, e pricehistory.Entry, _ string) {
	n.drops = append(n.drops, e)
}

func basicRules() []mapping.FieldMapping {
	rule := func(dms, target string, tr mapping.Transform) mapping.FieldMapping {
		return mapping.FieldMapping{DealerID: "dealer-1", DMSField: dms, TargetField: target, Transform: tr, Active: true}
	}
	return []mapping.FieldMapping{
		rule("VIN", mapping.FieldVIN, mapping.TransformUpper),
		rule("Make", mapping.FieldMake, mapping.TransformIdentity),
		rule("Model", mapping.FieldModel, mapping.TransformIdentity),
		rule("Year", mapping.FieldYear, mapping.TransformParseInt),
		rule("Price", mapping.FieldPrice, mapping.TransformParseInt),
	}
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		ConnectorTimeoutSeconds: 5,
		RetryAttempts:           1,
		GuardRatio:              0.5,
		GuardDepth:              5,
		GuardMinAverage:         20,
		PlaceholderBaseURL:      testPlaceholderBase,
	}
}

func csvRequest(data string) SyncRequest {
	return SyncRequest{
		DealerID: "dealer-1",
		Source:   "upload",
		FeedType: connector.FeedCSV,
		CSVData:  strings.NewReader(data),
	}
}

func TestPipelineRunHappyPath(t *testing.T) {
	inv := &fakeInv{}
	runs := &fakeRuns{}
	p := NewPipeline(inv, runs, &fakeMaps{rules: basicRules()}, &recordingNotifier{}, testSyncConfig(), logger.Nop())

	feed := "VIN,Make,Model,Year,Price\nv100,Ford,Focus,2021,21500\nV200,Honda,Civic,2022,18900\n"
	run := p.Run(context.Background(), "run-1", csvRequest(feed))

	if run.Status != RunSuccess {
		t.Fatalf("expected success, got %s (%s)", run.Status, run.Message)
	}
	if run.VehiclesScanned != 2 || run.NewVehicles != 2 || run.SkippedRecords != 0 {
		t.Fatalf("unexpected counters: %+v", run)
	}
	if inv.commits != 1 || len(inv.gotInserts) != 2 {
		t.Fatalf("expected one commit with 2 inserts, got commits=%d inserts=%d", inv.commits, len(inv.gotInserts))
	}
	// VIN 大写归一
	if inv.gotInserts[0].VIN != "V100" {
		t.Fatalf("expected normalized vin, got %s", inv.gotInserts[0].VIN)
	}
	// 每次执行恰好一行 run 记录：一次 Create 一次 Finalize
	if len(runs.created) != 1 || len(runs.finalized) != 1 {
		t.Fatalf("expected exactly one run record, got created=%d finalized=%d", len(runs.created), len(runs.finalized))
	}
}

func TestPipelineParseFailureRecordsErrorRun(t *testing.T) {
	inv := &fakeInv{}
	runs := &fakeRuns{}
	p := NewPipeline(inv, runs, &fakeMaps{rules: basicRules()}, nil, testSyncConfig(), logger.Nop())

	// 行列数不齐：解析失败对整个 run 致命，零记录落库
	run := p.Run(context.Background(), "run-1", csvRequest("VIN,Make\nv100,Ford,EXTRA\n"))

	if run.Status != RunError {
		t.Fatalf("expected error run, got %s", run.Status)
	}
	if inv.commits != 0 {
		t.Fatalf("nothing must be committed on parse failure, got %d commits", inv.commits)
	}
	if len(runs.created) != 1 || len(runs.finalized) != 1 {
		t.Fatalf("failed run must still leave a record, got created=%d finalized=%d", len(runs.created), len(runs.finalized))
	}
	if runs.finalized[0].Message == "" {
		t.Fatal("error run must carry a message")
	}
}

func TestPipelineMappingErrorsSkipRecordOnly(t *testing.T) {
	inv := &fakeInv{}
	runs := &fakeRuns{}
	p := NewPipeline(inv, runs, &fakeMaps{rules: basicRules()}, nil, testSyncConfig(), logger.Nop())

	// 第二行价格是垃圾：该行跳过，run 继续并降级为 warning
	feed := "VIN,Make,Model,Year,Price\nV100,Ford,Focus,2021,21500\nV200,Honda,Civic,2022,N/A\n"
	run := p.Run(context.Background(), "run-1", csvRequest(feed))

	if run.Status != RunWarning {
		t.Fatalf("expected warning, got %s", run.Status)
	}
	if run.VehiclesScanned != 1 || run.SkippedRecords != 1 || run.NewVehicles != 1 {
		t.Fatalf("unexpected counters: scanned=%d skipped=%d new=%d", run.VehiclesScanned, run.SkippedRecords, run.NewVehicles)
	}
}

func TestPipelineGuardSkipsSoldMarking(t *testing.T) {
	missing := &vehicle.Vehicle{ID: "id-9", DealerID: "dealer-1", VIN: "V900", Status: vehicle.StatusAvailable, Price: 15000}
	inv := &fakeInv{snapshot: map[string]*vehicle.Vehicle{"V900": missing}}
	runs := &fakeRuns{avg: 100} // 历史均值 100，本次只有 2 条
	notes := &recordingNotifier{}
	p := NewPipeline(inv, runs, &fakeMaps{rules: basicRules()}, notes, testSyncConfig(), logger.Nop())

	feed := "VIN,Make,Model,Year,Price\nV100,Ford,Focus,2021,21500\nV200,Honda,Civic,2022,18900\n"
	run := p.Run(context.Background(), "run-1", csvRequest(feed))

	if run.Status != RunWarning {
		t.Fatalf("expected warning when guard trips, got %s", run.Status)
	}
	if run.MarkedSold != 0 {
		t.Fatalf("sold-marking must be skipped, got %d", run.MarkedSold)
	}
	if missing.Status != vehicle.StatusAvailable {
		t.Fatalf("missing vehicle must keep its status, got %s", missing.Status)
	}
	if !strings.Contains(run.Message, "guard") {
		t.Fatalf("message must mention the guard, got %q", run.Message)
	}
	if len(notes.soldVINs) != 0 {
		t.Fatalf("no sold notifications expected, got %v", notes.soldVINs)
	}
}

func TestPipelineSoldAndPriceDropNotifications(t *testing.T) {
	onLot := &vehicle.Vehicle{ID: "id-1", DealerID: "dealer-1", VIN: "V100", Make: "Ford", Model: "Focus", Year: 2021,
		Price: 21500, Status: vehicle.StatusAvailable, Images: vehicle.StringList{testPlaceholderBase + "/2021-ford-focus.jpg"}}
	gone := &vehicle.Vehicle{ID: "id-2", DealerID: "dealer-1", VIN: "V900", Price: 15000, Status: vehicle.StatusAvailable}
	inv := &fakeInv{snapshot: map[string]*vehicle.Vehicle{"V100": onLot, "V900": gone}}
	runs := &fakeRuns{avg: 2} // 低于 GuardMinAverage，保护不启用
	notes := &recordingNotifier{}
	p := NewPipeline(inv, runs, &fakeMaps{rules: basicRules()}, notes, testSyncConfig(), logger.Nop())

	feed := "VIN,Make,Model,Year,Price\nV100,Ford,Focus,2021,20000\n"
	run := p.Run(context.Background(), "run-1", csvRequest(feed))

	if run.Status != RunSuccess {
		t.Fatalf("expected success, got %s (%s)", run.Status, run.Message)
	}
	if run.MarkedSold != 1 || run.UpdatedVehicles != 1 {
		t.Fatalf("unexpected counters: sold=%d updated=%d", run.MarkedSold, run.UpdatedVehicles)
	}
	if len(notes.soldVINs) != 1 || notes.soldVINs[0] != "V900" {
		t.Fatalf("expected sold notification for V900, got %v", notes.soldVINs)
	}
	if len(notes.drops) != 1 || notes.drops[0].ChangeAmount != 1500 {
		t.Fatalf("expected price drop notification of 1500, got %+v", notes.drops)
	}
	if len(inv.gotLedger) != 1 {
		t.Fatalf("expected ledger entry committed, got %d", len(inv.gotLedger))
	}
}

func TestPipelineCommitFailureIsRunError(t *testing.T) {
	inv := &fakeInv{commitErr: errors.New("deadlock detected")}
	runs := &fakeRuns{}
	p := NewPipeline(inv, runs, &fakeMaps{rules: basicRules()}, nil, testSyncConfig(), logger.Nop())

	run := p.Run(context.Background(), "run-1", csvRequest("VIN,Make,Model,Year,Price\nV100,Ford,Focus,2021,21500\n"))
	if run.Status != RunError {
		t.Fatalf("expected error run on commit failure, got %s", run.Status)
	}
	if !strings.Contains(run.Message, "commit changeset") {
		t.Fatalf("unexpected message: %q", run.Message)
	}
}

// slowThenReader 先给 immediate，阻塞 delay 后给 rest。
type slowThenReader struct {
	immediate io.Reader
	rest      io.Reader
	delay     time.Duration
	slept     bool
}

func (r *slowThenReader) Read(p []byte) (int, error) {
	n, err := r.immediate.Read(p)
	if n > 0 || err == nil {
		return n, err
	}
	if !r.slept {
		r.slept = true
		time.Sleep(r.delay)
	}
	return r.rest.Read(p)
}

func TestPipelineFetchTimeoutMessage(t *testing.T) {
	cfg := testSyncConfig()
	cfg.ConnectorTimeoutSeconds = 1

	runs := &fakeRuns{}
	p := NewPipeline(&fakeInv{}, runs, &fakeMaps{rules: basicRules()}, nil, cfg, logger.Nop())

	req := SyncRequest{
		DealerID: "dealer-1",
		Source:   "upload",
		FeedType: connector.FeedCSV,
		CSVData: &slowThenReader{
			immediate: strings.NewReader("VIN,Make,Model,Year,Price\nV100,Ford,Focus,2021,21500\n"),
			rest:      strings.NewReader("V200,Honda,Civic,2022,18900\n"),
			delay:     1500 * time.Millisecond,
		},
	}
	run := p.Run(context.Background(), "run-1", req)

	if run.Status != RunError {
		t.Fatalf("expected error run, got %s", run.Status)
	}
	if !strings.Contains(run.Message, "timeout") {
		t.Fatalf("expected timeout message, got %q", run.Message)
	}
}
