package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/config"
	"github.com/LotLinkDrive/LotLinkDrive/internal/common/logger"
	"github.com/LotLinkDrive/LotLinkDrive/internal/connector"
	"github.com/LotLinkDrive/LotLinkDrive/internal/mapping"
	"github.com/LotLinkDrive/LotLinkDrive/internal/pricehistory"
	"github.com/LotLinkDrive/LotLinkDrive/internal/vehicle"
	"github.com/opentracing/opentracing-go"
)

// InventoryStore pipeline 需要的库存读写面。
type InventoryStore interface {
	SnapshotActive(ctx context.Context, dealerID string) (map[string]*vehicle.Vehicle, error)
	SoldVINs(ctx context.Context, dealerID string) (map[string]bool, error)
	CommitSync(ctx context.Context, inserts, updates []*vehicle.Vehicle, unchangedIDs []string, seenAt time.Time, ledger []pricehistory.Entry) error
}

// RunStore pipeline 需要的 run 记录面。
type RunStore interface {
	Create(ctx context.Context, run *IngestionRun) error
	Finalize(ctx context.Context, run *IngestionRun) error
	TrailingScanAverage(ctx context.Context, dealerID string, depth int) (float64, error)
}

// MappingSource dealer 映射规则来源。
type MappingSource interface {
	ActiveByDealer(ctx context.Context, dealerID string) ([]mapping.FieldMapping, error)
}

// SyncRequest 一次同步的全部输入。凭据随请求下发，run 结束即弃。
type SyncRequest struct {
	DealerID string
	Source   string
	FeedType connector.FeedType

	FTP       connector.FTPParams
	RecordTag string // FTP/XML 的记录元素名，空取默认

	API connector.APIParams

	CSVPath string
	CSVData io.Reader // 非空则优先于 CSVPath

	PriceMarkup int64
}

// Pipeline 串起一次完整同步：拉取 -> 映射 -> 对账 -> 单事务落库 -> 通知。
// 每次执行恰好留下一行 run 记录，包括失败和 panic 的情况。
type Pipeline struct {
	inv    InventoryStore
	runs   RunStore
	maps   MappingSource
	notify Notifier
	cfg    config.SyncConfig
	log    logger.Logger
	now    func() time.Time
}

func NewPipeline(inv InventoryStore, runs RunStore, maps MappingSource, notify Notifier, cfg config.SyncConfig, log logger.Logger) *Pipeline {
	return &Pipeline{
		inv:    inv,
		runs:   runs,
		maps:   maps,
		notify: notify,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// Run 执行一次同步。runID 由调用方预生成（触发接口要先拿到 ID 再异步跑）。
// 错误不上抛：全部吸收进 run 记录的 status/message。
func (p *Pipeline) Run(ctx context.Context, runID string, req SyncRequest) *IngestionRun {
	span, ctx := opentracing.StartSpanFromContext(ctx, "sync.run")
	span.SetTag("dealer_id", req.DealerID)
	span.SetTag("feed_type", string(req.FeedType))
	defer span.Finish()

	log := p.log.WithFields(map[string]interface{}{
		"run_id":    runID,
		"dealer_id": req.DealerID,
		"source":    req.Source,
	})

	run := &IngestionRun{
		ID:        runID,
		DealerID:  req.DealerID,
		Source:    req.Source,
		FeedType:  req.FeedType,
		StartedAt: p.now(),
		Status:    RunRunning,
	}
	if err := p.runs.Create(ctx, run); err != nil {
		log.Errorf("create run record failed: %v", err)
		return run
	}

	finalized := false
	finalize := func(status RunStatus, message string) {
		if finalized {
			return
		}
		finalized = true
		t := p.now()
		run.FinishedAt = &t
		run.Status = status
		run.Message = message
		if err := p.runs.Finalize(ctx, run); err != nil {
			log.Errorf("finalize run failed: %v", err)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("sync run panicked: %v", r)
			finalize(RunError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	conn, err := p.newConnector(req)
	if err != nil {
		finalize(RunError, err.Error())
		return run
	}

	timeout := time.Duration(p.cfg.ConnectorTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	raws, err := conn.Fetch(fetchCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			finalize(RunError, "timeout: feed fetch exceeded deadline")
		} else {
			finalize(RunError, err.Error())
		}
		return run
	}

	rules, err := p.maps.ActiveByDealer(ctx, req.DealerID)
	if err != nil {
		finalize(RunError, fmt.Sprintf("load field mappings: %v", err))
		return run
	}
	resolver := mapping.NewResolver(rules, req.PriceMarkup)

	var records []*mapping.Record
	skipped := 0
	for _, raw := range raws {
		rec, err := resolver.Resolve(raw)
		if err != nil {
			// 单条映射失败只计数，run 继续
			skipped++
			log.Debugf("record skipped: %v", err)
			continue
		}
		records = append(records, rec)
	}
	run.VehiclesScanned = len(records)
	run.SkippedRecords = skipped

	snapshot, err := p.inv.SnapshotActive(ctx, req.DealerID)
	if err != nil {
		finalize(RunError, fmt.Sprintf("load inventory snapshot: %v", err))
		return run
	}
	soldVINs, err := p.inv.SoldVINs(ctx, req.DealerID)
	if err != nil {
		finalize(RunError, fmt.Sprintf("load sold vins: %v", err))
		return run
	}

	markSold := true
	guardTripped := false
	if avg, err := p.runs.TrailingScanAverage(ctx, req.DealerID, p.cfg.GuardDepth); err != nil {
		log.Warnf("trailing scan average unavailable, guard skipped: %v", err)
	} else if avg >= float64(p.cfg.GuardMinAverage) && float64(len(records)) < p.cfg.GuardRatio*avg {
		// feed 骤降：疑似截断，本次不做售出判定
		markSold = false
		guardTripped = true
		log.Warnf("feed shrink guard tripped: scanned=%d trailing_avg=%.1f", len(records), avg)
	}

	now := p.now()
	cs := Reconcile(req.DealerID, snapshot, soldVINs, records, conn.Provenance(), now, markSold, p.cfg.PlaceholderBaseURL)

	updates := make([]*vehicle.Vehicle, 0, len(cs.Updates)+len(cs.Sold))
	updates = append(updates, cs.Updates...)
	updates = append(updates, cs.Sold...)
	if err := p.inv.CommitSync(ctx, cs.Inserts, updates, cs.UnchangedIDs, now, cs.Ledger); err != nil {
		// 事务整体回滚，库存保持 run 前状态
		finalize(RunError, fmt.Sprintf("commit changeset: %v", err))
		return run
	}

	run.NewVehicles = len(cs.Inserts)
	run.UpdatedVehicles = len(cs.Updates)
	run.MarkedSold = len(cs.Sold)
	run.SkippedRecords += cs.SkippedSold
	run.ImagesFetched = cs.ImagesFetched

	p.emitEvents(ctx, runID, cs)

	status := RunSuccess
	var notes []string
	if guardTripped {
		status = RunWarning
		notes = append(notes, "feed shrink guard tripped, sold-marking skipped")
	}
	if skipped > 0 {
		status = RunWarning
		notes = append(notes, fmt.Sprintf("%d records skipped on mapping errors", skipped))
	}
	if cs.Duplicates > 0 {
		status = RunWarning
		notes = append(notes, fmt.Sprintf("%d duplicate vins in feed", cs.Duplicates))
	}
	if cs.SkippedSold > 0 {
		status = RunWarning
		notes = append(notes, fmt.Sprintf("%d sold vins reappeared, ignored", cs.SkippedSold))
	}
	finalize(status, strings.Join(notes, "; "))

	log.WithFields(map[string]interface{}{
		"status":  string(run.Status),
		"scanned": run.VehiclesScanned,
		"new":     run.NewVehicles,
		"updated": run.UpdatedVehicles,
		"sold":    run.MarkedSold,
		"skipped": run.SkippedRecords,
	}).Info("sync run finished")
	return run
}

// emitEvents 落库成功后发下游通知：售出事件与降价事件。
func (p *Pipeline) emitEvents(ctx context.Context, runID string, cs *Changeset) {
	if p.notify == nil {
		return
	}
	for _, v := range cs.Sold {
		p.notify.VehicleSold(ctx, v, runID)
	}
	byID := make(map[string]*vehicle.Vehicle, len(cs.Updates))
	for _, v := range cs.Updates {
		byID[v.ID] = v
	}
	for _, e := range cs.Ledger {
		if !e.IsDrop() {
			continue
		}
		if v, ok := byID[e.VehicleID]; ok {
			p.notify.PriceDropped(ctx, v, e, runID)
		}
	}
}

// newConnector 按请求选择 feed 来源实现。
func (p *Pipeline) newConnector(req SyncRequest) (connector.Connector, error) {
	retry := connector.RetryPolicy{
		Attempts: p.cfg.RetryAttempts,
		Backoff:  time.Duration(p.cfg.RetryBackoffMillis) * time.Millisecond,
	}
	timeout := time.Duration(p.cfg.ConnectorTimeoutSeconds) * time.Second

	switch req.FeedType {
	case connector.FeedCSV:
		if req.CSVData != nil {
			return connector.NewCSVReader(req.Source, req.CSVData), nil
		}
		if req.CSVPath == "" {
			return nil, fmt.Errorf("csv sync requires an uploaded file")
		}
		return connector.NewCSVFile(req.Source, req.CSVPath), nil
	case connector.FeedFTP:
		if req.FTP.Host == "" {
			return nil, fmt.Errorf("ftp sync requires host")
		}
		return connector.NewFTPXML(req.Source, req.FTP, req.RecordTag, retry, timeout), nil
	case connector.FeedAPI:
		if req.API.BaseURL == "" {
			return nil, fmt.Errorf("api sync requires base url")
		}
		params := req.API
		if params.PageSize <= 0 {
			params.PageSize = p.cfg.APIPageSize
		}
		return connector.NewAPI(req.Source, params, retry, timeout, p.cfg.APIPagesPerSecond), nil
	default:
		return nil, fmt.Errorf("unknown feed type %q", req.FeedType)
	}
}
