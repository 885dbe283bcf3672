package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/connector"
	"gorm.io/gorm"
)

// RunStatus 同步 run 状态枚举
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunWarning RunStatus = "warning" // 有跳过记录/重复 VIN/触发保护，但整体成功
	RunError   RunStatus = "error"
)

// IngestionRun 是 ingestion_runs 表的 GORM 模型。
// 每次 pipeline 执行恰好产生一行——无论成功失败，审计轨迹上不丢 run。
// 回滚依赖这张表定位删除窗口。
type IngestionRun struct {
	ID       string             `gorm:"primaryKey;size:36" json:"id"`
	DealerID string             `gorm:"index:idx_dealer_created,priority:1;size:36;not null" json:"dealer_id"`
	Source   string             `gorm:"size:64" json:"source"`
	FeedType connector.FeedType `gorm:"type:varchar(8);not null" json:"feed_type"`

	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `gorm:"type:varchar(16);index;not null" json:"status"`

	VehiclesScanned int `gorm:"not null;default:0" json:"vehicles_scanned"`
	NewVehicles     int `gorm:"not null;default:0" json:"new_vehicles"`
	UpdatedVehicles int `gorm:"not null;default:0" json:"updated_vehicles"`
	MarkedSold      int `gorm:"not null;default:0" json:"marked_sold"`
	SkippedRecords  int `gorm:"not null;default:0" json:"skipped_records"`
	ImagesFetched   int `gorm:"not null;default:0" json:"images_fetched"`

	Message string `gorm:"size:512" json:"message"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_dealer_created,priority:2" json:"created_at"`
}

// TableName 指定表名
func (IngestionRun) TableName() string {
	return "ingestion_runs"
}

// RunRepo ingestion_runs 仓储。
type RunRepo struct {
	db *gorm.DB
}

func NewRunRepo(db *gorm.DB) *RunRepo {
	return &RunRepo{db: db}
}

func (r *RunRepo) Create(ctx context.Context, run *IngestionRun) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return r.db.WithContext(ctx).Create(run).Error
}

// Finalize 写终态。只允许从 running 落终态，重复 finalize 不生效。
func (r *RunRepo) Finalize(ctx context.Context, run *IngestionRun) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repo db is nil")
	}
	res := r.db.WithContext(ctx).Model(&IngestionRun{}).
		Where("id = ? AND status = ?", run.ID, RunRunning).
		Updates(map[string]interface{}{
			"finished_at":      run.FinishedAt,
			"status":           run.Status,
			"vehicles_scanned": run.VehiclesScanned,
			"new_vehicles":     run.NewVehicles,
			"updated_vehicles": run.UpdatedVehicles,
			"marked_sold":      run.MarkedSold,
			"skipped_records":  run.SkippedRecords,
			"images_fetched":   run.ImagesFetched,
			"message":          run.Message,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %s already finalized", run.ID)
	}
	return nil
}

func (r *RunRepo) GetByID(ctx context.Context, id string) (*IngestionRun, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var run IngestionRun
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RunRepo) ListByDealer(ctx context.Context, dealerID string, limit int) ([]IngestionRun, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var runs []IngestionRun
	err := r.db.WithContext(ctx).
		Where("dealer_id = ?", dealerID).
		Order("created_at desc").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// TrailingScanAverage 最近 depth 个成功 run 的 vehicles_scanned 均值。
// feed 骤降保护用；没有历史时返回 0。
func (r *RunRepo) TrailingScanAverage(ctx context.Context, dealerID string, depth int) (float64, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("repo db is nil")
	}
	if depth <= 0 {
		depth = 5
	}
	var counts []int
	err := r.db.WithContext(ctx).Model(&IngestionRun{}).
		Where("dealer_id = ? AND status = ?", dealerID, RunSuccess).
		Order("created_at desc").
		Limit(depth).
		Pluck("vehicles_scanned", &counts).Error
	if err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		return 0, nil
	}
	sum := 0
	for _, c := range counts {
		sum += c
	}
	return float64(sum) / float64(len(counts)), nil
}

// Delete 删除 run 记录（仅回滚路径使用）。
func (r *RunRepo) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&IngestionRun{}).Error
}
