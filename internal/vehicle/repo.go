package vehicle

import (
	"context"
	"fmt"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/pricehistory"
	"gorm.io/gorm"
)

// Repo vehicles 表仓储。
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// SnapshotActive 加载 dealer 当前 available+pending 库存，按 VIN 建索引。
// 对账引擎基于这份一次性快照计算整个变更集（sold 不进快照，
// 因此消失的车不会被重复标记）。
func (r *Repo) SnapshotActive(ctx context.Context, dealerID string) (map[string]*Vehicle, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var vehicles []Vehicle
	err := r.db.WithContext(ctx).
		Where("dealer_id = ? AND status IN ?", dealerID, []Status{StatusAvailable, StatusPending}).
		Find(&vehicles).Error
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snapshot := make(map[string]*Vehicle, len(vehicles))
	for i := range vehicles {
		v := vehicles[i]
		snapshot[v.VIN] = &v
	}
	return snapshot, nil
}

// SoldVINs 返回 dealer 名下已售车辆的 VIN 集合。
// sold 是终态：feed 里再次出现这些 VIN 时引擎跳过，不复活也不重插。
func (r *Repo) SoldVINs(ctx context.Context, dealerID string) (map[string]bool, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var vins []string
	err := r.db.WithContext(ctx).Model(&Vehicle{}).
		Where("dealer_id = ? AND status = ?", dealerID, StatusSold).
		Pluck("vin", &vins).Error
	if err != nil {
		return nil, fmt.Errorf("load sold vins: %w", err)
	}
	set := make(map[string]bool, len(vins))
	for _, vin := range vins {
		set[vin] = true
	}
	return set, nil
}

// CommitSync 以单事务落一次对账的全部写入：新车插入、变更车更新
// （含 sold 翻转）、unchanged 车辆的 last_seen_at 触达、价格台账追加。
// 事务中途失败则库存保持 run 前状态。
func (r *Repo) CommitSync(ctx context.Context, inserts, updates []*Vehicle, unchangedIDs []string, seenAt time.Time, ledger []pricehistory.Entry) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, v := range inserts {
			if err := tx.Create(v).Error; err != nil {
				return fmt.Errorf("insert vehicle vin=%s: %w", v.VIN, err)
			}
		}
		for _, v := range updates {
			if err := tx.Save(v).Error; err != nil {
				return fmt.Errorf("update vehicle vin=%s: %w", v.VIN, err)
			}
		}
		if len(unchangedIDs) > 0 {
			if err := tx.Model(&Vehicle{}).
				Where("id IN ?", unchangedIDs).
				UpdateColumn("last_seen_at", seenAt).Error; err != nil {
				return fmt.Errorf("touch last_seen_at: %w", err)
			}
		}
		if len(ledger) > 0 {
			if err := tx.Create(&ledger).Error; err != nil {
				return fmt.Errorf("append price history: %w", err)
			}
		}
		return nil
	})
}

// CountCreatedWithin 统计回滚窗口内创建的车辆数（回滚预览用）。
func (r *Repo) CountCreatedWithin(ctx context.Context, dealerID string, from, to time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("repo db is nil")
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&Vehicle{}).
		Where("dealer_id = ? AND created_at BETWEEN ? AND ?", dealerID, from, to).
		Count(&count).Error
	return count, err
}

// PurgeCreatedWithin 删除回滚窗口内创建的车辆及其价格台账，返回删除数。
// 这是车辆唯一的物理删除入口，只被 CSV 导入回滚使用。
func (r *Repo) PurgeCreatedWithin(ctx context.Context, dealerID string, from, to time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("repo db is nil")
	}
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&Vehicle{}).
			Where("dealer_id = ? AND created_at BETWEEN ? AND ?", dealerID, from, to).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("vehicle_id IN ?", ids).Delete(&pricehistory.Entry{}).Error; err != nil {
			return fmt.Errorf("purge price history: %w", err)
		}
		res := tx.Where("id IN ?", ids).Delete(&Vehicle{})
		if res.Error != nil {
			return fmt.Errorf("purge vehicles: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

// List 按 dealer 查询车辆（dashboard / 下游消费用）。
func (r *Repo) List(ctx context.Context, dealerID string, status Status, offset, limit int) ([]Vehicle, int64, error) {
	if r == nil || r.db == nil {
		return nil, 0, fmt.Errorf("repo db is nil")
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	q := r.db.WithContext(ctx).Model(&Vehicle{}).Where("dealer_id = ?", dealerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var vehicles []Vehicle
	if err := q.Order("created_at desc").Offset(offset).Limit(limit).Find(&vehicles).Error; err != nil {
		return nil, 0, err
	}
	return vehicles, total, nil
}
