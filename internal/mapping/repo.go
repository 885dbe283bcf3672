package mapping

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repo field_mappings 仓储。映射由 dealer 在 UI 里编辑，引擎只读消费。
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// ActiveByDealer 返回 dealer 当前生效的映射规则（按创建时间升序，
// Resolver 里后注册的覆盖先注册的）。
func (r *Repo) ActiveByDealer(ctx context.Context, dealerID string) ([]FieldMapping, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var rules []FieldMapping
	err := r.db.WithContext(ctx).
		Where("dealer_id = ? AND active = ?", dealerID, true).
		Order("created_at asc").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// Upsert 新增/替换一条映射。同 (dealer_id, dms_field) 的旧 active 规则
// 先置为 inactive，保证 unique-active 约束。
func (r *Repo) Upsert(ctx context.Context, m *FieldMapping) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repo db is nil")
	}
	if m.DealerID == "" || m.DMSField == "" {
		return fmt.Errorf("dealer_id and dms_field required")
	}
	if !KnownTargetField(m.TargetField) {
		return fmt.Errorf("unknown target field: %s", m.TargetField)
	}
	if m.Transform == "" {
		m.Transform = TransformIdentity
	}
	if !KnownTransform(m.Transform) {
		return fmt.Errorf("unknown transform: %s", m.Transform)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Active = true

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&FieldMapping{}).
			Where("dealer_id = ? AND dms_field = ? AND active = ?", m.DealerID, m.DMSField, true).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("deactivate prior mappings: %w", err)
		}
		return tx.Create(m).Error
	})
}

// Delete 删除映射
func (r *Repo) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repo db is nil")
	}
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&FieldMapping{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
