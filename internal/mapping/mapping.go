package mapping

import "time"

// FieldMapping 是 field_mappings 表的 GORM 模型。
// dealer 自配置的列名映射：DMS 导出的原始字段 -> 引擎的标准字段。
// 同一 (dealer_id, dms_field) 同时只有一条 active 规则（由 Repo.Upsert 维护）。
type FieldMapping struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	DealerID    string    `gorm:"index:idx_dealer_field,priority:1;size:36;not null" json:"dealer_id"`
	DMSField    string    `gorm:"column:dms_field;index:idx_dealer_field,priority:2;size:64;not null" json:"dms_field"`
	TargetField string    `gorm:"size:64;not null" json:"target_field"`
	Transform   Transform `gorm:"type:varchar(16);not null;default:'identity'" json:"transform"`
	Active      bool      `gorm:"index;not null;default:true" json:"active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (FieldMapping) TableName() string {
	return "field_mappings"
}

// 标准字段名。vin/make/model/year/price 为必填，缺失则该记录被拒。
const (
	FieldVIN           = "vin"
	FieldMake          = "make"
	FieldModel         = "model"
	FieldYear          = "year"
	FieldPrice         = "price"
	FieldMileage       = "mileage"
	FieldTrim          = "trim"
	FieldExteriorColor = "exterior_color"
	FieldImages        = "images"
	FieldStatus        = "status"
)

// RequiredFields 必填标准字段
var RequiredFields = []string{FieldVIN, FieldMake, FieldModel, FieldYear, FieldPrice}

// KnownTargetField 校验 target 是否为引擎认识的标准字段。
func KnownTargetField(name string) bool {
	switch name {
	case FieldVIN, FieldMake, FieldModel, FieldYear, FieldPrice,
		FieldMileage, FieldTrim, FieldExteriorColor, FieldImages, FieldStatus:
		return true
	}
	return false
}
