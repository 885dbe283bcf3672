package vehicle

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList 以 JSON 数组形式落库的有序字符串列表（车辆图片 URL）。
type StringList []string

// Value 实现 driver.Valuer
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (s *StringList) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", src)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(s))
}

// Vehicle 是 vehicles 表的 GORM 模型。
// 车辆身份由 (dealer_id, vin) 唯一确定；除回滚外不做物理删除。
type Vehicle struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	DealerID string `gorm:"uniqueIndex:uk_dealer_vin;index:idx_dealer_created,priority:1;size:36;not null" json:"dealer_id"`
	VIN      string `gorm:"uniqueIndex:uk_dealer_vin;size:32;not null" json:"vin"`

	Make          string     `gorm:"size:64;not null" json:"make"`
	Model         string     `gorm:"size:64;not null" json:"model"`
	Year          int        `gorm:"not null" json:"year"`
	Trim          string     `gorm:"size:64" json:"trim"`
	Price         int64      `gorm:"not null;default:0" json:"price"` // 对外展示价（含 markup），整数货币单位
	Mileage       int        `gorm:"not null;default:0" json:"mileage"`
	ExteriorColor string     `gorm:"size:32" json:"exterior_color"`
	Images        StringList `gorm:"type:json" json:"images"` // 位置 0 为主图

	Status          Status     `gorm:"type:varchar(16);index;not null" json:"status"`
	DaysOnLot       int        `gorm:"not null;default:0" json:"days_on_lot"`
	LastPriceChange *time.Time `json:"last_price_change,omitempty"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	SoldAt          *time.Time `json:"sold_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_dealer_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Vehicle) TableName() string {
	return "vehicles"
}

// HeroImage 返回主图（展示层保证非空，见 syncer 的图片处理）。
func (v *Vehicle) HeroImage() string {
	if len(v.Images) == 0 {
		return ""
	}
	return v.Images[0]
}

// SameMaterialFields 判断两组反映库存状态的字段是否一致。
// 一致则对账时归类为 UNCHANGED（只更新 last_seen_at）。
func (v *Vehicle) SameMaterialFields(price int64, mileage int, trim, exteriorColor string, status Status, images []string) bool {
	if v.Price != price || v.Mileage != mileage {
		return false
	}
	if v.Trim != trim || v.ExteriorColor != exteriorColor {
		return false
	}
	if status != "" && v.Status != status {
		return false
	}
	if len(v.Images) != len(images) {
		return false
	}
	for i := range images {
		if v.Images[i] != images[i] {
			return false
		}
	}
	return true
}
