package pricehistory

import (
	"math"
	"time"
)

// Entry 是 price_history 表的 GORM 模型。
// 只追加的价格台账：每次对账发现价格变化写入一行，永不更新或删除，
// 下游的价格走势图和“降价”角标都消费这张表。
type Entry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	VehicleID string    `gorm:"index:idx_vehicle_date,priority:1;size:36;not null" json:"vehicle_id"`
	OldPrice  int64     `gorm:"not null" json:"old_price"`
	NewPrice  int64     `gorm:"not null" json:"new_price"`
	// ChangeAmount = old - new，正数表示降价
	ChangeAmount  int64   `gorm:"not null" json:"change_amount"`
	ChangePercent float64 `gorm:"not null" json:"change_percent"` // 保留两位小数
	Source        string  `gorm:"size:64" json:"source"`
	ChangeDate    time.Time `gorm:"index:idx_vehicle_date,priority:2;not null" json:"change_date"`
}

// TableName 指定表名
func (Entry) TableName() string {
	return "price_history"
}

// NewEntry 由新旧价格构造一条台账记录。
func NewEntry(vehicleID string, oldPrice, newPrice int64, source string, changeDate time.Time) Entry {
	amount := oldPrice - newPrice
	var percent float64
	if oldPrice != 0 {
		percent = round2(float64(amount) / float64(oldPrice) * 100)
	}
	return Entry{
		VehicleID:     vehicleID,
		OldPrice:      oldPrice,
		NewPrice:      newPrice,
		ChangeAmount:  amount,
		ChangePercent: percent,
		Source:        source,
		ChangeDate:    changeDate,
	}
}

// IsDrop 是否降价
func (e Entry) IsDrop() bool {
	return e.ChangeAmount > 0
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
