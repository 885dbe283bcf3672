package vehicle

import (
	"fmt"
	"time"
)

// Status 车辆状态枚举（持久化为字符串）。
type Status string

const (
	StatusAvailable Status = "available" // 在售
	StatusPending   Status = "pending"   // 已有意向/订金，feed 仍会带
	StatusSold      Status = "sold"      // 已售出（终态，引擎不会复活）
)

// AllowTransition 定义车辆状态机的允许流转关系。
// available/pending 之间可以随 feed 来回切换；sold 是终态，
// 只能由对账引擎在车辆从 feed 消失时打上，且不可逆。
var AllowTransition = map[Status][]Status{
	StatusAvailable: {StatusPending, StatusSold},
	StatusPending:   {StatusAvailable, StatusSold},
	StatusSold:      {},
}

// ParseStatus 将 feed 文本解析为状态；未知值归为 available。
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusAvailable, StatusPending, StatusSold:
		return Status(s)
	default:
		return StatusAvailable
	}
}

// CanTransition 判断 from -> to 是否是一个允许的状态流转。
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	allowed, ok := AllowTransition[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ApplyTransition 对车辆应用状态变更，并维护关键时间字段。
func ApplyTransition(v *Vehicle, to Status, now time.Time) error {
	if v == nil {
		return fmt.Errorf("vehicle is nil")
	}
	from := v.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid vehicle status transition: %s -> %s", from, to)
	}

	v.Status = to

	if to == StatusSold && v.SoldAt == nil {
		t := now
		v.SoldAt = &t
	}
	return nil
}
