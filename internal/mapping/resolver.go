package mapping

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Record 标准化后的车辆投影（对账引擎的输入）。
type Record struct {
	VIN           string
	Make          string
	Model         string
	Year          int
	Price         int64 // 已含 dealer markup
	Mileage       int
	Trim          string
	ExteriorColor string
	Images        []string
	Status        string // 原文，空则由引擎按 available 处理
}

// MappingError 单条记录映射失败。逐条恢复：计数后跳过该记录，run 继续。
type MappingError struct {
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping error on field %q: %s", e.Field, e.Reason)
}

// Resolver 按 dealer 的 active 映射规则把原始 feed 记录翻译成标准记录。
// priceMarkup 为 dealer 配置的固定加价，在映射阶段加上——
// 对账和价格台账永远看到的是对外展示价。
type Resolver struct {
	rules       map[string]FieldMapping // dms_field -> rule
	priceMarkup int64
}

// NewResolver 构造 Resolver。规则按切片顺序注册，重复的 dms_field 后者覆盖前者。
func NewResolver(rules []FieldMapping, priceMarkup int64) *Resolver {
	m := make(map[string]FieldMapping, len(rules))
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		m[rule.DMSField] = rule
	}
	return &Resolver{rules: m, priceMarkup: priceMarkup}
}

// Resolve 翻译一条原始记录。未映射的原始字段忽略；
// 必填标准字段缺失返回 *MappingError。
func (r *Resolver) Resolve(raw map[string]string) (*Record, error) {
	rec := &Record{}
	seen := make(map[string]bool, len(RequiredFields))

	for dmsField, rawValue := range raw {
		rule, ok := r.rules[dmsField]
		if !ok {
			continue // 未映射字段忽略
		}
		val, err := Apply(rule.Transform, rawValue)
		if err != nil {
			return nil, &MappingError{Field: rule.TargetField, Reason: err.Error()}
		}
		if err := assign(rec, rule.TargetField, val); err != nil {
			return nil, err
		}
		seen[rule.TargetField] = true
	}

	for _, required := range RequiredFields {
		if !seen[required] {
			return nil, &MappingError{Field: required, Reason: "required field not mapped or empty"}
		}
	}
	if rec.VIN == "" {
		return nil, &MappingError{Field: FieldVIN, Reason: "empty vin"}
	}
	if rec.Make == "" {
		return nil, &MappingError{Field: FieldMake, Reason: "empty make"}
	}
	if rec.Model == "" {
		return nil, &MappingError{Field: FieldModel, Reason: "empty model"}
	}
	if rec.Year <= 0 {
		return nil, &MappingError{Field: FieldYear, Reason: "year must be positive"}
	}
	if rec.Price <= 0 {
		return nil, &MappingError{Field: FieldPrice, Reason: "price must be positive"}
	}

	rec.Price += r.priceMarkup
	return rec, nil
}

// assign 把变换结果写入标准字段，做必要的类型收敛。
func assign(rec *Record, target string, val Value) error {
	switch target {
	case FieldVIN:
		// VIN 统一大写去空白，保证同车不同写法能对上
		rec.VIN = strings.ToUpper(asText(val))
	case FieldMake:
		rec.Make = asText(val)
	case FieldModel:
		rec.Model = asText(val)
	case FieldTrim:
		rec.Trim = asText(val)
	case FieldExteriorColor:
		rec.ExteriorColor = asText(val)
	case FieldStatus:
		rec.Status = strings.ToLower(asText(val))
	case FieldYear:
		n, err := asInt(val)
		if err != nil {
			return &MappingError{Field: target, Reason: err.Error()}
		}
		rec.Year = int(n)
	case FieldPrice:
		n, err := asInt(val)
		if err != nil {
			return &MappingError{Field: target, Reason: err.Error()}
		}
		rec.Price = n
	case FieldMileage:
		n, err := asInt(val)
		if err != nil {
			return &MappingError{Field: target, Reason: err.Error()}
		}
		rec.Mileage = int(n)
	case FieldImages:
		rec.Images = asList(val)
	default:
		// 指向未知标准字段的规则忽略（配置层问题，不影响 run）
	}
	return nil
}

func asText(v Value) string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatInt(v.Number, 10)
	case KindDecimal:
		return strconv.FormatFloat(v.Decimal, 'f', -1, 64)
	case KindList:
		return strings.Join(v.List, ",")
	}
	return ""
}

func asInt(v Value) (int64, error) {
	switch v.Kind {
	case KindNumber:
		return v.Number, nil
	case KindDecimal:
		return int64(math.Round(v.Decimal)), nil
	case KindText:
		if v.Text == "" {
			return 0, fmt.Errorf("empty numeric value")
		}
		f, err := strconv.ParseFloat(cleanNumeric(v.Text), 64)
		if err != nil {
			return 0, err
		}
		return int64(math.Round(f)), nil
	}
	return 0, fmt.Errorf("cannot convert list to number")
}

func asList(v Value) []string {
	switch v.Kind {
	case KindList:
		return v.List
	case KindText:
		if v.Text == "" {
			return nil
		}
		return []string{v.Text}
	}
	return nil
}
