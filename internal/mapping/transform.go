package mapping

import (
	"fmt"
	"strconv"
	"strings"
)

// Transform 字段变换枚举。封闭集合，通过查表派发，
// 不做任何运行时表达式求值（dealer 配置里出现未知值会在 Upsert 时被拒）。
type Transform string

const (
	TransformIdentity   Transform = "identity"
	TransformParseInt   Transform = "parse_int"
	TransformParseFloat Transform = "parse_float"
	TransformUpper      Transform = "upper"
	TransformLower      Transform = "lower"
	TransformSplitPipe  Transform = "split_pipe"  // 多图字段 "a.jpg|b.jpg"
	TransformSplitComma Transform = "split_comma" // 多图字段 "a.jpg,b.jpg"
)

// Value 变换结果。Kind 互斥：Text / Number / Decimal / List 之一有效。
type Value struct {
	Kind    ValueKind
	Text    string
	Number  int64
	Decimal float64
	List    []string
}

type ValueKind int

const (
	KindText ValueKind = iota
	KindNumber
	KindDecimal
	KindList
)

type transformFunc func(string) (Value, error)

// transformTable 变换查找表
var transformTable = map[Transform]transformFunc{
	TransformIdentity: func(s string) (Value, error) {
		return Value{Kind: KindText, Text: strings.TrimSpace(s)}, nil
	},
	TransformParseInt: func(s string) (Value, error) {
		n, err := strconv.ParseInt(cleanNumeric(s), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse_int %q: %w", s, err)
		}
		return Value{Kind: KindNumber, Number: n}, nil
	},
	TransformParseFloat: func(s string) (Value, error) {
		f, err := strconv.ParseFloat(cleanNumeric(s), 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse_float %q: %w", s, err)
		}
		return Value{Kind: KindDecimal, Decimal: f}, nil
	},
	TransformUpper: func(s string) (Value, error) {
		return Value{Kind: KindText, Text: strings.ToUpper(strings.TrimSpace(s))}, nil
	},
	TransformLower: func(s string) (Value, error) {
		return Value{Kind: KindText, Text: strings.ToLower(strings.TrimSpace(s))}, nil
	},
	TransformSplitPipe: func(s string) (Value, error) {
		return Value{Kind: KindList, List: splitClean(s, "|")}, nil
	},
	TransformSplitComma: func(s string) (Value, error) {
		return Value{Kind: KindList, List: splitClean(s, ",")}, nil
	},
}

// KnownTransform 校验变换名是否合法。
func KnownTransform(t Transform) bool {
	_, ok := transformTable[t]
	return ok
}

// Apply 执行变换。未知变换按 identity 处理并不报错——
// 旧配置里可能残留已下线的变换名，mapping 层不因此拒掉整条 feed。
func Apply(t Transform, raw string) (Value, error) {
	fn, ok := transformTable[t]
	if !ok {
		fn = transformTable[TransformIdentity]
	}
	return fn(raw)
}

// cleanNumeric 去掉 feed 数值里常见的装饰符："$21,500.00" -> "21500.00"
func cleanNumeric(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func splitClean(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
