package syncer

import (
	"fmt"
	"strings"

	"github.com/LotLinkDrive/LotLinkDrive/internal/vehicle"
)

// EnsureGallery 规整 feed 给的图片列表：去空白、去空项、保序去重。
// feed 一张图都没有时补一张确定性的占位主图——展示层永远拿得到主图。
func EnsureGallery(urls []string, year int, mk, model, baseURL string) vehicle.StringList {
	out := make(vehicle.StringList, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	if len(out) == 0 {
		return vehicle.StringList{PlaceholderURL(baseURL, year, mk, model)}
	}
	return out
}

// PlaceholderURL 生成占位图地址，对同一 (year, make, model) 稳定。
func PlaceholderURL(baseURL string, year int, mk, model string) string {
	return fmt.Sprintf("%s/%d-%s-%s.jpg", strings.TrimRight(baseURL, "/"), year, slug(mk), slug(model))
}

// slug 压成 URL 安全的小写短语，非字母数字折叠成单个连字符。
func slug(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
