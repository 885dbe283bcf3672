package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/middleware"
)

// APIParams DMS 供应商 API 连接参数。
type APIParams struct {
	BaseURL  string
	APIKey   string
	PageSize int
}

// apiPage 供应商分页响应的通用外壳。
type apiPage struct {
	Records []map[string]json.RawMessage `json:"records"`
	HasMore bool                         `json:"has_more"`
}

// APIConnector 分页拉取 DMS 供应商 API。
// 每页请求先过令牌桶（限速），外呼套熔断器 + 有界重试。
type APIConnector struct {
	source  string
	params  APIParams
	client  *http.Client
	limiter *middleware.TokenBucket
	retry   RetryPolicy
	breaker *middleware.CircuitBreaker
}

// NewAPI 构建 API connector。pagesPerSecond <= 0 时默认 5 页/秒。
func NewAPI(source string, params APIParams, retry RetryPolicy, timeout time.Duration, pagesPerSecond int) *APIConnector {
	if params.PageSize <= 0 {
		params.PageSize = 100
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if pagesPerSecond <= 0 {
		pagesPerSecond = 5
	}
	return &APIConnector{
		source:  source,
		params:  params,
		client:  &http.Client{Timeout: timeout},
		limiter: middleware.NewTokenBucket(int64(pagesPerSecond), int64(pagesPerSecond)),
		retry:   retry,
		breaker: middleware.NewCircuitBreaker("api:"+source, 5, time.Minute),
	}
}

// Provenance 实现 Connector
func (c *APIConnector) Provenance() Provenance {
	return Provenance{Source: c.source, FeedType: FeedAPI}
}

// Fetch 实现 Connector
func (c *APIConnector) Fetch(ctx context.Context) ([]RawRecord, error) {
	var all []RawRecord
	for page := 1; ; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &ConnectionError{Op: "rate limit wait", Err: err}
		}

		var body apiPage
		err := c.retry.Do(ctx, func() error {
			return c.breaker.Call(ctx, func() error {
				p, err := c.fetchPage(ctx, page)
				if err != nil {
					return err
				}
				body = p
				return nil
			})
		})
		if err != nil {
			if IsConnectionError(err) || IsParseError(err) {
				return nil, err
			}
			return nil, &ConnectionError{Op: "api fetch", Err: err}
		}

		for _, raw := range body.Records {
			all = append(all, flattenJSON(raw))
		}
		if !body.HasMore {
			break
		}
	}
	return all, nil
}

func (c *APIConnector) fetchPage(ctx context.Context, page int) (apiPage, error) {
	url := fmt.Sprintf("%s/inventory?page=%d&page_size=%d", c.params.BaseURL, page, c.params.PageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apiPage{}, &ConnectionError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.params.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.params.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apiPage{}, &ConnectionError{Op: "api request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 认证失败和服务端错误都归连接类；重试预算由上层控制
		return apiPage{}, &ConnectionError{Op: "api request", Err: fmt.Errorf("status %d from %s", resp.StatusCode, url)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiPage{}, &ConnectionError{Op: "read response", Err: err}
	}

	var p apiPage
	if err := json.Unmarshal(data, &p); err != nil {
		return apiPage{}, &ParseError{Op: "decode api page", Err: err}
	}
	return p, nil
}

// flattenJSON 把任意 JSON 对象压成文本字段表，交给 mapping 层处理类型。
func flattenJSON(obj map[string]json.RawMessage) RawRecord {
	rec := make(RawRecord, len(obj))
	for k, raw := range obj {
		rec[k] = stringifyJSON(raw)
	}
	return rec
}

func stringifyJSON(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := ""
		for i, item := range list {
			if i > 0 {
				out += "|"
			}
			out += item
		}
		return out
	}
	return string(raw)
}
