package connector

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FeedType feed 类型枚举
type FeedType string

const (
	FeedCSV FeedType = "csv"
	FeedFTP FeedType = "ftp"
	FeedAPI FeedType = "api"
)

// RawRecord 一条未映射的原始记录：DMS 字段名 -> 文本值。
type RawRecord map[string]string

// Provenance 数据来源标识，贯穿 run 记录和价格台账。
type Provenance struct {
	Source   string
	FeedType FeedType
}

// Label 形如 "ftp:reliable-dms"
func (p Provenance) Label() string {
	return fmt.Sprintf("%s:%s", p.FeedType, p.Source)
}

// Connector 把某个来源的库存 feed 拉成有限的原始记录序列。
// 三种实现（CSV / FTP-XML / 分页 API）共享该接口，pipeline 不感知来源差异。
// Connector 不做任何库存写入。
type Connector interface {
	Fetch(ctx context.Context) ([]RawRecord, error)
	Provenance() Provenance
}

// ConnectionError 网络/认证类失败。可重试，重试预算耗尽后对整个 run 致命。
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ParseError 报文格式损坏。不可重试，对 run 致命，且不产出任何记录。
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error during %s: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsConnectionError 判断是否连接类错误
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsParseError 判断是否解析类错误
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// RetryPolicy 有界指数退避。只对 ConnectionError 重试，
// ParseError 立即放弃（坏报文重拉多少次都是坏的）。
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Do 执行 fn，按策略重试。
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsConnectionError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return &ConnectionError{Op: "retry wait", Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
