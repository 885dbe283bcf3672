package connector

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// CSVConnector 解析 dealer 上传的 CSV 文件。
// 表头是 dealer 自己的 DMS 列名，列集合事先未知，
// 因此逐行落到 RawRecord 上，由 mapping 层翻译。
type CSVConnector struct {
	source string
	path   string
	reader io.Reader // 非空则优先于 path（测试/内存上传用）
}

// NewCSVFile 从落盘的上传文件构建 CSV connector。
func NewCSVFile(source, path string) *CSVConnector {
	return &CSVConnector{source: source, path: path}
}

// NewCSVReader 从 io.Reader 构建 CSV connector。
func NewCSVReader(source string, r io.Reader) *CSVConnector {
	return &CSVConnector{source: source, reader: r}
}

// Provenance 实现 Connector
func (c *CSVConnector) Provenance() Provenance {
	return Provenance{Source: c.source, FeedType: FeedCSV}
}

// Fetch 实现 Connector
func (c *CSVConnector) Fetch(ctx context.Context) ([]RawRecord, error) {
	r := c.reader
	if r == nil {
		f, err := os.Open(c.path)
		if err != nil {
			return nil, &ConnectionError{Op: "open csv", Err: err}
		}
		defer f.Close()
		r = f
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, &ParseError{Op: "read csv header", Err: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []RawRecord
	for {
		select {
		case <-ctx.Done():
			return nil, &ConnectionError{Op: "read csv", Err: ctx.Err()}
		default:
		}

		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// 行列数不齐等格式问题对整个 run 致命
			return nil, &ParseError{Op: "read csv row", Err: err}
		}
		if len(row) != len(header) {
			return nil, &ParseError{Op: "read csv row", Err: fmt.Errorf("row has %d fields, header has %d", len(row), len(header))}
		}

		rec := make(RawRecord, len(header))
		for i, key := range header {
			rec[key] = strings.TrimSpace(row[i])
		}
		records = append(records, rec)
	}
	return records, nil
}
