package connector

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/middleware"
	"github.com/jlaffaye/ftp"
)

// FTPParams FTP 连接参数。由凭据提供方在 run 开始时解密下发，
// 引擎只在本次 run 内持有。
type FTPParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Path     string // 远端 XML feed 路径
}

// Addr host:port
func (p FTPParams) Addr() string {
	port := p.Port
	if port == 0 {
		port = 21
	}
	return fmt.Sprintf("%s:%d", p.Host, port)
}

// FTPXMLConnector 从 dealer 的 FTP 服务器拉 XML feed。
// 外呼套熔断器 + 有界重试；取回的报文整体读入后再解析，
// 解析失败归 ParseError（致命，零记录）。
type FTPXMLConnector struct {
	source    string
	params    FTPParams
	recordTag string
	retry     RetryPolicy
	breaker   *middleware.CircuitBreaker
	timeout   time.Duration
}

// NewFTPXML 构建 FTP/XML connector。recordTag 为空时默认 "vehicle"。
func NewFTPXML(source string, params FTPParams, recordTag string, retry RetryPolicy, timeout time.Duration) *FTPXMLConnector {
	if recordTag == "" {
		recordTag = "vehicle"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FTPXMLConnector{
		source:    source,
		params:    params,
		recordTag: recordTag,
		retry:     retry,
		breaker:   middleware.NewCircuitBreaker("ftp:"+source, 5, time.Minute),
		timeout:   timeout,
	}
}

// Provenance 实现 Connector
func (c *FTPXMLConnector) Provenance() Provenance {
	return Provenance{Source: c.source, FeedType: FeedFTP}
}

// Fetch 实现 Connector
func (c *FTPXMLConnector) Fetch(ctx context.Context) ([]RawRecord, error) {
	var payload []byte
	err := c.retry.Do(ctx, func() error {
		return c.breaker.Call(ctx, func() error {
			data, err := c.download(ctx)
			if err != nil {
				return err
			}
			payload = data
			return nil
		})
	})
	if err != nil {
		if IsConnectionError(err) {
			return nil, err
		}
		return nil, &ConnectionError{Op: "ftp fetch", Err: err}
	}

	records, err := parseXMLRecords(bytes.NewReader(payload), c.recordTag)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (c *FTPXMLConnector) download(ctx context.Context) ([]byte, error) {
	conn, err := ftp.Dial(c.params.Addr(), ftp.DialWithContext(ctx), ftp.DialWithTimeout(c.timeout))
	if err != nil {
		return nil, &ConnectionError{Op: "ftp dial", Err: err}
	}
	defer conn.Quit()

	if err := conn.Login(c.params.User, c.params.Password); err != nil {
		return nil, &ConnectionError{Op: "ftp login", Err: err}
	}

	resp, err := conn.Retr(c.params.Path)
	if err != nil {
		return nil, &ConnectionError{Op: "ftp retr", Err: err}
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, &ConnectionError{Op: "ftp read", Err: err}
	}
	return data, nil
}

// parseXMLRecords 把形如 <inventory><vehicle><vin>..</vin>...</vehicle>...</inventory>
// 的 feed 解析成 RawRecord 序列。记录元素的属性与子元素文本都收进字段表；
// 子元素重名时后者覆盖前者（与 CSV 的表头语义一致）。
func parseXMLRecords(r io.Reader, recordTag string) ([]RawRecord, error) {
	dec := xml.NewDecoder(r)
	var records []RawRecord

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Op: "parse xml", Err: err}
		}

		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(start.Name.Local, recordTag) {
			continue
		}

		rec, err := parseXMLRecord(dec, start)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseXMLRecord(dec *xml.Decoder, start xml.StartElement) (RawRecord, error) {
	rec := make(RawRecord)
	for _, attr := range start.Attr {
		rec[attr.Name.Local] = strings.TrimSpace(attr.Value)
	}

	var field string
	var text strings.Builder
	depth := 0

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, &ParseError{Op: "parse xml record", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				field = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if depth == 1 {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 0 {
				// 记录元素闭合
				return rec, nil
			}
			if depth == 1 && field != "" {
				rec[field] = strings.TrimSpace(text.String())
				field = ""
			}
			depth--
		}
	}
}
