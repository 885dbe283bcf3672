package connector

import (
	"strings"
	"testing"
)

func TestParseXMLRecords(t *testing.T) {
	feed := `<?xml version="1.0"?>
<inventory generated="2025-03-01">
  <vehicle stock="S100">
    <vin>1FAKE001</vin>
    <make>Ford</make>
    <price>21500</price>
    <photos>a.jpg|b.jpg</photos>
  </vehicle>
  <vehicle>
    <vin> 1FAKE002 </vin>
    <make>Honda</make>
    <price>18900</price>
  </vehicle>
</inventory>`

	records, err := parseXMLRecords(strings.NewReader(feed), "vehicle")
	if err != nil {
		t.Fatalf("parseXMLRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["vin"] != "1FAKE001" || records[0]["photos"] != "a.jpg|b.jpg" {
		t.Fatalf("unexpected first record: %v", records[0])
	}
	// 属性也应收进字段表
	if records[0]["stock"] != "S100" {
		t.Fatalf("expected attribute captured, got %v", records[0])
	}
	// 文本去空白
	if records[1]["vin"] != "1FAKE002" {
		t.Fatalf("expected trimmed vin, got %q", records[1]["vin"])
	}
}

func TestParseXMLRecordsNestedChildren(t *testing.T) {
	// 嵌套层只取第一层子元素的文本，深层结构不展开
	feed := `<inventory><vehicle><vin>V1</vin><specs><engine>V6</engine></specs></vehicle></inventory>`
	records, err := parseXMLRecords(strings.NewReader(feed), "vehicle")
	if err != nil {
		t.Fatalf("parseXMLRecords: %v", err)
	}
	if len(records) != 1 || records[0]["vin"] != "V1" {
		t.Fatalf("unexpected records: %v", records)
	}
}

func TestParseXMLRecordsMalformed(t *testing.T) {
	feed := `<inventory><vehicle><vin>V1</vin>`
	_, err := parseXMLRecords(strings.NewReader(feed), "vehicle")
	if !IsParseError(err) {
		t.Fatalf("expected ParseError for truncated xml, got %v", err)
	}
}
