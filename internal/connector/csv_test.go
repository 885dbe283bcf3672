package connector

import (
	"context"
	"strings"
	"testing"
)

func TestCSVFetch(t *testing.T) {
	feed := strings.Join([]string{
		"Vehicle_VIN, Mfr,AskingPrice",
		"1FAKE001,Ford,21500",
		"1FAKE002,Honda, 18900",
	}, "\n")

	c := NewCSVReader("upload", strings.NewReader(feed))
	records, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["Vehicle_VIN"] != "1FAKE001" {
		t.Fatalf("unexpected first record: %v", records[0])
	}
	// 表头和值都应去除空白
	if records[1]["AskingPrice"] != "18900" || records[0]["Mfr"] != "Ford" {
		t.Fatalf("expected trimmed values, got %v", records)
	}

	if prov := c.Provenance(); prov.FeedType != FeedCSV || prov.Label() != "csv:upload" {
		t.Fatalf("unexpected provenance: %+v", prov)
	}
}

func TestCSVFetchRaggedRowIsParseError(t *testing.T) {
	feed := "vin,make\n1FAKE001,Ford,EXTRA\n"
	c := NewCSVReader("upload", strings.NewReader(feed))
	_, err := c.Fetch(context.Background())
	if !IsParseError(err) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestCSVFetchEmptyBodyIsParseError(t *testing.T) {
	c := NewCSVReader("upload", strings.NewReader(""))
	_, err := c.Fetch(context.Background())
	if !IsParseError(err) {
		t.Fatalf("expected ParseError for missing header, got %v", err)
	}
}
