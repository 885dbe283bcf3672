package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/logger"
	"github.com/LotLinkDrive/LotLinkDrive/internal/pricehistory"
	"github.com/LotLinkDrive/LotLinkDrive/internal/vehicle"
)

// Notifier 对账结果的下游通知。在 CommitSync 落库之后调用，
// 通知失败只记日志，不影响 run 结果。
type Notifier interface {
	VehicleSold(ctx context.Context, v *vehicle.Vehicle, runID string)
	PriceDropped(ctx context.Context, v *vehicle.Vehicle, entry pricehistory.Entry, runID string)
}

// LogNotifier 只打结构化日志的默认实现。
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) VehicleSold(_ context.Context, v *vehicle.Vehicle, runID string) {
	n.log.WithFields(map[string]interface{}{
		"run_id":      runID,
		"dealer_id":   v.DealerID,
		"vin":         v.VIN,
		"days_on_lot": v.DaysOnLot,
	}).Info("vehicle marked sold")
}

func (n *LogNotifier) PriceDropped(_ context.Context, v *vehicle.Vehicle, entry pricehistory.Entry, runID string) {
	n.log.WithFields(map[string]interface{}{
		"run_id":         runID,
		"dealer_id":      v.DealerID,
		"vin":            v.VIN,
		"old_price":      entry.OldPrice,
		"new_price":      entry.NewPrice,
		"change_percent": entry.ChangePercent,
	}).Info("vehicle price dropped")
}

// WebhookNotifier 把事件 POST 到 dealer 配置的回调地址。
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    logger.Logger
}

func NewWebhookNotifier(url string, log logger.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (n *WebhookNotifier) VehicleSold(ctx context.Context, v *vehicle.Vehicle, runID string) {
	n.post(ctx, map[string]interface{}{
		"event":       "vehicle.sold",
		"run_id":      runID,
		"dealer_id":   v.DealerID,
		"vin":         v.VIN,
		"sold_at":     v.SoldAt,
		"days_on_lot": v.DaysOnLot,
	})
}

func (n *WebhookNotifier) PriceDropped(ctx context.Context, v *vehicle.Vehicle, entry pricehistory.Entry, runID string) {
	n.post(ctx, map[string]interface{}{
		"event":          "vehicle.price_dropped",
		"run_id":         runID,
		"dealer_id":      v.DealerID,
		"vin":            v.VIN,
		"old_price":      entry.OldPrice,
		"new_price":      entry.NewPrice,
		"change_amount":  entry.ChangeAmount,
		"change_percent": entry.ChangePercent,
	})
}

func (n *WebhookNotifier) post(ctx context.Context, payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Errorf("webhook payload marshal failed: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Errorf("webhook request build failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warnf("webhook delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warnf("webhook returned status %d", resp.StatusCode)
	}
}

// Fanout 把一个事件广播给多个 Notifier。
type Fanout []Notifier

func (f Fanout) VehicleSold(ctx context.Context, v *vehicle.Vehicle, runID string) {
	for _, n := range f {
		n.VehicleSold(ctx, v, runID)
	}
}

func (f Fanout) PriceDropped(ctx context.Context, v *vehicle.Vehicle, entry pricehistory.Entry, runID string) {
	for _, n := range f {
		n.PriceDropped(ctx, v, entry, runID)
	}
}

var _ Notifier = Fanout(nil)
var _ Notifier = (*LogNotifier)(nil)
var _ Notifier = (*WebhookNotifier)(nil)
