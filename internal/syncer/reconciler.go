package syncer

import (
	"sort"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/connector"
	"github.com/LotLinkDrive/LotLinkDrive/internal/mapping"
	"github.com/LotLinkDrive/LotLinkDrive/internal/pricehistory"
	"github.com/LotLinkDrive/LotLinkDrive/internal/vehicle"
	"github.com/google/uuid"
)

// Changeset 一次对账的完整结果。四类互斥：每辆车恰好落在
// Inserts / Updates / Sold / UnchangedIDs 其中之一。
type Changeset struct {
	Inserts      []*vehicle.Vehicle
	Updates      []*vehicle.Vehicle // 在场且有实质字段变化的车辆
	Sold         []*vehicle.Vehicle // 本次从 feed 消失、翻成 sold 的车辆
	UnchangedIDs []string
	Ledger       []pricehistory.Entry

	Duplicates    int // feed 内重复 VIN 条数（取最后一条，其余计入此数）
	SkippedSold   int // 已售 VIN 重新出现，跳过不复活
	ImagesFetched int
}

// Reconcile 纯函数：拿一份 VIN 索引的在场库存快照和映射好的 feed 记录，
// 算出完整变更集。不碰存储——落库由 CommitSync 单事务完成，
// 因此同一输入重放得到同一结果（重放一次后全部归 UNCHANGED）。
//
// markSold 为 false 时跳过售出判定（feed 骤降保护触发时由 pipeline 传入）。
func Reconcile(
	dealerID string,
	snapshot map[string]*vehicle.Vehicle,
	soldVINs map[string]bool,
	records []*mapping.Record,
	prov connector.Provenance,
	now time.Time,
	markSold bool,
	placeholderBase string,
) *Changeset {
	cs := &Changeset{}

	// feed 内去重：同一 VIN 后出现的覆盖先出现的
	order := make([]string, 0, len(records))
	latest := make(map[string]*mapping.Record, len(records))
	for _, rec := range records {
		if _, dup := latest[rec.VIN]; dup {
			cs.Duplicates++
		} else {
			order = append(order, rec.VIN)
		}
		latest[rec.VIN] = rec
	}

	seen := make(map[string]bool, len(order))
	for _, vin := range order {
		rec := latest[vin]
		if soldVINs[vin] {
			// sold 是终态，VIN 重现不复活
			cs.SkippedSold++
			continue
		}
		seen[vin] = true

		gallery := EnsureGallery(rec.Images, rec.Year, rec.Make, rec.Model, placeholderBase)
		if len(rec.Images) > 0 {
			cs.ImagesFetched += len(gallery)
		}

		existing, present := snapshot[vin]
		if !present {
			v := &vehicle.Vehicle{
				ID:            uuid.NewString(),
				DealerID:      dealerID,
				VIN:           vin,
				Make:          rec.Make,
				Model:         rec.Model,
				Year:          rec.Year,
				Trim:          rec.Trim,
				Price:         rec.Price,
				Mileage:       rec.Mileage,
				ExteriorColor: rec.ExteriorColor,
				Images:        gallery,
				Status:        vehicle.ParseStatus(rec.Status),
				LastSeenAt:    now,
			}
			if v.Status == vehicle.StatusSold {
				t := now
				v.SoldAt = &t
			}
			cs.Inserts = append(cs.Inserts, v)
			continue
		}

		feedStatus := vehicle.Status("")
		if rec.Status != "" {
			feedStatus = vehicle.ParseStatus(rec.Status)
		}
		if existing.SameMaterialFields(rec.Price, rec.Mileage, rec.Trim, rec.ExteriorColor, feedStatus, gallery) {
			cs.UnchangedIDs = append(cs.UnchangedIDs, existing.ID)
			continue
		}

		if existing.Price != rec.Price {
			cs.Ledger = append(cs.Ledger, pricehistory.NewEntry(existing.ID, existing.Price, rec.Price, prov.Label(), now))
			t := now
			existing.LastPriceChange = &t
			existing.Price = rec.Price
		}
		existing.Mileage = rec.Mileage
		existing.Trim = rec.Trim
		existing.ExteriorColor = rec.ExteriorColor
		existing.Images = gallery
		if feedStatus != "" && feedStatus != existing.Status {
			// feed 给出的状态变化走状态机校验；非法流转保持原状态
			_ = vehicle.ApplyTransition(existing, feedStatus, now)
		}
		existing.DaysOnLot = lotDays(existing.CreatedAt, now)
		existing.LastSeenAt = now
		cs.Updates = append(cs.Updates, existing)
	}

	if markSold {
		vins := make([]string, 0, len(snapshot))
		for vin := range snapshot {
			if !seen[vin] {
				vins = append(vins, vin)
			}
		}
		sort.Strings(vins)
		for _, vin := range vins {
			v := snapshot[vin]
			if err := vehicle.ApplyTransition(v, vehicle.StatusSold, now); err != nil {
				continue
			}
			v.DaysOnLot = lotDays(v.CreatedAt, now)
			cs.Sold = append(cs.Sold, v)
		}
	}
	return cs
}

func lotDays(createdAt, now time.Time) int {
	d := int(now.Sub(createdAt).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
