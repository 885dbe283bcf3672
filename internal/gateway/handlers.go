package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/logger"
	"github.com/LotLinkDrive/LotLinkDrive/internal/connector"
	"github.com/LotLinkDrive/LotLinkDrive/internal/mapping"
	"github.com/LotLinkDrive/LotLinkDrive/internal/pricehistory"
	"github.com/LotLinkDrive/LotLinkDrive/internal/syncer"
	"github.com/LotLinkDrive/LotLinkDrive/internal/vehicle"
	"gorm.io/gorm"
)

// SyncTrigger 触发/排期接口（Scheduler 实现）。
type SyncTrigger interface {
	TriggerSync(req syncer.SyncRequest) (string, error)
	SetSchedule(sched syncer.Schedule, req syncer.SyncRequest) error
	RemoveSchedule(dealerID string)
}

// RollbackService CSV 导入回滚（syncer.Rollback 实现）。
type RollbackService interface {
	Request(ctx context.Context, runID string) (string, int64, error)
	Confirm(ctx context.Context, runID, token string) (int64, error)
}

// RunReader run 记录查询面。
type RunReader interface {
	GetByID(ctx context.Context, id string) (*syncer.IngestionRun, error)
	ListByDealer(ctx context.Context, dealerID string, limit int) ([]syncer.IngestionRun, error)
}

// VehicleReader 库存查询面。
type VehicleReader interface {
	List(ctx context.Context, dealerID string, status vehicle.Status, offset, limit int) ([]vehicle.Vehicle, int64, error)
}

// PriceHistoryReader 价格台账查询面。
type PriceHistoryReader interface {
	ListByVehicle(ctx context.Context, vehicleID string, limit int) ([]pricehistory.Entry, error)
}

// MappingStore 映射规则管理面。
type MappingStore interface {
	ActiveByDealer(ctx context.Context, dealerID string) ([]mapping.FieldMapping, error)
	Upsert(ctx context.Context, m *mapping.FieldMapping) error
	Delete(ctx context.Context, id string) error
}

// Handler 业务 API 的 HTTP 处理器集合。
type Handler struct {
	trigger  SyncTrigger
	rollback RollbackService
	runs     RunReader
	vehicles VehicleReader
	mappings MappingStore
	prices   PriceHistoryReader
	log      logger.Logger
}

func NewHandler(trigger SyncTrigger, rollback RollbackService, runs RunReader, vehicles VehicleReader, mappings MappingStore, prices PriceHistoryReader, log logger.Logger) *Handler {
	return &Handler{
		trigger:  trigger,
		rollback: rollback,
		runs:     runs,
		vehicles: vehicles,
		mappings: mappings,
		prices:   prices,
		log:      log,
	}
}

// Routes 注册全部路由。
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.healthz)

	mux.HandleFunc("POST /api/v1/dealers/{id}/sync", h.triggerSync)
	mux.HandleFunc("GET /api/v1/dealers/{id}/runs", h.listRuns)
	mux.HandleFunc("GET /api/v1/dealers/{id}/vehicles", h.listVehicles)
	mux.HandleFunc("GET /api/v1/dealers/{id}/mappings", h.listMappings)
	mux.HandleFunc("PUT /api/v1/dealers/{id}/mappings", h.upsertMapping)
	mux.HandleFunc("DELETE /api/v1/dealers/{id}/mappings/{mappingID}", h.deleteMapping)
	mux.HandleFunc("PUT /api/v1/dealers/{id}/schedule", h.setSchedule)
	mux.HandleFunc("DELETE /api/v1/dealers/{id}/schedule", h.removeSchedule)

	mux.HandleFunc("GET /api/v1/vehicles/{id}/price-history", h.listPriceHistory)

	mux.HandleFunc("GET /api/v1/runs/{id}", h.getRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/rollback", h.requestRollback)
	mux.HandleFunc("POST /api/v1/runs/{id}/rollback/confirm", h.confirmRollback)
	return mux
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// syncPayload 触发同步的请求体。
type syncPayload struct {
	Source      string `json:"source"`
	FeedType    string `json:"feed_type"`
	PriceMarkup int64  `json:"price_markup"`
	RecordTag   string `json:"record_tag"`
	CSVPath     string `json:"csv_path"`

	FTP struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		User     string `json:"user"`
		Password string `json:"password"`
		Path     string `json:"path"`
	} `json:"ftp"`

	API struct {
		BaseURL  string `json:"base_url"`
		APIKey   string `json:"api_key"`
		PageSize int    `json:"page_size"`
	} `json:"api"`
}

func (p *syncPayload) toRequest(dealerID string) syncer.SyncRequest {
	return syncer.SyncRequest{
		DealerID:    dealerID,
		Source:      p.Source,
		FeedType:    connector.FeedType(p.FeedType),
		PriceMarkup: p.PriceMarkup,
		RecordTag:   p.RecordTag,
		CSVPath:     p.CSVPath,
		FTP: connector.FTPParams{
			Host:     p.FTP.Host,
			Port:     p.FTP.Port,
			User:     p.FTP.User,
			Password: p.FTP.Password,
			Path:     p.FTP.Path,
		},
		API: connector.APIParams{
			BaseURL:  p.API.BaseURL,
			APIKey:   p.API.APIKey,
			PageSize: p.API.PageSize,
		},
	}
}

// triggerSync 触发一次同步。同 dealer 已有 run 在跑时返回 409；
// 接受后立即 202 返回 run_id，执行是异步的。
// 支持 multipart 直接上传 CSV（字段名 feed）。
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	dealerID := r.PathValue("id")

	var req syncer.SyncRequest
	if isMultipart(r) {
		file, _, err := r.FormFile("feed")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart upload requires a 'feed' file")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
			return
		}
		markup, _ := strconv.ParseInt(r.FormValue("price_markup"), 10, 64)
		source := r.FormValue("source")
		if source == "" {
			source = "upload"
		}
		req = syncer.SyncRequest{
			DealerID:    dealerID,
			Source:      source,
			FeedType:    connector.FeedCSV,
			CSVData:     bytes.NewReader(data),
			PriceMarkup: markup,
		}
	} else {
		var payload syncPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		req = payload.toRequest(dealerID)
	}

	runID, err := h.trigger.TriggerSync(req)
	if err != nil {
		if errors.Is(err, syncer.ErrBusy) {
			writeError(w, http.StatusConflict, "sync already running for this dealer")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.runs.ListByDealer(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.log.Errorf("list runs: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.log.Errorf("get run: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) listVehicles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	status := vehicle.Status(q.Get("status"))

	vehicles, total, err := h.vehicles.List(r.Context(), r.PathValue("id"), status, (page-1)*pageSize, pageSize)
	if err != nil {
		h.log.Errorf("list vehicles: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list vehicles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vehicles":  vehicles,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	rules, err := h.mappings.ActiveByDealer(r.Context(), r.PathValue("id"))
	if err != nil {
		h.log.Errorf("list mappings: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list mappings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mappings": rules})
}

func (h *Handler) upsertMapping(w http.ResponseWriter, r *http.Request) {
	var m mapping.FieldMapping
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	m.DealerID = r.PathValue("id")
	m.ID = ""
	if err := h.mappings.Upsert(r.Context(), &m); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMapping(w http.ResponseWriter, r *http.Request) {
	if err := h.mappings.Delete(r.Context(), r.PathValue("mappingID")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "mapping not found")
			return
		}
		h.log.Errorf("delete mapping: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete mapping")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPriceHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.prices.ListByVehicle(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.log.Errorf("list price history: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list price history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// schedulePayload 排期请求体：档位 + 该 dealer 的 feed 配置。
type schedulePayload struct {
	Schedule string `json:"schedule"`
	syncPayload
}

func (h *Handler) setSchedule(w http.ResponseWriter, r *http.Request) {
	var payload schedulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req := payload.toRequest(r.PathValue("id"))
	if err := h.trigger.SetSchedule(syncer.Schedule(payload.Schedule), req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"schedule": payload.Schedule})
}

func (h *Handler) removeSchedule(w http.ResponseWriter, r *http.Request) {
	h.trigger.RemoveSchedule(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// requestRollback 回滚第一阶段：返回确认令牌和预估影响数。
func (h *Handler) requestRollback(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	token, affected, err := h.rollback.Request(r.Context(), runID)
	if err != nil {
		h.writeRollbackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":            runID,
		"confirm_token":     token,
		"affected_vehicles": affected,
	})
}

// confirmRollback 回滚第二阶段：凭令牌执行删除。
func (h *Handler) confirmRollback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"confirm_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	runID := r.PathValue("id")
	deleted, err := h.rollback.Confirm(r.Context(), runID, body.Token)
	if err != nil {
		h.writeRollbackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":           runID,
		"deleted_vehicles": deleted,
	})
}

func (h *Handler) writeRollbackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, syncer.ErrRollbackNotAllowed), errors.Is(err, syncer.ErrRollbackRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, syncer.ErrRollbackTokenInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Errorf("rollback: %v", err)
		writeError(w, http.StatusInternalServerError, "rollback failed")
	}
}

func isMultipart(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return len(ct) >= 19 && ct[:19] == "multipart/form-data"
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
