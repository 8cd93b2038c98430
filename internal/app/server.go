package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"finsense/internal/monitor"
	"finsense/internal/pipeline"
	"finsense/internal/portfolio"
	"finsense/internal/sentiment"
)

const maxBodyBytes = 1 << 20

type handler struct {
	comps  *components
	logger *zap.Logger
}

func newRouter(comps *components, logger *zap.Logger) http.Handler {
	h := &handler{comps: comps, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.loggingMiddleware)

	r.Get("/healthz", h.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/recommend", h.handleRecommend)
		r.Post("/recommend/batch", h.handleRecommendBatch)
		r.Post("/alerts", h.handleAlerts)
		r.Post("/allocation/round", h.handleRound)

		r.Route("/sentiment", func(r chi.Router) {
			r.Post("/classify", h.handleClassify)
			r.Get("/{date}", h.handleGetSentiment)
			r.Put("/{date}", h.handlePutSentiment)
		})

		r.Get("/events", h.handleEvents)
	})

	return r
}

func (h *handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.logger.Info("HTTP 请求",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.comps.store.Ping(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := newValidationError(validateRequest("", req)); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := h.comps.service.Advise(r.Context(), req)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

type batchRequest struct {
	Requests []pipeline.Request `json:"requests"`
}

type batchResponse struct {
	Status  string            `json:"status"`
	Results []pipeline.Output `json:"results"`
}

func (h *handler) handleRecommendBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	switch n := len(body.Requests); {
	case n == 0:
		h.writeError(w, http.StatusBadRequest, invalid("requests 不能为空"))
		return
	case n > h.comps.maxBatch:
		h.writeError(w, http.StatusBadRequest, invalid("requests 数量 %d 超过上限 %d", n, h.comps.maxBatch))
		return
	}

	var problems error
	for i, req := range body.Requests {
		if err := validateRequest(fmt.Sprintf("requests[%d].", i), req); err != nil {
			problems = multierr.Append(problems, err)
		}
	}
	if problems != nil {
		h.writeError(w, http.StatusBadRequest, newValidationError(problems))
		return
	}

	outs, err := h.comps.service.AdviseBatch(r.Context(), body.Requests)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, batchResponse{Status: pipeline.StatusOK, Results: outs})
}

func (h *handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var req pipeline.AlertsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := newValidationError(validateAlertsRequest(req)); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	alerts, err := h.comps.service.Orchestrator().EvaluateAlerts(req)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.comps.monitor.RecordAlerts(r.Context(), middleware.GetReqID(r.Context()), "api", alerts)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

type roundRequest struct {
	Allocation portfolio.Allocation `json:"allocation"`
	Places     *int                 `json:"places,omitempty"`
}

func (h *handler) handleRound(w http.ResponseWriter, r *http.Request) {
	var req roundRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	places := h.comps.places
	if req.Places != nil {
		places = *req.Places
	}

	rounded, err := portfolio.RoundAllocation(req.Allocation, places)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, newValidationError(err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"allocation": rounded,
		"places":     places,
	})
}

type sentimentBody struct {
	Label      string     `json:"label"`
	Confidence *float64   `json:"confidence"`
	AsOf       *time.Time `json:"asof,omitempty"`
	Source     string     `json:"source,omitempty"`
}

func (h *handler) handlePutSentiment(w http.ResponseWriter, r *http.Request) {
	day, err := sentiment.ParseDay(chi.URLParam(r, "date"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, newValidationError(err))
		return
	}

	var body sentimentBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	label, ok := portfolio.ParseSentimentLabel(body.Label)
	state := portfolio.MarketState{SentimentLabel: label, SentimentConfidence: portfolio.DefaultConfidence}
	if body.Confidence != nil {
		state.SentimentConfidence = *body.Confidence
	}
	if body.AsOf != nil {
		state.AsOf = *body.AsOf
	}
	var problems error
	if !ok {
		problems = fmt.Errorf("label 未知: %q", body.Label)
	}
	problems = multierr.Append(problems, validateMarket("body", &state))
	if problems != nil {
		h.writeError(w, http.StatusBadRequest, newValidationError(problems))
		return
	}

	source := body.Source
	if source == "" {
		source = "api"
	}
	snap, err := h.comps.sentiment.Put(r.Context(), day, state, source)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *handler) handleGetSentiment(w http.ResponseWriter, r *http.Request) {
	day, err := sentiment.ParseDay(chi.URLParam(r, "date"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, newValidationError(err))
		return
	}

	snap, err := h.comps.sentiment.Get(r.Context(), day)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if snap == nil {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("%s 无情绪快照", day))
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

type classifyRequest struct {
	Closes  []float64 `json:"closes"`
	StoreAs string    `json:"store_as,omitempty"`
}

type classifyResponse struct {
	Reading  sentiment.Reading   `json:"reading"`
	Snapshot *sentiment.Snapshot `json:"snapshot,omitempty"`
}

func (h *handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	reading, err := h.comps.classifier.Classify(req.Closes)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, newValidationError(err))
		return
	}

	resp := classifyResponse{Reading: reading}
	if req.StoreAs != "" {
		snap, err := h.comps.sentiment.Put(r.Context(), req.StoreAs, reading.MarketState(), "classifier")
		if err != nil {
			h.writeError(w, http.StatusBadRequest, newValidationError(err))
			return
		}
		resp.Snapshot = &snap
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := monitor.DefaultListLimit
	if qs := q.Get("limit"); qs != "" {
		v, err := strconv.Atoi(qs)
		if err != nil || v <= 0 {
			h.writeError(w, http.StatusBadRequest, invalid("limit 必须为正整数"))
			return
		}
		limit = min(v, monitor.MaxListLimit)
	}

	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
		if !eventType.Valid() {
			h.writeError(w, http.StatusBadRequest, invalid("未知事件类型: %s", typ))
			return
		}
	}

	events, err := h.comps.monitor.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return newValidationError(fmt.Errorf("解析请求体失败: %w", err))
	}
	return nil
}

// statusFor 把业务错误映射为 HTTP 状态码。
func statusFor(err error) int {
	var se *pipeline.StageError
	switch {
	case isValidation(err):
		return http.StatusBadRequest
	case errors.As(err, &se):
		return http.StatusUnprocessableEntity
	case errors.Is(err, portfolio.ErrInvalidBand),
		errors.Is(err, portfolio.ErrInvalidAllocation),
		errors.Is(err, portfolio.ErrInvalidMarket):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("写入响应失败", zap.Error(err))
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var ve *ValidationError
	if errors.As(err, &ve) {
		resp.Error = "invalid request"
		resp.Details = ve.Problems()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("请求处理失败", zap.Int("status", status), zap.Error(err))
	}
	h.writeJSON(w, status, resp)
}
