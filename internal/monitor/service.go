package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finsense/internal/pipeline"
	"finsense/internal/risk"
	"finsense/internal/sentiment"
	"finsense/internal/store"
)

const (
	DefaultListLimit = 200
	MaxListLimit     = 1000
)

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := store.EnsureSchema(ctx, "monitor",
		`CREATE TABLE IF NOT EXISTS monitor_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);`,
	); err != nil {
		return nil, err
	}

	return &Service{
		db:     store.DB(),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	if !event.Type.Valid() {
		return fmt.Errorf("monitor: 未知事件类型 %q", event.Type)
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordAdvice 记录推荐结果，有告警时另记一条告警事件。
func (s *Service) RecordAdvice(ctx context.Context, req pipeline.Request, out pipeline.Output) {
	if err := s.Record(ctx, Event{
		Type:    EventRecommendation,
		Payload: RecommendationPayload{Request: req, Output: out},
	}); err != nil {
		s.logger.Warn("记录推荐事件失败", zap.Error(err))
	}
	if len(out.Alerts) > 0 {
		s.RecordAlerts(ctx, out.RunID, "recommend", out.Alerts)
	}
}

// RecordAlerts 记录告警，空列表不写入。
func (s *Service) RecordAlerts(ctx context.Context, runID, source string, alerts []risk.Alert) {
	if len(alerts) == 0 {
		return
	}
	if err := s.Record(ctx, Event{
		Type:    EventAlerts,
		Payload: AlertsPayload{RunID: runID, Source: source, Alerts: alerts},
	}); err != nil {
		s.logger.Warn("记录告警事件失败", zap.Error(err))
	}
}

// RecordSentiment 记录情绪快照变更。
func (s *Service) RecordSentiment(ctx context.Context, snap sentiment.Snapshot) error {
	return s.Record(ctx, Event{
		Type:    EventSentimentSnapshot,
		Payload: SentimentPayload{Snapshot: snap},
	})
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if recErr := s.Record(ctx, Event{
		Type:    EventError,
		Payload: payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件，按写入顺序倒序。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `SELECT id, event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			id      int64
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&id, &typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		events = append(events, Event{
			ID:        id,
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
