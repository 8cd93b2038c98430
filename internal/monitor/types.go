package monitor

import (
	"time"

	"finsense/internal/pipeline"
	"finsense/internal/risk"
	"finsense/internal/sentiment"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventRecommendation    EventType = "recommendation"
	EventAlerts            EventType = "alerts"
	EventSentimentSnapshot EventType = "sentiment_snapshot"
	EventError             EventType = "error"
)

// Valid 判断是否为已知事件类型。
func (t EventType) Valid() bool {
	switch t {
	case EventRecommendation, EventAlerts, EventSentimentSnapshot, EventError:
		return true
	default:
		return false
	}
}

// Event 封装通用监控事件。
type Event struct {
	ID        int64       `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RecommendationPayload 记录一次推荐的输入与输出。
type RecommendationPayload struct {
	Request pipeline.Request `json:"request"`
	Output  pipeline.Output  `json:"output"`
}

// AlertsPayload 记录触发的告警。
type AlertsPayload struct {
	RunID  string       `json:"run_id,omitempty"`
	Source string       `json:"source"`
	Alerts []risk.Alert `json:"alerts"`
}

// SentimentPayload 记录情绪快照变更。
type SentimentPayload struct {
	Snapshot sentiment.Snapshot `json:"snapshot"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
