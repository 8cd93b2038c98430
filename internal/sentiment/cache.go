package sentiment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finsense/internal/portfolio"
	"finsense/internal/store"
)

const dayLayout = "2006-01-02"

// Snapshot 为某一自然日的情绪快照。
type Snapshot struct {
	Day        string                   `json:"day"`
	Label      portfolio.SentimentLabel `json:"label"`
	Confidence float64                  `json:"confidence"`
	AsOf       time.Time                `json:"asof"`
	Source     string                   `json:"source"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// MarketState 转换为核心使用的市场状态。
func (s Snapshot) MarketState() *portfolio.MarketState {
	return &portfolio.MarketState{
		SentimentLabel:      s.Label,
		SentimentConfidence: s.Confidence,
		AsOf:                s.AsOf,
	}
}

// Cache 以 SQLite 保存按日的情绪快照，核心只读使用。
type Cache struct {
	db     *sql.DB
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

// NewCache 创建情绪缓存并初始化表结构。
func NewCache(ctx context.Context, st *store.Store, loc *time.Location, logger *zap.Logger) (*Cache, error) {
	if st == nil {
		return nil, errors.New("sentiment: store 不能为空")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.EnsureSchema(ctx, "sentiment",
		`CREATE TABLE IF NOT EXISTS sentiment_daily (
			day TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			confidence REAL NOT NULL,
			asof TEXT NOT NULL,
			source TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	); err != nil {
		return nil, err
	}

	return &Cache{
		db:     st.DB(),
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}, nil
}

// DayKey 返回 t 在 loc 时区下的日期键。
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}

// ParseDay 校验并规范化日期键。
func ParseDay(day string) (string, error) {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return "", fmt.Errorf("sentiment: 日期格式应为 YYYY-MM-DD: %w", err)
	}
	return t.Format(dayLayout), nil
}

// Location 返回缓存使用的时区。
func (c *Cache) Location() *time.Location {
	return c.loc
}

// Put 写入或覆盖某日快照。
func (c *Cache) Put(ctx context.Context, day string, state portfolio.MarketState, source string) (Snapshot, error) {
	key, err := ParseDay(day)
	if err != nil {
		return Snapshot{}, err
	}
	normalized, err := portfolio.NormalizeMarket(&state)
	if err != nil {
		return Snapshot{}, err
	}
	if source == "" {
		source = "api"
	}

	now := c.now().UTC()
	asof := normalized.AsOf
	if asof.IsZero() {
		asof = now
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO sentiment_daily (day, label, confidence, asof, source, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(day) DO UPDATE SET
			label = excluded.label,
			confidence = excluded.confidence,
			asof = excluded.asof,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		key, string(normalized.SentimentLabel), normalized.SentimentConfidence,
		asof.Format(time.RFC3339), source, now.Format(time.RFC3339),
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sentiment: 写入情绪快照失败: %w", err)
	}

	c.logger.Info("情绪快照已更新",
		zap.String("day", key),
		zap.String("label", string(normalized.SentimentLabel)),
		zap.Float64("confidence", normalized.SentimentConfidence),
		zap.String("source", source),
	)

	return Snapshot{
		Day:        key,
		Label:      normalized.SentimentLabel,
		Confidence: normalized.SentimentConfidence,
		AsOf:       asof,
		Source:     source,
		UpdatedAt:  now,
	}, nil
}

// Get 读取某日快照，不存在时返回 (nil, nil)。
func (c *Cache) Get(ctx context.Context, day string) (*Snapshot, error) {
	key, err := ParseDay(day)
	if err != nil {
		return nil, err
	}

	var (
		label, asof, source, updated string
		confidence                   float64
	)
	row := c.db.QueryRowContext(ctx,
		`SELECT label, confidence, asof, source, updated_at FROM sentiment_daily WHERE day = ?`, key)
	switch scanErr := row.Scan(&label, &confidence, &asof, &source, &updated); {
	case errors.Is(scanErr, sql.ErrNoRows):
		return nil, nil
	case scanErr != nil:
		return nil, fmt.Errorf("sentiment: 查询情绪快照失败: %w", scanErr)
	}

	snap := &Snapshot{
		Day:        key,
		Label:      portfolio.SentimentLabel(label),
		Confidence: confidence,
		Source:     source,
	}
	if ts, parseErr := time.Parse(time.RFC3339, asof); parseErr == nil {
		snap.AsOf = ts
	}
	if ts, parseErr := time.Parse(time.RFC3339, updated); parseErr == nil {
		snap.UpdatedAt = ts
	}
	return snap, nil
}

// MarketOn 返回 t 所在自然日的市场状态，缺失时为 nil。
func (c *Cache) MarketOn(ctx context.Context, t time.Time) (*portfolio.MarketState, error) {
	snap, err := c.Get(ctx, DayKey(t, c.loc))
	if err != nil || snap == nil {
		return nil, err
	}
	return snap.MarketState(), nil
}
