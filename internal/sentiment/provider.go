package sentiment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finsense/internal/portfolio"
)

// SnapshotRecorder 接收情绪快照变更事件。
type SnapshotRecorder interface {
	RecordSentiment(ctx context.Context, snap Snapshot) error
}

// Provider 按自然日提供市场状态：先查缓存，未命中时回落到快照文件并写回缓存。
type Provider struct {
	cache    *Cache
	files    *FileSource
	recorder SnapshotRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewProvider 创建 Provider，files 与 recorder 可为空。
func NewProvider(cache *Cache, files *FileSource, recorder SnapshotRecorder, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cache:    cache,
		files:    files,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Today 返回当日市场状态，缺失时为 nil。
func (p *Provider) Today(ctx context.Context) (*portfolio.MarketState, error) {
	return p.MarketOn(ctx, p.now())
}

// Yesterday 返回前一日市场状态，缺失时为 nil。
func (p *Provider) Yesterday(ctx context.Context) (*portfolio.MarketState, error) {
	return p.MarketOn(ctx, p.now().In(p.cache.Location()).AddDate(0, 0, -1))
}

// MarketOn 返回 t 所在自然日的市场状态。
func (p *Provider) MarketOn(ctx context.Context, t time.Time) (*portfolio.MarketState, error) {
	state, err := p.cache.MarketOn(ctx, t)
	if err != nil || state != nil {
		return state, err
	}
	if p.files == nil {
		return nil, nil
	}

	snap, err := p.Import(ctx, DayKey(t, p.cache.Location()))
	if err != nil {
		// 文件损坏不影响推荐，按缺失处理。
		p.logger.Warn("读取情绪快照文件失败", zap.Error(err))
		return nil, nil
	}
	if snap == nil {
		return nil, nil
	}
	return snap.MarketState(), nil
}

// Put 写入快照并记录事件。
func (p *Provider) Put(ctx context.Context, day string, state portfolio.MarketState, source string) (Snapshot, error) {
	snap, err := p.cache.Put(ctx, day, state, source)
	if err != nil {
		return Snapshot{}, err
	}
	p.record(ctx, snap)
	return snap, nil
}

// Get 读取缓存中的快照。
func (p *Provider) Get(ctx context.Context, day string) (*Snapshot, error) {
	return p.cache.Get(ctx, day)
}

// Import 将某日快照文件导入缓存，文件不存在时返回 (nil, nil)。
func (p *Provider) Import(ctx context.Context, day string) (*Snapshot, error) {
	if p.files == nil {
		return nil, nil
	}
	state, err := p.files.Load(day)
	if err != nil {
		return nil, fmt.Errorf("sentiment: 导入 %s 失败: %w", day, err)
	}
	if state == nil {
		return nil, nil
	}
	snap, err := p.Put(ctx, day, *state, "file")
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ImportToday 导入当日快照文件，供定时任务调用。
func (p *Provider) ImportToday(ctx context.Context) error {
	if p.files == nil {
		return nil
	}
	day := DayKey(p.now(), p.cache.Location())
	snap, err := p.Import(ctx, day)
	if err != nil {
		return err
	}
	if snap == nil {
		p.logger.Info("当日情绪快照文件不存在", zap.String("day", day), zap.String("path", p.files.Path(day)))
	}
	return nil
}

func (p *Provider) record(ctx context.Context, snap Snapshot) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordSentiment(ctx, snap); err != nil {
		p.logger.Warn("记录情绪快照事件失败", zap.Error(err))
	}
}
