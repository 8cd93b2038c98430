package sentiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"finsense/internal/portfolio"
)

// fileSnapshot 对应情绪快照文件的内容。
type fileSnapshot struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
	AsOfISO    string   `json:"asof_iso"`
}

// FileSource 读取 <dir>/<YYYY-MM-DD>_<Area-City>.json 形式的每日快照文件。
type FileSource struct {
	dir string
	loc *time.Location
}

// NewFileSource 创建文件来源。
func NewFileSource(dir string, loc *time.Location) *FileSource {
	if loc == nil {
		loc = time.UTC
	}
	return &FileSource{dir: dir, loc: loc}
}

// Path 返回某日快照文件的路径。
func (f *FileSource) Path(day string) string {
	area := strings.ReplaceAll(f.loc.String(), "/", "-")
	return filepath.Join(f.dir, fmt.Sprintf("%s_%s.json", day, area))
}

// Load 读取某日快照，文件不存在时返回 (nil, nil)。
func (f *FileSource) Load(day string) (*portfolio.MarketState, error) {
	key, err := ParseDay(day)
	if err != nil {
		return nil, err
	}

	path := f.Path(key)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sentiment: 读取快照文件失败: %w", err)
	}

	var doc fileSnapshot
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("sentiment: 解析快照文件 %s 失败: %w", filepath.Base(path), err)
	}

	label, _ := portfolio.ParseSentimentLabel(doc.Label)
	state := portfolio.MarketState{
		SentimentLabel:      label,
		SentimentConfidence: portfolio.DefaultConfidence,
	}
	if doc.Confidence != nil {
		state.SentimentConfidence = *doc.Confidence
	}
	if doc.AsOfISO != "" {
		ts, parseErr := time.Parse(time.RFC3339, doc.AsOfISO)
		if parseErr != nil {
			return nil, fmt.Errorf("sentiment: 快照文件 %s 时间戳无效: %w", filepath.Base(path), parseErr)
		}
		state.AsOf = ts
	}

	normalized, err := portfolio.NormalizeMarket(&state)
	if err != nil {
		return nil, err
	}
	return &normalized, nil
}
