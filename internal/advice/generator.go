package advice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"finsense/internal/config"
)

const (
	// DefaultMaxWords 为建议摘要的最大词数。
	DefaultMaxWords = 180

	DefaultOneAction  = "Review your allocation and adjust if goals change."
	DefaultDisclaimer = "Educational only, not financial advice."

	fallbackSummary = "Based on the simulated data, this allocation targets balanced growth with " +
		"moderate volatility. Rebalance periodically and keep a small cash buffer."
)

// Generator 根据模拟结果生成面向用户的说明文本。
type Generator interface {
	Generate(ctx context.Context, in Input) (string, error)
}

// StaticGenerator 返回固定的本地说明，不访问外部服务。
type StaticGenerator struct{}

// Generate 实现 Generator。
func (StaticGenerator) Generate(context.Context, Input) (string, error) {
	return fallbackSummary, nil
}

// FallbackSummary 返回生成失败时使用的说明文本。
func FallbackSummary() string {
	return fallbackSummary
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIGenerator 通过 OpenAI 兼容接口生成说明文本。
type OpenAIGenerator struct {
	cfg    config.AdviceConfig
	logger *zap.Logger
	sdk    chatCompleter
}

// NewOpenAIGenerator 使用给定配置创建生成器。
func NewOpenAIGenerator(cfg config.AdviceConfig, logger *zap.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("advice: api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = DefaultMaxWords
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &OpenAIGenerator{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(clientCfg),
	}, nil
}

// Generate 调用大模型生成说明文本。
func (g *OpenAIGenerator) Generate(ctx context.Context, in Input) (string, error) {
	if g.cfg.Model == "" {
		return "", errors.New("advice: model 不能为空")
	}

	prompt, err := BuildPrompt(in, g.cfg.MaxWords)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	response, err := g.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0.2,
	})
	if err != nil {
		g.logger.Error("调用OpenAI失败", zap.Error(err))
		return "", fmt.Errorf("advice: 调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", errors.New("advice: OpenAI 返回结果为空")
	}

	text := strings.TrimSpace(response.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("advice: OpenAI 返回内容为空")
	}

	g.logger.Debug("建议文本生成成功", zap.Int("chars", len(text)))
	return text, nil
}

// CapWords 将文本截断到至多 maxWords 个词，截断时追加省略号。
func CapWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if maxWords <= 0 || len(words) <= maxWords {
		return strings.TrimSpace(text)
	}
	return strings.TrimRight(strings.Join(words[:maxWords], " "), " ") + "…"
}
