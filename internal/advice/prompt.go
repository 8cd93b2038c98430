package advice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"finsense/internal/portfolio"
	"finsense/internal/risk"
)

const explainerTemplate = `
You are a careful financial educator. Summarise the portfolio outlook below clearly and concisely for a general audience.

Investor profile:
- Age: {{ .Profile.Age }}
- Risk tolerance: {{ .Profile.Risk }}
- Horizon: {{ .Profile.HorizonYears }} years

Proposed allocation:
- Equities: {{ pct .Allocation.Equities }}
- Bonds: {{ pct .Allocation.Bonds }}
- Cash: {{ pct .Allocation.Cash }}

One-year estimates:
- Expected return: {{ pct .KPIs.ExpReturn1Y }}
- Expected volatility: {{ pct .KPIs.ExpVol1Y }}
- Drawdown proxy: {{ pct .KPIs.MaxDrawdown }}
{{ if .Alerts }}
Risk alerts:
{{ range .Alerts }}- [{{ .Severity }}] {{ .Type }}: {{ .Evidence }}
{{ end }}{{ end }}
Simulation result JSON:
{{ .ResultJSON }}

Rules:
1. Plain language, at most {{ .MaxWords }} words, a single paragraph.
2. Explain what the mix means and mention any alert.
3. Do not promise returns. This is educational only, not financial advice.
`

var tmpl = template.Must(template.New("explainer").Funcs(template.FuncMap{
	"pct": func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
}).Parse(explainerTemplate))

// Input 为生成建议文本所需的上下文。
type Input struct {
	Profile    portfolio.Profile    `json:"profile"`
	Allocation portfolio.Allocation `json:"allocation"`
	KPIs       portfolio.KPIs       `json:"kpis"`
	Alerts     []risk.Alert         `json:"alerts"`
}

type promptContext struct {
	Input
	ResultJSON string
	MaxWords   int
}

// BuildPrompt 将模拟结果渲染成提示词。
func BuildPrompt(in Input, maxWords int) (string, error) {
	raw, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("advice: 序列化模拟结果失败: %w", err)
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, promptContext{Input: in, ResultJSON: string(raw), MaxWords: maxWords}); err != nil {
		return "", fmt.Errorf("advice: 渲染提示词失败: %w", err)
	}
	return buf.String(), nil
}
