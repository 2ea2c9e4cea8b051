package council

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/deliberate"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/llm"
)

// Summarizer 用大模型把一天的讨论压缩成摘要。
type Summarizer struct {
	model llm.Client
}

var _ deliberate.Summarizer = (*Summarizer)(nil)

// NewSummarizer 创建摘要生成器。
func NewSummarizer(model llm.Client) *Summarizer {
	return &Summarizer{model: model}
}

// Summarize 汇总当天全部发言并请求模型给出摘要。
func (s *Summarizer) Summarize(ctx context.Context, interactions []deliberate.Interaction) (string, error) {
	if len(interactions) == 0 {
		return "今日没有任何发言。", nil
	}

	var builder strings.Builder
	builder.WriteString("请把以下讨论总结成一段简短的中文摘要，突出共识、分歧与任何交易结论。\n\n")
	for idx, interaction := range interactions {
		builder.WriteString(fmt.Sprintf("[%d] %s: %s\n", idx+1, interaction.AgentName, interaction.Response))
	}

	resp, err := s.model.Generate(ctx, llm.Request{
		AgentName: "Council Scribe",
		AgentRole: "summarizer",
		Topic:     builder.String(),
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Reply)
	if text == "" {
		return "", errors.New("模型返回了空摘要")
	}
	return text, nil
}
