package council

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/deliberate"
)

const (
	tradePrefix   = "TRADE:"
	analyzePrefix = "ANALYZE_TOKEN:"
)

// analyzeRequest 是模型发出的代币分析指令。
type analyzeRequest struct {
	Address string
	Network string
}

// parsedReply 是一段模型回复拆解后的结果。指令行从正文中剥离，
// 正文用于广播，指令用于驱动分析与提案。
type parsedReply struct {
	Text     string
	Trade    *deliberate.TradeIntent
	Analyses []analyzeRequest
}

// parseReply 逐行扫描模型回复，识别 TRADE 与 ANALYZE_TOKEN 指令。
// 指令格式错误只丢弃该行指令，不影响正文。
func parseReply(reply string) parsedReply {
	var parsed parsedReply
	var kept []string

	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, tradePrefix):
			if intent, err := parseTradeCommand(trimmed); err == nil {
				parsed.Trade = intent
			}
		case strings.HasPrefix(trimmed, analyzePrefix):
			if req, err := parseAnalyzeCommand(trimmed); err == nil {
				parsed.Analyses = append(parsed.Analyses, req)
			}
		default:
			kept = append(kept, line)
		}
	}

	parsed.Text = strings.TrimSpace(strings.Join(kept, "\n"))
	return parsed
}

// parseTradeCommand 解析 "TRADE: <IN> <OUT> <AMOUNT> [NETWORK] [DEX]"。
// 网络与 DEX 可省略，由调用方回填默认值。
func parseTradeCommand(line string) (*deliberate.TradeIntent, error) {
	fields := strings.Fields(strings.TrimSpace(strings.TrimPrefix(line, tradePrefix)))
	if len(fields) < 3 || len(fields) > 5 {
		return nil, fmt.Errorf("交易指令字段数量不合法: %q", line)
	}

	amount, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || amount <= 0 {
		return nil, fmt.Errorf("交易数量 %q 不合法", fields[2])
	}

	intent := &deliberate.TradeIntent{
		TokenIn:  strings.ToUpper(fields[0]),
		TokenOut: strings.ToUpper(fields[1]),
		Amount:   amount,
	}
	if len(fields) >= 4 {
		intent.Network = fields[3]
	}
	if len(fields) == 5 {
		intent.Dex = fields[4]
	}
	return intent, nil
}

// parseAnalyzeCommand 解析 "ANALYZE_TOKEN: <ADDRESS> [NETWORK]"。
func parseAnalyzeCommand(line string) (analyzeRequest, error) {
	fields := strings.Fields(strings.TrimSpace(strings.TrimPrefix(line, analyzePrefix)))
	if len(fields) < 1 || len(fields) > 2 {
		return analyzeRequest{}, fmt.Errorf("分析指令字段数量不合法: %q", line)
	}

	req := analyzeRequest{Address: fields[0]}
	if len(fields) == 2 {
		req.Network = fields[1]
	}
	return req, nil
}
