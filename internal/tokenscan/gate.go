package tokenscan

import (
	"fmt"
	"strings"
)

// 超过该税率的代币被视为不可交易。
const defaultMaxTaxRate = 0.20

// Gate 根据安全报告决定一笔交易意向是否允许进入提案流程。
type Gate struct {
	maxTaxRate float64
}

// NewGate 创建安全闸门。maxTaxRate 非正时使用默认税率上限。
func NewGate(maxTaxRate float64) *Gate {
	if maxTaxRate <= 0 {
		maxTaxRate = defaultMaxTaxRate
	}
	return &Gate{maxTaxRate: maxTaxRate}
}

// Evaluate 返回是否放行以及全部拦截原因。蜜罐、超限税率或任何
// CRITICAL 告警都会导致拦截。
func (g *Gate) Evaluate(report SecurityReport) (bool, []string) {
	var reasons []string
	if report.IsHoneypot {
		reasons = append(reasons, "代币疑似蜜罐")
	}
	if report.BuyTax > g.maxTaxRate {
		reasons = append(reasons, fmt.Sprintf("买入税率 %.0f%% 超过上限", report.BuyTax*100))
	}
	if report.SellTax > g.maxTaxRate {
		reasons = append(reasons, fmt.Sprintf("卖出税率 %.0f%% 超过上限", report.SellTax*100))
	}
	for _, warning := range report.Warnings {
		if strings.HasPrefix(warning, "CRITICAL") {
			reasons = append(reasons, warning)
		}
	}
	return len(reasons) == 0, reasons
}
