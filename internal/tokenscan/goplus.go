package tokenscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chain"
)

const (
	defaultGoPlusBaseURL = "https://api.gopluslabs.io/api/v1"
	defaultLookupTimeout = 15 * time.Second

	// 外部标识映射里 GoPlus 使用的 provider 键。
	ProviderGoPlus = "goplus"
)

// SecurityReport 是跨链统一的代币安全报告。
type SecurityReport struct {
	Token       string    `json:"token"`
	Network     string    `json:"network"`
	IsHoneypot  bool      `json:"is_honeypot"`
	BuyTax      float64   `json:"buy_tax"`
	SellTax     float64   `json:"sell_tax"`
	Warnings    []string  `json:"warnings"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// SecurityClient 调用 GoPlus 风格的代币安全接口。
type SecurityClient struct {
	baseURL    string
	httpClient *http.Client
}

// SecurityOption 配置安全检查客户端。
type SecurityOption func(*SecurityClient)

// WithSecurityBaseURL 覆盖接口地址，仅用于测试。
func WithSecurityBaseURL(baseURL string) SecurityOption {
	return func(c *SecurityClient) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithSecurityTimeout 覆盖单次查询的超时时间。
func WithSecurityTimeout(timeout time.Duration) SecurityOption {
	return func(c *SecurityClient) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewSecurityClient 创建安全检查客户端。
func NewSecurityClient(opts ...SecurityOption) *SecurityClient {
	c := &SecurityClient{
		baseURL:    defaultGoPlusBaseURL,
		httpClient: &http.Client{Timeout: defaultLookupTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// TokenSecurity 按网络 family 分派到对应的安全接口。
func (c *SecurityClient) TokenSecurity(ctx context.Context, desc chain.Descriptor, tokenAddr string) (SecurityReport, error) {
	externalID, ok := desc.ExternalID(ProviderGoPlus)
	if !ok {
		return SecurityReport{}, fmt.Errorf("网络 %s 未配置 GoPlus 链标识", desc.Name)
	}

	switch desc.Family {
	case chain.FamilyEVM:
		return c.evmSecurity(ctx, desc, externalID, tokenAddr)
	case chain.FamilySolana:
		return c.solanaSecurity(ctx, desc, tokenAddr)
	default:
		return SecurityReport{}, fmt.Errorf("不支持的链 family %s", desc.Family)
	}
}

func (c *SecurityClient) evmSecurity(ctx context.Context, desc chain.Descriptor, chainID, tokenAddr string) (SecurityReport, error) {
	endpoint := fmt.Sprintf("%s/token_security/%s?contract_addresses=%s",
		c.baseURL, url.PathEscape(chainID), url.QueryEscape(tokenAddr))

	var decoded struct {
		Result map[string]struct {
			IsHoneypot    string `json:"is_honeypot"`
			BuyTax        string `json:"buy_tax"`
			SellTax       string `json:"sell_tax"`
			CannotSellAll string `json:"cannot_sell_all"`
			IsOpenSource  string `json:"is_open_source"`
			IsProxy       string `json:"is_proxy"`
			IsMintable    string `json:"is_mintable"`
		} `json:"result"`
	}
	if err := c.get(ctx, endpoint, &decoded); err != nil {
		return SecurityReport{}, err
	}

	raw, ok := decoded.Result[strings.ToLower(tokenAddr)]
	if !ok {
		return SecurityReport{}, fmt.Errorf("GoPlus 未返回代币 %s 的安全数据", tokenAddr)
	}

	report := SecurityReport{
		Token:       tokenAddr,
		Network:     desc.Name,
		IsHoneypot:  raw.IsHoneypot == "1",
		BuyTax:      parseTax(raw.BuyTax),
		SellTax:     parseTax(raw.SellTax),
		RetrievedAt: time.Now(),
	}
	if raw.CannotSellAll == "1" {
		report.Warnings = append(report.Warnings, "CRITICAL: 持仓无法全部卖出")
	}
	if raw.IsOpenSource == "0" {
		report.Warnings = append(report.Warnings, "合约未开源")
	}
	if raw.IsProxy == "1" {
		report.Warnings = append(report.Warnings, "合约为代理实现，逻辑可被替换")
	}
	if raw.IsMintable == "1" {
		report.Warnings = append(report.Warnings, "代币可增发")
	}
	return report, nil
}

func (c *SecurityClient) solanaSecurity(ctx context.Context, desc chain.Descriptor, tokenAddr string) (SecurityReport, error) {
	endpoint := fmt.Sprintf("%s/solana/token_security?token_addresses=%s",
		c.baseURL, url.QueryEscape(tokenAddr))

	var decoded struct {
		Result map[string]struct {
			Mintable struct {
				Status string `json:"status"`
			} `json:"mintable"`
			Freezable struct {
				Status string `json:"status"`
			} `json:"freezable"`
			Closable struct {
				Status string `json:"status"`
			} `json:"closable"`
			TransferFee struct {
				FeeRate string `json:"fee_rate"`
			} `json:"transfer_fee"`
		} `json:"result"`
	}
	if err := c.get(ctx, endpoint, &decoded); err != nil {
		return SecurityReport{}, err
	}

	raw, ok := decoded.Result[tokenAddr]
	if !ok {
		return SecurityReport{}, fmt.Errorf("GoPlus 未返回代币 %s 的安全数据", tokenAddr)
	}

	fee := parseTax(raw.TransferFee.FeeRate)
	report := SecurityReport{
		Token:       tokenAddr,
		Network:     desc.Name,
		BuyTax:      fee,
		SellTax:     fee,
		RetrievedAt: time.Now(),
	}
	if raw.Freezable.Status == "1" {
		report.Warnings = append(report.Warnings, "CRITICAL: 代币账户可被冻结")
	}
	if raw.Closable.Status == "1" {
		report.Warnings = append(report.Warnings, "CRITICAL: 代币账户可被关闭")
	}
	if raw.Mintable.Status == "1" {
		report.Warnings = append(report.Warnings, "代币可增发")
	}
	return report, nil
}

func (c *SecurityClient) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("构建安全检查请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求安全检查接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("安全检查接口返回状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析安全检查响应失败: %w", err)
	}
	return nil
}

// parseTax 解析接口返回的税率字符串，无法解析时按 0 处理。
func parseTax(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return value
}
