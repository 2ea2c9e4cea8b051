package tokenscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	defaultDexScreenerBaseURL = "https://api.dexscreener.com/latest"

	// 外部标识映射里 DexScreener 使用的 provider 键。
	ProviderDexScreener = "dexscreener"
)

// PairReport 描述一个交易对的市场概况。
type PairReport struct {
	ChainID      string  `json:"chain_id"`
	DexID        string  `json:"dex_id"`
	PairAddress  string  `json:"pair_address"`
	BaseSymbol   string  `json:"base_symbol"`
	QuoteSymbol  string  `json:"quote_symbol"`
	PriceUSD     float64 `json:"price_usd"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	Volume24h    float64 `json:"volume_24h"`
}

// PairsClient 调用 DexScreener 风格的交易对搜索接口。
type PairsClient struct {
	baseURL    string
	httpClient *http.Client
}

// PairsOption 配置交易对搜索客户端。
type PairsOption func(*PairsClient)

// WithPairsBaseURL 覆盖接口地址，仅用于测试。
func WithPairsBaseURL(baseURL string) PairsOption {
	return func(c *PairsClient) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewPairsClient 创建交易对搜索客户端。
func NewPairsClient(opts ...PairsOption) *PairsClient {
	c := &PairsClient{
		baseURL:    defaultDexScreenerBaseURL,
		httpClient: &http.Client{Timeout: defaultLookupTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Search 按关键词搜索交易对，结果按流动性从高到低排列。
func (c *PairsClient) Search(ctx context.Context, query string) ([]PairReport, error) {
	endpoint := fmt.Sprintf("%s/dex/search?q=%s", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构建行情请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求行情接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("行情接口返回状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Pairs []struct {
			ChainID     string `json:"chainId"`
			DexID       string `json:"dexId"`
			PairAddress string `json:"pairAddress"`
			PriceUSD    string `json:"priceUsd"`
			BaseToken   struct {
				Symbol string `json:"symbol"`
			} `json:"baseToken"`
			QuoteToken struct {
				Symbol string `json:"symbol"`
			} `json:"quoteToken"`
			Liquidity struct {
				USD float64 `json:"usd"`
			} `json:"liquidity"`
			Volume struct {
				H24 float64 `json:"h24"`
			} `json:"volume"`
		} `json:"pairs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析行情响应失败: %w", err)
	}

	reports := make([]PairReport, 0, len(decoded.Pairs))
	for _, pair := range decoded.Pairs {
		price, _ := strconv.ParseFloat(strings.TrimSpace(pair.PriceUSD), 64)
		reports = append(reports, PairReport{
			ChainID:      pair.ChainID,
			DexID:        pair.DexID,
			PairAddress:  pair.PairAddress,
			BaseSymbol:   pair.BaseToken.Symbol,
			QuoteSymbol:  pair.QuoteToken.Symbol,
			PriceUSD:     price,
			LiquidityUSD: pair.Liquidity.USD,
			Volume24h:    pair.Volume.H24,
		})
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].LiquidityUSD > reports[j].LiquidityUSD
	})
	return reports, nil
}
