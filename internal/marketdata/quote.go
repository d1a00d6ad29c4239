package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "ChainFlow-Gateway/internal/errors"
)

// Quote 是一次兑换询价的归一化结果。
type Quote struct {
	Operation    string   `json:"operation"`
	Network      string   `json:"network"`
	InputToken   string   `json:"input_token"`
	InputAmount  string   `json:"input_amount"`
	OutputToken  string   `json:"output_token"`
	OutputAmount string   `json:"output_amount"`
	Path         []string `json:"path"`
	Fees         string   `json:"fees"`
	ExchangeRate string   `json:"exchange_rate"`
	GasEstimate  string   `json:"gas_estimate,omitempty"`
}

// Request 描述一次询价。
type Request struct {
	InputToken  string
	OutputToken string
	Amount      string
	Network     string
}

func (r Request) cacheKey() string {
	return strings.ToLower(fmt.Sprintf("quote:%s:%s:%s:%s", r.Network, r.InputToken, r.OutputToken, r.Amount))
}

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultNetwork     = "mainnet"
)

// Config 描述行情服务的外部依赖。
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Network string
}

// Service 负责向第三方行情提供方询价。缓存通过构造函数注入，带有限定
// TTL，避免包级全局状态，便于独立测试。
type Service struct {
	baseURL    string
	apiKey     string
	network    string
	httpClient *http.Client
	cache      Cache
}

// NewService 构造行情服务。cache 可为 nil，表示不缓存。
func NewService(cfg Config, cache Cache) (*Service, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "行情服务地址不能为空")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	network := strings.TrimSpace(cfg.Network)
	if network == "" {
		network = defaultNetwork
	}
	return &Service{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		network:    network,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
	}, nil
}

// Quote 返回一次兑换询价，优先命中缓存。
func (s *Service) Quote(ctx context.Context, req Request) (*Quote, error) {
	if strings.TrimSpace(req.InputToken) == "" || strings.TrimSpace(req.OutputToken) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "询价必须指定输入与输出代币")
	}
	if req.Network == "" {
		req.Network = s.network
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, req.cacheKey()); ok {
			return cached, nil
		}
	}

	quote, err := s.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, req.cacheKey(), quote)
	}
	return quote, nil
}

func (s *Service) fetch(ctx context.Context, req Request) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/v1/quote?%s", s.baseURL, url.Values{
		"in":      {req.InputToken},
		"out":     {req.OutputToken},
		"amount":  {req.Amount},
		"network": {req.Network},
	}.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQuoteFailure, err, "构建询价请求失败")
	}
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQuoteFailure, err, "请求行情服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeQuoteFailure,
			fmt.Sprintf("行情服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQuoteFailure, err, "解析询价响应失败")
	}
	if quote.Operation == "" {
		quote.Operation = "swap_quote"
	}
	if quote.Network == "" {
		quote.Network = req.Network
	}
	return &quote, nil
}
