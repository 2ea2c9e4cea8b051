package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了议事会守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Log       LogConfig       `json:"log"`
	Server    ServerConfig    `json:"server"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Multisig  MultisigConfig  `json:"multisig"`
	Hub       HubConfig       `json:"hub"`
	Relay     RelayConfig     `json:"relay"`
	Chains    ChainsConfig    `json:"chains"`
	LLM       LLMConfig       `json:"llm"`
	Topics    TopicsConfig    `json:"topics"`
	TokenScan TokenScanConfig `json:"tokenscan"`
	Executor  ExecutorConfig  `json:"executor"`
	Alerting  AlertingConfig  `json:"alerting"`
	Agents    []AgentConfig   `json:"agents"`
}

// AlertingConfig 配置告警通知渠道。未填写 webhook 或 SMTP 地址的渠道
// 不会启用。
type AlertingConfig struct {
	Email    EmailAlertConfig    `json:"email"`
	DingTalk DingTalkAlertConfig `json:"dingtalk"`
	Slack    SlackAlertConfig    `json:"slack"`
}

// EmailAlertConfig 描述邮件告警的 SMTP 参数与收件人。
type EmailAlertConfig struct {
	SMTPAddr      string   `json:"smtp_addr"`
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	From          string   `json:"from"`
	To            []string `json:"to"`
	SubjectPrefix string   `json:"subject_prefix"`
}

// DingTalkAlertConfig 描述钉钉机器人 webhook。
type DingTalkAlertConfig struct {
	Webhook string `json:"webhook"`
}

// SlackAlertConfig 描述 Slack incoming webhook 与目标频道。
type SlackAlertConfig struct {
	Webhook string `json:"webhook"`
	Channel string `json:"channel"`
}

// TokenScanConfig 控制代币安全分析与风险闸门。
type TokenScanConfig struct {
	Enabled    bool    `json:"enabled"`
	MaxTaxRate float64 `json:"max_tax_rate"`
}

// ExecutorConfig 控制已授权提案的链上执行。默认只构造交易并记录日志，
// 不做任何真实提交。
type ExecutorConfig struct {
	Enabled   bool   `json:"enabled"`
	Recipient string `json:"recipient"`
}

// LogConfig 控制日志级别、格式与输出目标。
type LogConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制审计日志的滚动策略。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// ServerConfig 控制对外 HTTP 服务的监听地址等参数。MetricsAddress 非空
// 时会在独立端口额外暴露 /metrics。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// SchedulerConfig 控制每日讨论的节奏与规模。
type SchedulerConfig struct {
	RoundsPerDay               int `json:"rounds_per_day"`
	TotalDays                  int `json:"total_days"`
	MaxInteractionsPerSynopsis int `json:"max_interactions_per_synopsis"`
	DecideTimeoutSeconds       int `json:"decide_timeout_seconds"`
	PauseBetweenDaysSeconds    int `json:"pause_between_days_seconds"`
}

// DecideTimeout 返回单次智能体决策调用的超时时间。
func (c SchedulerConfig) DecideTimeout() time.Duration {
	return time.Duration(c.DecideTimeoutSeconds) * time.Second
}

// PauseBetweenDays 返回相邻模拟日之间的停顿。
func (c SchedulerConfig) PauseBetweenDays() time.Duration {
	return time.Duration(c.PauseBetweenDaysSeconds) * time.Second
}

// MultisigConfig 控制多签提案引擎的行为。
type MultisigConfig struct {
	RequiredSignatures   int                 `json:"required_signatures"`
	ProposalTTLMinutes   int                 `json:"proposal_ttl_minutes"`
	SweepIntervalSeconds int                 `json:"sweep_interval_seconds"`
	Store                ProposalStoreConfig `json:"store"`
}

// ProposalTTL 返回提案的有效期。
func (c MultisigConfig) ProposalTTL() time.Duration {
	return time.Duration(c.ProposalTTLMinutes) * time.Minute
}

// SweepInterval 返回过期巡检的间隔。
func (c MultisigConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// ProposalStoreConfig 选择提案持久化后端，用于进程崩溃后的恢复。
type ProposalStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// HubConfig 控制广播中心对每个订阅者的队列容量等参数。
type HubConfig struct {
	SubscriberBuffer int  `json:"subscriber_buffer"`
	ReplayOnAttach   bool `json:"replay_on_attach"`
}

// RelayConfig 选择向外部系统镜像事件流的驱动。
type RelayConfig struct {
	Driver   string              `json:"driver"`
	Redis    RedisRelayConfig    `json:"redis"`
	RabbitMQ RabbitMQRelayConfig `json:"rabbitmq"`
}

// RedisRelayConfig 描述 Redis 事件镜像的连接参数。
type RedisRelayConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Stream   string `json:"stream"`
	MaxLen   int64  `json:"max_len"`
}

// RabbitMQRelayConfig 描述 RabbitMQ 事件镜像的连接参数。
type RabbitMQRelayConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// ChainsConfig 指向链描述文件以及默认网络/DEX 选择。
type ChainsConfig struct {
	Config        string `json:"config"`
	DefaultEVM    string `json:"default_evm"`
	DefaultSolana string `json:"default_solana"`
	DefaultDex    string `json:"default_dex"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述通过 OpenAI 兼容接口完成推理时所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回调用大模型的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TopicsConfig 指向议题库文件。MaxResults 限制参与轮换的议题数量，
// 0 表示不限制。
type TopicsConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// AgentConfig 描述一个参与讨论的智能体。
type AgentConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	SocialHandle string `json:"social_handle"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Scheduler.RoundsPerDay <= 0 {
		c.Scheduler.RoundsPerDay = 2
	}
	if c.Scheduler.TotalDays <= 0 {
		c.Scheduler.TotalDays = 1
	}
	if c.Scheduler.MaxInteractionsPerSynopsis <= 0 {
		c.Scheduler.MaxInteractionsPerSynopsis = 20
	}
	if c.Scheduler.DecideTimeoutSeconds <= 0 {
		c.Scheduler.DecideTimeoutSeconds = 60
	}

	// 签名数下限为 1；未配置时沿用 min(智能体数量, 2)。
	if c.Multisig.RequiredSignatures <= 0 {
		c.Multisig.RequiredSignatures = 2
		if len(c.Agents) == 1 {
			c.Multisig.RequiredSignatures = 1
		}
	}
	if c.Multisig.ProposalTTLMinutes <= 0 {
		c.Multisig.ProposalTTLMinutes = 30
	}
	if c.Multisig.SweepIntervalSeconds <= 0 {
		c.Multisig.SweepIntervalSeconds = 30
	}
	if c.Multisig.Store.Driver == "" {
		c.Multisig.Store.Driver = "memory"
	}

	if c.Hub.SubscriberBuffer <= 0 {
		c.Hub.SubscriberBuffer = 64
	}

	if c.Chains.Config == "" {
		c.Chains.Config = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Chains.Config) {
		c.Chains.Config = filepath.Join(baseDir, c.Chains.Config)
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}

	if c.Topics.Source != "" && !filepath.IsAbs(c.Topics.Source) {
		c.Topics.Source = filepath.Join(baseDir, c.Topics.Source)
	}
}
