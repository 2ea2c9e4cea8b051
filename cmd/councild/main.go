package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/api"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chain"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/config"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/council"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/deliberate"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/executor"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/feed"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/llm"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/llm/openai"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/observability/alerting"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/observability/metrics"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/relay"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/storage/mysql"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/tokenscan"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/topics"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

// main 是议事会守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("councild 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("COUNCIL_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "council.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 链描述在启动阶段整体加载并校验，失败立即退出。
	defs, err := chain.LoadDefinitions(cfg.Chains.Config)
	if err != nil {
		return err
	}
	registry, err := chain.NewRegistry(defs, chain.Defaults{
		EVM:    cfg.Chains.DefaultEVM,
		Solana: cfg.Chains.DefaultSolana,
		Dex:    cfg.Chains.DefaultDex,
	})
	if err != nil {
		return err
	}

	store, err := createProposalStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	eventRelay, err := createRelay(cfg)
	if err != nil {
		return err
	}
	defer eventRelay.Close()

	model, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	topicSource, err := topics.LoadStaticSource(cfg.Topics.Source,
		topics.WithMaxTopics(cfg.Topics.MaxResults))
	if err != nil {
		return err
	}

	var security council.SecurityLookup
	var gate *tokenscan.Gate
	var deciderOpts []council.DeciderOption
	if cfg.TokenScan.Enabled {
		security = tokenscan.NewSecurityClient()
		gate = tokenscan.NewGate(cfg.TokenScan.MaxTaxRate)
		deciderOpts = append(deciderOpts, council.WithPairsLookup(tokenscan.NewPairsClient()))
	}
	decider := council.NewDecider(model, registry, security, gate, deciderOpts...)
	summarizer := council.NewSummarizer(model)

	hub := feed.NewHub(feed.WithSubscriberBuffer(cfg.Hub.SubscriberBuffer))
	defer hub.Close()

	coordinatorOpts := []council.CoordinatorOption{
		council.WithRelay(eventRelay),
		council.WithAlerts(createAlertDispatcher(cfg)),
		council.WithSnapshotReplay(cfg.Hub.ReplayOnAttach),
	}

	var evmExecutor *executor.EVMExecutor
	if cfg.Executor.Enabled {
		evmExecutor, err = executor.NewEVMExecutor(registry, executor.LoggingEVMSubmitter{}, cfg.Executor.Recipient)
		if err != nil {
			return err
		}
		solanaExecutor := executor.NewSolanaExecutor(registry, executor.LoggingSolanaSubmitter{})
		coordinatorOpts = append(coordinatorOpts,
			council.WithExecutor(executor.NewDispatcher(registry, evmExecutor, solanaExecutor)))
	}
	defer func() {
		if evmExecutor != nil {
			evmExecutor.Close()
		}
	}()

	coordinator := council.NewCoordinator(hub, coordinatorOpts...)
	engine := multisig.NewEngine(store, cfg.Multisig.RequiredSignatures, cfg.Multisig.ProposalTTL(),
		multisig.WithObserver(coordinator.HandleProposalUpdate),
		multisig.WithValidator(multisig.RegistryValidator(registry)),
		multisig.WithSweepInterval(cfg.Multisig.SweepInterval()))
	coordinator.BindEngine(engine)

	// 先恢复历史提案再开启过期巡检，避免刚恢复的提案漏检。
	if err := engine.Restore(ctx); err != nil {
		return err
	}
	engine.Start(ctx)

	agents := make([]deliberate.Agent, 0, len(cfg.Agents))
	for _, agentCfg := range cfg.Agents {
		agents = append(agents, deliberate.Agent{
			ID:           agentCfg.ID,
			Name:         agentCfg.Name,
			Role:         agentCfg.Role,
			SocialHandle: agentCfg.SocialHandle,
		})
	}
	if len(agents) == 0 {
		return errors.New("至少需要配置一个智能体")
	}

	scheduler := deliberate.NewScheduler(agents, decider, summarizer, topicSource, coordinator,
		cfg.Scheduler.RoundsPerDay, cfg.Scheduler.TotalDays, cfg.Scheduler.MaxInteractionsPerSynopsis,
		deliberate.WithDecideTimeout(cfg.Scheduler.DecideTimeout()),
		deliberate.WithPauseBetweenDays(cfg.Scheduler.PauseBetweenDays()))

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil &&
				!errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务退出", "error", err)
			}
		}()
	}

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- scheduler.Run(ctx)
	}()

	server := api.NewServer(cfg.Server.Address, engine, coordinator)
	serveErr := server.Start(ctx)

	if err := <-schedErr; err != nil {
		return err
	}
	return serveErr
}

// createProposalStore 根据配置选择提案持久化后端。
func createProposalStore(ctx context.Context, cfg *config.Config) (multisig.Store, error) {
	storeCfg := cfg.Multisig.Store
	switch storeCfg.Driver {
	case "", "memory":
		return multisig.NewMemoryStore(), nil
	case "mysql":
		return mysql.NewProposalRepository(ctx, mysql.Config{
			DSN:             storeCfg.DSN,
			MaxOpenConns:    storeCfg.MaxOpenConns,
			MaxIdleConns:    storeCfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(storeCfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(storeCfg.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的提案存储驱动: %s", storeCfg.Driver)
	}
}

// createRelay 根据配置选择事件镜像驱动。
func createRelay(cfg *config.Config) (relay.Relay, error) {
	switch cfg.Relay.Driver {
	case "", "none":
		return relay.Noop{}, nil
	case "redis":
		return relay.NewRedisRelay(relay.RedisConfig{
			Address:  cfg.Relay.Redis.Address,
			Password: cfg.Relay.Redis.Password,
			DB:       cfg.Relay.Redis.DB,
			Stream:   cfg.Relay.Redis.Stream,
			MaxLen:   cfg.Relay.Redis.MaxLen,
		})
	case "rabbitmq":
		return relay.NewRabbitMQRelay(relay.RabbitMQConfig{
			URL:        cfg.Relay.RabbitMQ.URL,
			Exchange:   cfg.Relay.RabbitMQ.Exchange,
			RoutingKey: cfg.Relay.RabbitMQ.RoutingKey,
		})
	default:
		return nil, fmt.Errorf("未知的事件镜像驱动: %s", cfg.Relay.Driver)
	}
}

// createAlertDispatcher 根据配置组装告警通知渠道。未配置任何渠道时返回
// 空分发器，告警只落日志。
func createAlertDispatcher(cfg *config.Config) *alerting.FanoutDispatcher {
	var notifiers []alerting.Notifier
	if email := cfg.Alerting.Email; email.SMTPAddr != "" && len(email.To) > 0 {
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender: &alerting.SMTPEmailSender{
				Addr:     email.SMTPAddr,
				Username: email.Username,
				Password: email.Password,
				From:     email.From,
			},
			To:            email.To,
			SubjectPrefix: email.SubjectPrefix,
		})
	}
	if dingtalk := cfg.Alerting.DingTalk; dingtalk.Webhook != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: alerting.NewDingTalkWebhook(dingtalk.Webhook),
		})
	}
	if slack := cfg.Alerting.Slack; slack.Webhook != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    alerting.NewSlackWebhook(slack.Webhook),
			ChannelID: slack.Channel,
		})
	}
	return alerting.NewFanout(notifiers...)
}

// createLLMClient 根据配置创建大模型客户端。
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := cfg.LLM.OpenAI.APIKey
		if apiKey == "" {
			envName := cfg.LLM.OpenAI.APIKeyEnv
			if envName == "" {
				envName = "OPENAI_API_KEY"
			}
			apiKey = os.Getenv(envName)
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型提供方: %s", cfg.LLM.Provider)
	}
}
