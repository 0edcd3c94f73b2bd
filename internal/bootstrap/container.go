package bootstrap

import (
	"context"
	"fmt"
	"log"

	"ai-research-be/internal/config"
	"ai-research-be/internal/handler"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/internal/repository/contract"
	"ai-research-be/internal/repository/implementation"
	"ai-research-be/internal/repository/memory"
	"ai-research-be/internal/service"
	"ai-research-be/internal/websocket"
	"ai-research-be/pkg/llm/factory"
	pktNats "ai-research-be/pkg/nats"
	"ai-research-be/pkg/research"
	"ai-research-be/pkg/research/producers/model"
	"ai-research-be/pkg/research/producers/websearch"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const lifecycleTopic = "research.lifecycle"

type Container struct {
	ResearchHandler *handler.ResearchHandler
	WebSocketHub    *websocket.Hub

	// Background Services (Exposed for main.go to run)
	EventRelay          service.IResearchEventRelay
	SubscriptionService service.ISubscriptionService

	SysLogger logger.ILogger

	natsPub *pktNats.Publisher
	natsSub *pktNats.Subscriber
	rdb     *redis.Client
	pubSub  *gochannel.GoChannel
}

// NewContainer wires the application. db may be nil, in which case the
// subscription comes from token claims only.
func NewContainer(ctx context.Context, db *gorm.DB, cfg *config.Config) (*Container, error) {
	// 1. Loggers
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	wsLogger := logger.NewIsolatedLogger(cfg.App.WsLogFilePath)

	// 2. Producers and mode catalog
	producers, err := buildProducers(cfg)
	if err != nil {
		return nil, err
	}
	catalog, err := research.NewModeCatalog(research.Vocabulary(cfg.Research.ModeVocabulary), producers)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] Mode vocabulary: %s (web=%d models=%d local=%d)",
		cfg.Research.ModeVocabulary, len(producers.Web), len(producers.Models), len(producers.LocalModels))

	aggregator := research.NewAggregator(research.AggregatorConfig{
		Timeout:                cfg.Research.DispatchTimeout,
		CancelGrace:            cfg.Research.CancelGrace,
		MaxConcurrentProducers: cfg.Research.MaxProducerCalls,
	}, sysLogger)

	// 3. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermillLogger,
	)
	lifecyclePublisher := service.NewResearchEventPublisher(lifecycleTopic, pubSub)

	// 4. Infrastructure, every piece optional
	var natsPub *pktNats.Publisher
	var natsSub *pktNats.Subscriber
	if cfg.App.NatsURL != "" {
		natsPub, err = pktNats.NewPublisher(ctx, cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
			natsPub = nil
		}
		natsSub, err = pktNats.NewSubscriber(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
			natsSub = nil
		}
	}

	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		rdb = redis.NewClient(opt)
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
	}

	// 5. Services
	var subscriptionRepo contract.SubscriptionRepository
	if db != nil {
		subscriptionRepo = implementation.NewSubscriptionRepository(db)
	}
	subscriptionService := service.NewSubscriptionService(subscriptionRepo, cfg.Research.SubscriptionCacheTTL, sysLogger)
	if natsSub != nil {
		if err := subscriptionService.Start(ctx, natsSub); err != nil {
			log.Printf("[WARN] Failed to subscribe to subscription events: %v", err)
		}
	}

	var sink service.EventSink
	if natsPub != nil {
		sink = natsPub
	}
	eventRelay := service.NewResearchEventRelay(pubSub, lifecycleTopic, sink, sysLogger)

	// 6. WebSocket Hub
	sessionRepo := memory.NewSessionRepository()
	wsHub := websocket.NewHub(rdb, websocket.SessionDeps{
		Catalog:      catalog,
		Dispatcher:   aggregator,
		CancelGrace:  cfg.Research.CancelGrace,
		Subscription: subscriptionService,
		Registry:     sessionRepo,
		Events:       lifecyclePublisher,
	}, wsLogger)

	researchHandler := handler.NewResearchHandler(wsHub, catalog, sessionRepo, subscriptionService, cfg.Auth.JWTSecret, sysLogger)

	return &Container{
		ResearchHandler:     researchHandler,
		WebSocketHub:        wsHub,
		EventRelay:          eventRelay,
		SubscriptionService: subscriptionService,
		SysLogger:           sysLogger,
		natsPub:             natsPub,
		natsSub:             natsSub,
		rdb:                 rdb,
		pubSub:              pubSub,
	}, nil
}

func buildProducers(cfg *config.Config) (research.ProducerSet, error) {
	var set research.ProducerSet

	if cfg.Research.SearchBaseURL != "" {
		set.Web = append(set.Web, websearch.NewProducer("web", cfg.Research.SearchBaseURL, cfg.Research.SearchMaxResults))
	}

	for _, name := range cfg.Ai.CloudModels {
		provider, err := factory.NewLLMProvider(cfg.Ai.CloudProvider, name, cfg.Ai.CloudBaseURL, cfg.Ai.CloudAPIKey)
		if err != nil {
			return set, fmt.Errorf("cloud model %s: %w", name, err)
		}
		set.Models = append(set.Models, model.NewProducer(provider, "", cfg.Research.ModelConfidence))
	}

	for _, name := range cfg.Ai.LocalModels {
		provider, err := factory.NewLLMProvider("ollama", name, cfg.Ai.OllamaBaseURL, "")
		if err != nil {
			return set, fmt.Errorf("local model %s: %w", name, err)
		}
		set.LocalModels = append(set.LocalModels, model.NewProducer(provider, "local:"+name, cfg.Research.ModelConfidence))
	}

	// Without a cloud provider the local models back the depth modes.
	if len(set.Models) == 0 && research.Vocabulary(cfg.Research.ModeVocabulary) == research.VocabularyDepth {
		set.Models = set.LocalModels
	}
	return set, nil
}

// Close releases infrastructure after the hub has been shut down.
func (c *Container) Close() {
	if c.pubSub != nil {
		c.pubSub.Close()
	}
	if c.natsSub != nil {
		c.natsSub.Close()
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	if c.rdb != nil {
		c.rdb.Close()
	}
	c.SysLogger.Sync()
}
