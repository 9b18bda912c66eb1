package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"

	"annotation-collab-be/internal/config"
	"annotation-collab-be/internal/controller"
	"annotation-collab-be/internal/handler"
	"annotation-collab-be/internal/persistence"
	"annotation-collab-be/internal/pkg/logger"
	"annotation-collab-be/internal/pkg/mailer"
	"annotation-collab-be/internal/pkg/serverutils"
	"annotation-collab-be/internal/repository/contract"
	"annotation-collab-be/internal/repository/implementation"
	"annotation-collab-be/internal/repository/memory"
	"annotation-collab-be/internal/service"
	"annotation-collab-be/internal/websocket"
	"annotation-collab-be/pkg/export"
	pktNats "annotation-collab-be/pkg/nats"
	"annotation-collab-be/pkg/shareddoc"
	"annotation-collab-be/pkg/taxonomy"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	DocumentController controller.IDocumentController
	CollabHandler      *handler.CollabHandler

	// Background services, started by Start
	ActivityService service.IActivityService
	AlertConsumer   *service.AlertConsumer

	Hub         *websocket.Hub
	Persistence *persistence.Manager
	Logger      logger.ILogger

	collabLogger logger.ILogger
	pubSub       *gochannel.GoChannel
	natsConn     *nats.Conn
	natsPub      *pktNats.Publisher
	natsSub      *pktNats.Subscriber
	rdb          *redis.Client
	cancel       context.CancelFunc
}

// NewContainer wires the application. db may be nil, in which case documents
// live in memory and the postgres snapshot driver is unavailable.
func NewContainer(db *gorm.DB, cfg *config.Config) (*Container, error) {
	// 1. Core facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	collabLogger := logger.NewIsolatedLogger(cfg.App.CollabLogFilePath)

	var documentRepo contract.DocumentRepository
	if db != nil {
		documentRepo = implementation.NewDocumentRepository(db)
	} else {
		log.Printf("[WARN] No database configured, documents are kept in memory")
		documentRepo = memory.NewDocumentRepository()
	}

	// 2. Infrastructure
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{Addr: cfg.Redis.URL}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}

	var (
		natsConn *nats.Conn
		natsPub  *pktNats.Publisher
		natsSub  *pktNats.Subscriber
	)
	if cfg.Nats.Enabled {
		natsConn, err = pktNats.Connect(cfg.Nats.URL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS: %v", err)
		} else {
			if natsPub, err = pktNats.NewPublisher(natsConn); err != nil {
				log.Printf("[WARN] Failed to create NATS publisher: %v", err)
			}
			if natsSub, err = pktNats.NewSubscriber(natsConn); err != nil {
				log.Printf("[WARN] Failed to create NATS subscriber: %v", err)
			}
		}
	}
	var eventPublisher service.EventPublisher
	if natsPub != nil {
		eventPublisher = natsPub
	}

	// 3. Persistence
	var store persistence.SnapshotStore
	switch cfg.Persistence.Driver {
	case "redis":
		store = persistence.NewRedisStore(rdb)
	case "postgres":
		if db == nil {
			return nil, errors.New("PERSIST_DRIVER=postgres requires DB_CONNECTION_STRING")
		}
		store = persistence.NewGormStore(db)
	case "memory":
		store = persistence.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown PERSIST_DRIVER %q", cfg.Persistence.Driver)
	}

	var emailService mailer.IEmailService
	if cfg.SMTP.Host != "" && cfg.Persistence.AlertEmail != "" {
		emailService = mailer.NewEmailService(
			cfg.SMTP.Host,
			cfg.SMTP.Port,
			cfg.SMTP.Email,
			cfg.SMTP.Password,
			cfg.SMTP.Email,
			cfg.SMTP.SenderName,
			sysLogger,
		)
	}

	// Alerts go through the bus when there is one, so every instance's
	// failures reach a single mailer.
	var (
		alerter       persistence.Alerter
		alertConsumer *service.AlertConsumer
	)
	switch {
	case eventPublisher != nil:
		alerter = persistence.NewEventAlerter(eventPublisher)
		if emailService != nil && natsSub != nil {
			alertConsumer = service.NewAlertConsumer(natsSub, emailService, cfg.Persistence.AlertEmail, sysLogger)
		}
	case emailService != nil:
		alerter = persistence.NewMailAlerter(emailService, cfg.Persistence.AlertEmail)
	}

	// 4. Event bus
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NewStdLogger(false, false),
	)
	activityService := service.NewActivityService(pubSub, eventPublisher, collabLogger)

	// 5. Collaboration
	tags := taxonomy.NewClient(cfg.Taxonomy.URL, cfg.Taxonomy.CacheTTL, cfg.Taxonomy.Timeout, sysLogger)
	loader := service.NewDocumentLoader(documentRepo, store, tags, cfg.App.InstanceID)

	// The manager reads snapshots from the hub and the hub marks documents
	// dirty on the manager.
	var hub *websocket.Hub

	var relay websocket.Relay
	writeStore := store
	if cfg.Redis.RelayEnabled {
		relay = websocket.NewRedisRelay(rdb, cfg.App.InstanceID, collabLogger)
		// Instances share snapshot keys, so every write folds in what the
		// others stored and hands their ops back to the local room.
		writeStore = persistence.NewMergingStore(store, shareddoc.MergeSnapshots, func(id string, stored []byte) {
			hub.MergeStored(id, stored)
		})
	}

	manager := persistence.NewManager(
		persistence.SourceFunc(func(id string) ([]byte, bool) { return hub.Snapshot(id) }),
		writeStore,
		alerter,
		persistence.Options{
			Debounce:       cfg.Persistence.Debounce,
			WriteTimeout:   cfg.Persistence.WriteTimeout,
			AlertThreshold: cfg.Persistence.AlertThreshold,
			MaxBackoff:     cfg.Persistence.MaxBackoff,
		},
		collabLogger,
	)
	hub = websocket.NewHub(loader, manager, activityService, relay, websocket.Options{
		InstanceID:     cfg.App.InstanceID,
		ReconnectGrace: cfg.Collab.ReconnectGrace,
		PresenceTTL:    cfg.Collab.PresenceTTL,
		ChunkTimeout:   cfg.Collab.ChunkTimeout,
		MaxChunkBytes:  cfg.Collab.MaxChunkBytes,
		MaxChunks:      cfg.Collab.MaxChunks,
		MaxBacklog:     cfg.Collab.MaxBacklog,
		MaxMessageSize: cfg.Collab.MaxMessageSize,
	}, collabLogger)

	// 6. Services
	documentService := service.NewDocumentService(documentRepo, loader, hub, eventPublisher, sysLogger)
	exportService := service.NewExportService(documentRepo, loader, hub, export.DefaultRegistry(cfg.Export.PandocPath), sysLogger)

	// 7. Controllers
	auth := serverutils.NewJwtMiddleware(cfg.Auth.JWTSecret)
	return &Container{
		DocumentController: controller.NewDocumentController(documentService, exportService, auth),
		CollabHandler:      handler.NewCollabHandler(hub, cfg.Auth.JWTSecret, collabLogger),

		ActivityService: activityService,
		AlertConsumer:   alertConsumer,

		Hub:         hub,
		Persistence: manager,
		Logger:      sysLogger,

		collabLogger: collabLogger,
		pubSub:       pubSub,
		natsConn:     natsConn,
		natsPub:      natsPub,
		natsSub:      natsSub,
		rdb:          rdb,
	}, nil
}

// Start launches the background consumers and the cross-instance relay.
func (c *Container) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.ActivityService.Consume(ctx); err != nil {
		return fmt.Errorf("start activity consumer: %w", err)
	}
	if c.AlertConsumer != nil {
		if err := c.AlertConsumer.Start(ctx); err != nil {
			return fmt.Errorf("start alert consumer: %w", err)
		}
	}
	go func() {
		if err := c.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.Logger.Error("Bootstrap", "Relay stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

// Shutdown stops the rooms, flushes dirty documents and releases
// connections. It returns the flush errors.
func (c *Container) Shutdown(ctx context.Context) error {
	c.Hub.Close()
	flushErr := c.Persistence.Shutdown(ctx)

	if c.cancel != nil {
		c.cancel()
	}
	if c.natsSub != nil {
		c.natsSub.Close()
	}
	if err := c.pubSub.Close(); err != nil {
		c.Logger.Warn("Bootstrap", "Failed to close event bus", map[string]interface{}{"error": err.Error()})
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	if c.natsConn != nil {
		c.natsConn.Close()
	}
	if err := c.rdb.Close(); err != nil {
		c.Logger.Warn("Bootstrap", "Failed to close redis", map[string]interface{}{"error": err.Error()})
	}

	_ = c.collabLogger.Sync()
	_ = c.Logger.Sync()
	return flushErr
}
