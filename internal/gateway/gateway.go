// Package gateway assembles the connected apps gateway from its config:
// backing services, the app catalog with its built-in handlers, the service
// and the HTTP router.
package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tempo/internal/apps/catalog"
	"tempo/internal/apps/events"
	apphandler "tempo/internal/apps/handler"
	appmetrics "tempo/internal/apps/metrics"
	"tempo/internal/apps/oauthstate"
	"tempo/internal/apps/providers/builtin"
	"tempo/internal/apps/resolver"
	"tempo/internal/apps/service"
	instancestore "tempo/internal/apps/store/instance"
	pendingstore "tempo/internal/apps/store/pending"
	"tempo/internal/apps/workers/reaper"
	"tempo/internal/platform/config"
	"tempo/internal/platform/database"
	"tempo/internal/platform/health"
	"tempo/internal/platform/kafka/producer"
	"tempo/internal/platform/redis"
	httptransport "tempo/internal/transport/http"
	"tempo/pkg/platform/middleware/ratelimit"
	request "tempo/pkg/platform/middleware/request"
	"tempo/pkg/platform/sealing"
	"tempo/pkg/platform/tracer"
)

const readHeaderTimeout = 10 * time.Second

// Infra holds the optional backing services; nil fields are not configured.
type Infra struct {
	DB       *database.Pool
	Redis    *redis.Client
	Producer *producer.Producer
}

// Close releases whatever Connect opened.
func (i *Infra) Close(log *slog.Logger) {
	if i.Producer != nil {
		if err := i.Producer.Close(); err != nil {
			log.Warn("closing kafka producer", "error", err)
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			log.Warn("closing redis", "error", err)
		}
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			log.Warn("closing database", "error", err)
		}
	}
}

// Connect opens the backing services the config names.
func Connect(cfg config.Server) (*Infra, error) {
	var (
		in  Infra
		err error
	)
	if in.DB, err = database.New(cfg.Database); err != nil {
		return nil, err
	}
	if in.Redis, err = redis.New(cfg.Redis); err != nil {
		in.Close(slog.Default())
		return nil, err
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pcfg := producer.DefaultConfig(strings.Join(cfg.Kafka.Brokers, ","))
		if in.Producer, err = producer.New(pcfg, slog.Default()); err != nil {
			in.Close(slog.Default())
			return nil, err
		}
	}
	return &in, nil
}

// Gateway is the assembled process: an HTTP server and the background reaper.
type Gateway struct {
	Server *http.Server
	Reaper *reaper.Reaper
}

// Build wires the catalog, stores, service and router. Metrics register
// with reg.
func Build(cfg config.Server, log *slog.Logger, in *Infra, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Gateway, error) {
	registry := catalog.MustNewRegistry(catalog.Defaults()...)
	res := resolver.New(registry)
	err := res.Register(builtin.Handlers(builtin.Config{
		PublicBaseURL:      cfg.PublicBaseURL,
		GoogleClientID:     cfg.Providers.GoogleClientID,
		GoogleClientSecret: cfg.Providers.GoogleClientSecret,
		ZoomClientID:       cfg.Providers.ZoomClientID,
		ZoomClientSecret:   cfg.Providers.ZoomClientSecret,
	})...)
	if err != nil {
		return nil, fmt.Errorf("register app handler: %w", err)
	}
	if err := res.SelfCheck(); err != nil {
		return nil, fmt.Errorf("app handlers incomplete: %w", err)
	}
	log.Info("app handlers registered", "capabilities", res.Capabilities())

	metrics := appmetrics.New(reg)

	instances, pending, err := buildStores(cfg, log, in)
	if err != nil {
		return nil, err
	}

	signer, err := oauthstate.NewSigner(cfg.StateSigningKey, cfg.Apps.PendingAuthTTL)
	if err != nil {
		return nil, fmt.Errorf("oauth state signer: %w", err)
	}
	if cfg.UsesDevSigningKey() {
		log.Warn("STATE_SIGNING_KEY not set, using the development key")
	}

	var publisher service.Publisher = events.NewLogPublisher(log)
	if in.Producer != nil {
		publisher = events.NewKafkaPublisher(in.Producer, cfg.Kafka.Topic, func(error) {
			metrics.IncrementEventPublishFailure()
		})
	}

	svc, err := service.New(instances, pending, registry, res, signer,
		service.Config{
			HandlerTimeout:    cfg.Apps.HandlerTimeout,
			DeleteHookTimeout: cfg.Apps.DeleteHookTimeout,
			PublicBaseURL:     cfg.PublicBaseURL,
		},
		service.WithLogger(log),
		service.WithMetrics(metrics),
		service.WithTracer(tracer.NewOTel(nil)),
		service.WithPublisher(publisher),
	)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg.Webhooks.RatePerSecond, cfg.Webhooks.Burst, httptransport.WebhookKey, log)
	rp, err := reaper.New(pending,
		reaper.WithInterval(cfg.Apps.PendingReapInterval),
		reaper.WithLogger(log),
		reaper.WithMetrics(metrics),
		reaper.WithSweeper(limiter, cfg.Webhooks.LimiterIdle),
	)
	if err != nil {
		return nil, err
	}

	hh := health.New(cfg.Environment)
	hh.RegisterDegradation("app_handlers", svc.FailingApps)
	if in.DB != nil {
		hh.RegisterCheck("database", in.DB.Health)
		if err := reg.Register(in.DB.Collector()); err != nil {
			return nil, fmt.Errorf("register database metrics: %w", err)
		}
	}
	if in.Redis != nil {
		hh.RegisterCheck("redis", in.Redis.Health)
		if err := reg.Register(in.Redis.Collector()); err != nil {
			return nil, fmt.Errorf("register redis metrics: %w", err)
		}
	}
	if in.Producer != nil {
		hh.RegisterCheck("kafka", in.Producer.Health)
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Apps:           apphandler.New(svc, log, apphandler.WithOpenerOrigin(cfg.AdminOrigin)),
		Health:         hh,
		WebhookLimiter: limiter,
		Metrics:        request.NewMetrics(reg),
		Gatherer:       gatherer,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RequestTimeout: cfg.Apps.HandlerTimeout + 5*time.Second,
		Logger:         log,
	})

	return &Gateway{
		Server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		Reaper: rp,
	}, nil
}

// pendingStore is what both the service and the reaper need.
type pendingStore interface {
	service.PendingStore
	reaper.PendingStore
}

func buildStores(cfg config.Server, log *slog.Logger, in *Infra) (service.InstanceStore, pendingStore, error) {
	var (
		instances service.InstanceStore
		pending   pendingStore
	)
	switch {
	case in.DB != nil:
		var opts []instancestore.PostgresOption
		if len(cfg.DataEncryptionKey) > 0 {
			sealer, err := sealing.New(cfg.DataEncryptionKey)
			if err != nil {
				return nil, nil, fmt.Errorf("DATA_ENCRYPTION_KEY: %w", err)
			}
			opts = append(opts, instancestore.WithSealer(sealer))
		} else {
			log.Warn("DATA_ENCRYPTION_KEY not set, app data is stored unencrypted")
		}
		instances = instancestore.NewPostgres(in.DB.DB(), opts...)
		pending = pendingstore.NewPostgres(in.DB.DB())
	default:
		log.Warn("DATABASE_URL not set, using in-memory stores")
		instances = instancestore.NewInMemory()
		pending = pendingstore.NewInMemory()
	}
	if in.Redis != nil {
		pending = pendingstore.NewRedis(in.Redis.Client)
	}
	return instances, pending, nil
}
