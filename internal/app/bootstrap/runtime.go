package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/appointment-saga/cmd/mainconfig"
	"github.com/wolfman30/appointment-saga/internal/appointments"
	appconfig "github.com/wolfman30/appointment-saga/internal/config"
	"github.com/wolfman30/appointment-saga/internal/countries"
	"github.com/wolfman30/appointment-saga/internal/events"
	"github.com/wolfman30/appointment-saga/internal/observability/metrics"
	"github.com/wolfman30/appointment-saga/internal/queue"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

const (
	memoryQueueBuffer = 1024
	statusQueueName   = "appointment-status"
)

// Runtime holds every saga component built from one configuration. The API,
// the worker and the Lambdas each use the parts they need.
type Runtime struct {
	Config      *appconfig.Config
	Logger      *logging.Logger
	Metrics     *metrics.SagaMetrics
	Records     appointments.RecordStore
	Countries   *countries.Registry
	Router      *events.FanoutRouter
	StatusQueue queue.Client
	Resolver    countries.ScheduleResolver
	Journal     events.Journal

	closers []func() error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
	awsConfig  *aws.Config
}

// WithRegisterer registers saga metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) {
		o.registerer = reg
	}
}

// WithAWSConfig skips loading the AWS SDK configuration from the environment.
func WithAWSConfig(cfg aws.Config) Option {
	return func(o *buildOptions) {
		o.awsConfig = &cfg
	}
}

// Build wires stores, queues, the schedule resolver and the journal from cfg.
// On error every resource opened so far is released.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts ...Option) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if len(cfg.Countries) == 0 {
		return nil, fmt.Errorf("bootstrap: at least one country must be configured")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	rt = &Runtime{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.NewSagaMetrics(o.registerer),
		Countries: countries.NewRegistry(),
	}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		if o.awsConfig != nil {
			awsCfg = *o.awsConfig
		} else if awsCfg, err = mainconfig.LoadAWSConfig(ctx, cfg); err != nil {
			return rt, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
	}

	if rt.Records, err = rt.buildRecordStore(ctx, awsCfg); err != nil {
		return rt, err
	}
	queues, err := rt.buildQueues(awsCfg)
	if err != nil {
		return rt, err
	}
	rt.StatusQueue = queues.status

	pools := map[string]*pgxpool.Pool{}
	for _, cc := range cfg.Countries {
		store, err := rt.buildDetailStore(ctx, cc, pools)
		if err != nil {
			return rt, err
		}
		if err := rt.Countries.Register(countries.Country{Code: cc.Code, Queue: queues.fanout[cc.Code], Store: store}); err != nil {
			return rt, fmt.Errorf("bootstrap: %w", err)
		}
	}
	rt.Router = events.NewFanoutRouter(rt.Countries.Routes(), logger)
	rt.Resolver = rt.buildResolver(ctx)
	rt.Journal = rt.buildJournal()

	logger.Info("saga runtime ready",
		"countries", rt.Countries.Codes(),
		"record_store", cfg.RecordStore,
		"queue_backend", cfg.QueueBackend,
	)
	return rt, nil
}

// Close releases every connection the runtime opened, in reverse order.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func (rt *Runtime) onClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Service returns the saga initiator.
func (rt *Runtime) Service() *appointments.Service {
	return appointments.NewService(rt.Records, rt.Router, rt.Logger,
		appointments.WithJournal(rt.Journal),
		appointments.WithServiceMetrics(rt.Metrics),
	)
}

// Validator accepts requests for the configured countries.
func (rt *Runtime) Validator() *appointments.Validator {
	return appointments.NewValidator(rt.Countries.Codes())
}

// Reconciler returns the status channel consumer.
func (rt *Runtime) Reconciler() *appointments.Reconciler {
	return appointments.NewReconciler(rt.Records, rt.Logger,
		appointments.WithRetryUnknown(rt.Config.RetryUnknownEvents),
		appointments.WithReconcilerJournal(rt.Journal),
		appointments.WithReconcilerMetrics(rt.Metrics),
	)
}

// Processor returns the fan-out consumer for code.
func (rt *Runtime) Processor(code string) (*countries.Processor, error) {
	c, ok := rt.Countries.Get(code)
	if !ok {
		return nil, fmt.Errorf("bootstrap: %w: %q", errUnknownCountry, code)
	}
	return countries.NewProcessor(c.Code, c.Store, rt.Resolver, events.NewStatusPublisher(rt.StatusQueue), rt.Logger,
		countries.WithProcessorMetrics(rt.Metrics),
	), nil
}

var errUnknownCountry = errors.New("country not configured")

func (rt *Runtime) buildRecordStore(ctx context.Context, awsCfg aws.Config) (appointments.RecordStore, error) {
	cfg := rt.Config
	switch cfg.RecordStore {
	case "dynamodb":
		client := mainconfig.NewDynamoClient(awsCfg, cfg)
		return appointments.NewDynamoRecordStore(client, cfg.AppointmentsTable, cfg.AppointmentsOwnerIndex, rt.Logger), nil
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("bootstrap: DATABASE_URL required for postgres record store")
		}
		store, err := appointments.OpenPostgresRecordStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		rt.onClose(store.Close)
		return store, nil
	case "memory":
		rt.Logger.Warn("using in-memory record store; records are lost on restart")
		return appointments.NewMemoryRecordStore(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown RECORD_STORE %q", cfg.RecordStore)
	}
}

type queueSet struct {
	fanout map[string]queue.Client
	status queue.Client
}

func (rt *Runtime) buildQueues(awsCfg aws.Config) (queueSet, error) {
	cfg := rt.Config
	set := queueSet{fanout: make(map[string]queue.Client, len(cfg.Countries))}
	maxReceives := cfg.MaxReceives
	if maxReceives <= 0 {
		maxReceives = queue.DefaultMaxReceives
	}

	switch cfg.QueueBackend {
	case "sqs":
		client := mainconfig.NewSQSClient(awsCfg, cfg)
		if cfg.StatusQueueURL == "" {
			return set, fmt.Errorf("bootstrap: STATUS_QUEUE_URL required for sqs backend")
		}
		set.status = queue.NewSQSQueue(client, cfg.StatusQueueURL)
		for _, cc := range cfg.Countries {
			if cc.FanoutQueueURL == "" {
				return set, fmt.Errorf("bootstrap: FANOUT_QUEUE_URL_%s required for sqs backend", cc.Code)
			}
			set.fanout[cc.Code] = queue.NewSQSQueue(client, cc.FanoutQueueURL)
		}
	case "rabbitmq":
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			return set, fmt.Errorf("bootstrap: connect rabbitmq: %w", err)
		}
		rt.onClose(conn.Close)
		status, err := queue.NewRabbitQueue(conn, statusQueueName, maxReceives)
		if err != nil {
			return set, fmt.Errorf("bootstrap: %w", err)
		}
		rt.onClose(status.Close)
		set.status = status
		for _, cc := range cfg.Countries {
			fanout, err := queue.NewRabbitQueue(conn, rabbitFanoutQueue(cc), maxReceives)
			if err != nil {
				return set, fmt.Errorf("bootstrap: %w", err)
			}
			rt.onClose(fanout.Close)
			set.fanout[cc.Code] = fanout
		}
	case "memory":
		set.status = queue.NewMemoryQueue(memoryQueueBuffer, queue.WithMaxReceives(maxReceives))
		for _, cc := range cfg.Countries {
			set.fanout[cc.Code] = queue.NewMemoryQueue(memoryQueueBuffer, queue.WithMaxReceives(maxReceives))
		}
	default:
		return set, fmt.Errorf("bootstrap: unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	return set, nil
}

// rabbitFanoutQueue names a country's RabbitMQ queue; FANOUT_QUEUE_URL_<CC>
// doubles as the queue name when set.
func rabbitFanoutQueue(cc appconfig.CountryConfig) string {
	if name := strings.TrimSpace(cc.FanoutQueueURL); name != "" {
		return name
	}
	return "appointment-fanout-" + strings.ToLower(cc.Code)
}

func (rt *Runtime) buildDetailStore(ctx context.Context, cc appconfig.CountryConfig, pools map[string]*pgxpool.Pool) (countries.DetailStore, error) {
	if strings.TrimSpace(cc.DetailDatabaseURL) == "" {
		rt.Logger.Warn("no detail database configured; using in-memory detail store", "country", cc.Code)
		return countries.NewMemoryDetailStore(), nil
	}
	pool, ok := pools[cc.DetailDatabaseURL]
	if !ok {
		var err error
		pool, err = pgxpool.New(ctx, cc.DetailDatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect detail database for %s: %w", cc.Code, err)
		}
		pools[cc.DetailDatabaseURL] = pool
		rt.onClose(func() error {
			pool.Close()
			return nil
		})
	}
	return countries.NewPostgresDetailStore(pool, cc.DetailTable), nil
}

func (rt *Runtime) buildResolver(ctx context.Context) countries.ScheduleResolver {
	cfg := rt.Config
	var resolver countries.ScheduleResolver
	if cfg.ScheduleResolverURL != "" {
		resolver = countries.NewHTTPResolver(cfg.ScheduleResolverURL, cfg.ScheduleResolverTimeout)
	} else {
		rt.Logger.Info("no schedule service configured; using static schedule resolver")
		resolver = countries.NewStaticResolver()
	}

	if client := BuildRedisClient(ctx, cfg, rt.Logger, true); client != nil {
		rt.onClose(client.Close)
		rt.Logger.Info("schedule cache enabled", "redis", cfg.RedisAddr, "ttl", cfg.ScheduleCacheTTL)
		resolver = countries.NewCachedResolver(resolver, client, cfg.ScheduleCacheTTL, rt.Logger)
	}
	return resolver
}

func (rt *Runtime) buildJournal() events.Journal {
	cfg := rt.Config
	if len(cfg.KafkaBrokers) == 0 {
		return events.NopJournal{}
	}
	journal := events.NewKafkaJournal(cfg.KafkaBrokers, cfg.SagaJournalTopic, rt.Logger)
	rt.onClose(journal.Close)
	rt.Logger.Info("saga journal enabled", "topic", cfg.SagaJournalTopic)
	return journal
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; schedule cache disabled", "error", err)
		client.Close()
		return nil
	}
	return client
}
