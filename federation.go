// Package federation wires the inbound federation pipeline: reference
// resolution, remote actor lifecycle, inbox intake and the queued activity
// processor. Hosts provide the durable queue, persistence and the social
// services; this package owns everything between the wire and those seams.
package federation

import (
	"context"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	federationcommand "github.com/goliatone/go-federation/command"
	"github.com/goliatone/go-federation/core"
	"github.com/goliatone/go-federation/identity"
	"github.com/goliatone/go-federation/inbound"
	"github.com/goliatone/go-federation/person"
	"github.com/goliatone/go-federation/processor"
	"github.com/goliatone/go-federation/resolver"
	sqlstore "github.com/goliatone/go-federation/store/sql"
	"github.com/goliatone/go-federation/transport"
)

type Config = core.Config

type Actor = core.Actor

type InboxTask = core.InboxTask

type SignatureContext = core.SignatureContext

type ActorStore = core.ActorStore

type ActivityLedger = core.ActivityLedger

type TaskEnqueuer = core.TaskEnqueuer

type TaskDequeuer = core.TaskDequeuer

type GraphService = federationcommand.GraphService

type ContentService = federationcommand.ContentService

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// HTTPDoer matches the transport and identity client seams so one injected
// client serves both.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Option func(*dependencies)

type dependencies struct {
	logger         core.Logger
	provider       core.LoggerProvider
	httpClient     HTTPDoer
	fetcher        core.ObjectFetcher
	webfinger      core.WebFingerLookup
	localLookup    resolver.LocalLookup
	media          person.MediaResolver
	actorStore     core.ActorStore
	ledger         core.ActivityLedger
	persistence    *persistence.Client
	db             *bun.DB
	enqueuer       core.TaskEnqueuer
	dequeuer       core.TaskDequeuer
	graph          federationcommand.GraphService
	content        federationcommand.ContentService
}

func WithLogger(logger core.Logger) Option {
	return func(d *dependencies) { d.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(d *dependencies) { d.provider = provider }
}

func WithHTTPClient(client HTTPDoer) Option {
	return func(d *dependencies) { d.httpClient = client }
}

// WithObjectFetcher replaces the default transport client.
func WithObjectFetcher(fetcher core.ObjectFetcher) Option {
	return func(d *dependencies) { d.fetcher = fetcher }
}

func WithWebFingerLookup(lookup core.WebFingerLookup) Option {
	return func(d *dependencies) { d.webfinger = lookup }
}

// WithLocalLookup serves local references from storage instead of the wire.
func WithLocalLookup(lookup resolver.LocalLookup) Option {
	return func(d *dependencies) { d.localLookup = lookup }
}

func WithMediaResolver(media person.MediaResolver) Option {
	return func(d *dependencies) { d.media = media }
}

func WithActorStore(store core.ActorStore) Option {
	return func(d *dependencies) { d.actorStore = store }
}

func WithActivityLedger(ledger core.ActivityLedger) Option {
	return func(d *dependencies) { d.ledger = ledger }
}

func WithPersistenceClient(client *persistence.Client) Option {
	return func(d *dependencies) { d.persistence = client }
}

func WithDB(db *bun.DB) Option {
	return func(d *dependencies) { d.db = db }
}

func WithTaskEnqueuer(enqueuer core.TaskEnqueuer) Option {
	return func(d *dependencies) { d.enqueuer = enqueuer }
}

func WithTaskDequeuer(dequeuer core.TaskDequeuer) Option {
	return func(d *dependencies) { d.dequeuer = dequeuer }
}

func WithGraphService(graph federationcommand.GraphService) Option {
	return func(d *dependencies) { d.graph = graph }
}

func WithContentService(content federationcommand.ContentService) Option {
	return func(d *dependencies) { d.content = content }
}

// Service is the assembled federation core. Accessors return nil for
// components whose collaborators were not supplied.
type Service struct {
	config     core.Config
	stores     *sqlstore.RepositoryFactory
	resolver   *resolver.Resolver
	persons    *person.Manager
	dispatcher *federationcommand.Dispatcher
	intake     *inbound.Intake
	reader     *inbound.ActorReader
	mux        *http.ServeMux
	processor  *processor.Processor
}

func New(cfg Config, opts ...Option) (*Service, error) {
	deps := dependencies{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&deps)
	}

	cfg = withDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "federation: invalid configuration").
			WithTextCode(core.FederationErrorBadInput)
	}
	_, logger := glog.Resolve(cfg.ServiceName, deps.provider, deps.logger)
	logger = glog.Ensure(logger)

	svc := &Service{config: cfg}

	var err error
	svc.stores, err = buildStores(deps)
	if err != nil {
		return nil, err
	}
	actorStore := deps.actorStore
	if actorStore == nil && svc.stores != nil {
		actorStore = svc.stores.ActorStore()
	}
	if actorStore == nil {
		return nil, goerrors.New("federation: an actor store is required", goerrors.CategoryValidation).
			WithTextCode(core.FederationErrorBadInput)
	}
	ledger := deps.ledger
	if ledger == nil && svc.stores != nil {
		ledger = svc.stores.ActivityLedger()
	}

	fetcher := deps.fetcher
	if fetcher == nil {
		fetcher = transport.NewClient(transport.Config{
			HTTPClient:     deps.httpClient,
			RequestTimeout: cfg.RequestTimeout,
			MaxObjectBytes: cfg.MaxObjectBytes,
			UserAgent:      cfg.ServiceName,
		})
	}
	normalizer := identity.NewNormalizer(identity.Config{
		Lookup:         deps.webfinger,
		HTTPClient:     deps.httpClient,
		RequestTimeout: cfg.RequestTimeout,
	})

	svc.resolver = resolver.New(resolver.Config{
		Fetcher:        fetcher,
		LocalAuthority: cfg.LocalAuthority(),
		LocalLookup:    deps.localLookup,
		MaxDepth:       cfg.MaxResolutionDepth,
		Logger:         logger,
	})
	svc.persons = person.NewManager(person.Config{
		Resolver:       svc.resolver,
		Normalizer:     normalizer,
		Store:          actorStore,
		Media:          deps.media,
		LocalAuthority: cfg.LocalAuthority(),
		MediaTimeout:   cfg.MediaResolveTimeout,
		Logger:         logger,
	})
	svc.dispatcher = federationcommand.NewDispatcher(federationcommand.DispatcherConfig{
		Graph:    deps.graph,
		Content:  deps.content,
		Persons:  svc.persons,
		Logger:   deps.logger,
		Provider: deps.provider,
	})

	if deps.enqueuer != nil {
		svc.intake = inbound.NewIntake(inbound.IntakeConfig{
			Enqueuer:     deps.enqueuer,
			MaxBodyBytes: cfg.MaxObjectBytes,
			Logger:       deps.logger,
			Provider:     deps.provider,
		})
	}
	svc.reader = inbound.NewActorReader(inbound.ActorReaderConfig{
		Store:    actorStore,
		Logger:   deps.logger,
		Provider: deps.provider,
	})
	svc.mux = inbound.NewMux(svc.intake, svc.reader)

	if deps.dequeuer != nil {
		svc.processor = processor.NewProcessor(svc.persons, svc.dispatcher, deps.dequeuer)
		svc.processor.Ledger = ledger
		svc.processor.Logger = logger
	}

	return svc, nil
}

// Setup loads configuration through the provider then builds the service.
func Setup(ctx context.Context, provider core.ConfigProvider, opts ...Option) (*Service, error) {
	cfg := core.DefaultConfig()
	if provider != nil {
		loaded, err := provider.Load(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return New(cfg, opts...)
}

func (s *Service) Config() core.Config {
	if s == nil {
		return core.Config{}
	}
	return s.config
}

func (s *Service) Stores() *sqlstore.RepositoryFactory {
	if s == nil {
		return nil
	}
	return s.stores
}

func (s *Service) Resolver() *resolver.Resolver {
	if s == nil {
		return nil
	}
	return s.resolver
}

func (s *Service) Persons() *person.Manager {
	if s == nil {
		return nil
	}
	return s.persons
}

func (s *Service) Dispatcher() *federationcommand.Dispatcher {
	if s == nil {
		return nil
	}
	return s.dispatcher
}

func (s *Service) Intake() *inbound.Intake {
	if s == nil {
		return nil
	}
	return s.intake
}

func (s *Service) ActorReader() *inbound.ActorReader {
	if s == nil {
		return nil
	}
	return s.reader
}

// Handler exposes the inbox and actor read endpoints.
func (s *Service) Handler() *http.ServeMux {
	if s == nil {
		return nil
	}
	return s.mux
}

func (s *Service) Processor() *processor.Processor {
	if s == nil {
		return nil
	}
	return s.processor
}

func withDefaults(cfg Config) Config {
	defaults := core.DefaultConfig()
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaults.ServiceName
	}
	if cfg.MaxResolutionDepth <= 0 {
		cfg.MaxResolutionDepth = defaults.MaxResolutionDepth
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.MaxObjectBytes <= 0 {
		cfg.MaxObjectBytes = defaults.MaxObjectBytes
	}
	if cfg.MediaResolveTimeout <= 0 {
		cfg.MediaResolveTimeout = defaults.MediaResolveTimeout
	}
	if cfg.QueueName == "" {
		cfg.QueueName = defaults.QueueName
	}
	return cfg
}

func buildStores(deps dependencies) (*sqlstore.RepositoryFactory, error) {
	switch {
	case deps.persistence != nil:
		return sqlstore.NewRepositoryFactoryFromPersistence(deps.persistence)
	case deps.db != nil:
		return sqlstore.NewRepositoryFactoryFromDB(deps.db)
	default:
		return nil, nil
	}
}
