package relayer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scalarorg/kakarot-relayer/config"
	"github.com/scalarorg/kakarot-relayer/pkg/db/pending"
	"github.com/scalarorg/kakarot-relayer/pkg/events"
	"github.com/scalarorg/kakarot-relayer/pkg/metrics"
	"github.com/scalarorg/kakarot-relayer/pkg/relay"
	"github.com/scalarorg/kakarot-relayer/pkg/rpc"
	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
	"github.com/scalarorg/kakarot-relayer/pkg/translation"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 5 * time.Second

type Service struct {
	Config         *config.Config
	StarknetClient *starknet.Client
	Translator     *translation.Translator
	Store          pending.Store
	EventBus       *events.EventBus
	Metrics        *metrics.Metrics
	Engine         *relay.Engine
	Resolver       *relay.Resolver
	Retrier        *relay.Retrier
	Watcher        *relay.Watcher
	Server         *rpc.Server

	metricEvents <-chan *events.EventEnvelope
}

func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	client, err := starknet.Dial(ctx, cfg.Starknet.RPCUrl)
	if err != nil {
		return nil, err
	}
	chainID, err := resolveChainID(ctx, cfg.Starknet.ChainID, client)
	if err != nil {
		client.Close()
		return nil, err
	}

	translator, err := newTranslator(cfg, chainID)
	if err != nil {
		client.Close()
		return nil, err
	}
	log.Info().Str("starknetChainId", chainID.String()).
		Str("ethChainId", translator.EthereumChainID().String()).
		Msg("[Relayer] [NewService] chain ids resolved")

	store, err := pending.NewStore(ctx, cfg.Database)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create pending store: %w", err)
	}

	eventBus := events.NewEventBus(&cfg.EventBus)
	m := metrics.NewMetrics()

	engine := relay.NewEngine(translator, store, client,
		relay.WithEventBus(eventBus),
		relay.WithMaxRetries(cfg.Relayer.MaxRetries),
	)
	resolver := relay.NewResolver(store, translator)

	retrier, err := relay.NewRetrier(engine, store, cfg.Relayer)
	if err != nil {
		_ = store.Close(ctx)
		client.Close()
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}
	watcher := relay.NewWatcher(store, translator, client, eventBus, cfg.Relayer)

	server, err := rpc.NewServer(cfg.Server, rpc.APIs(engine, resolver), m.Handler())
	if err != nil {
		_ = store.Close(ctx)
		client.Close()
		return nil, fmt.Errorf("failed to create rpc server: %w", err)
	}

	return &Service{
		Config:         cfg,
		StarknetClient: client,
		Translator:     translator,
		Store:          store,
		EventBus:       eventBus,
		Metrics:        m,
		Engine:         engine,
		Resolver:       resolver,
		Retrier:        retrier,
		Watcher:        watcher,
		Server:         server,
		metricEvents:   eventBus.Subscribe(events.ALL_EVENTS),
	}, nil
}

// resolveChainID uses the configured chain id when present, either as a hex
// felt or as a short string such as "KKRT", and asks the sequencer otherwise.
func resolveChainID(ctx context.Context, configured string, client *starknet.Client) (starknet.Felt, error) {
	if configured == "" {
		return client.ChainID(ctx)
	}
	if strings.HasPrefix(configured, "0x") {
		chainID, err := starknet.FeltFromHex(configured)
		if err != nil {
			return starknet.Zero, fmt.Errorf("invalid starknet chain id %q: %w", configured, err)
		}
		return chainID, nil
	}
	return starknet.FeltFromShortString(configured), nil
}

func newTranslator(cfg *config.Config, chainID starknet.Felt) (*translation.Translator, error) {
	kakarot, err := starknet.FeltFromHex(cfg.Starknet.KakarotAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid kakarot address: %w", err)
	}
	classHash, err := starknet.FeltFromHex(cfg.Starknet.AccountClassHash)
	if err != nil {
		return nil, fmt.Errorf("invalid account class hash: %w", err)
	}
	return translation.NewTranslator(translation.Config{
		KakarotAddress:   kakarot,
		AccountClassHash: classHash,
		ChainID:          chainID,
		AddressCacheSize: cfg.Relayer.AddressCacheSize,
	})
}

func (s *Service) Handler() http.Handler {
	return s.Server.Handler()
}

// Start runs the rpc server and the background loops. It blocks until ctx is
// done or one of them fails, then shuts the server down.
func (s *Service) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.Metrics.Run(gctx, s.metricEvents)
		return nil
	})
	g.Go(func() error {
		return s.Retrier.Run(gctx)
	})
	g.Go(func() error {
		return s.Watcher.Run(gctx)
	})
	g.Go(s.Server.Start)
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.Config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.Server.Shutdown(shutdownCtx)
	})
	log.Info().Str("address", s.Config.Server.Address).Msg("[Relayer] [Start] relayer service started")
	return g.Wait()
}

func (s *Service) Stop(ctx context.Context) error {
	log.Info().Msg("[Relayer] [Stop] relayer service stopped")
	s.EventBus.Close()
	s.StarknetClient.Close()
	return s.Store.Close(ctx)
}
