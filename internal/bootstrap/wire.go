package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voiceia/internal/config"
	"voiceia/internal/logging"
	"voiceia/internal/media"
	"voiceia/internal/metrics"
	"voiceia/internal/persist"
	"voiceia/internal/ports"
	"voiceia/internal/providers/api"
	"voiceia/internal/providers/realtime"
	"voiceia/internal/store"
	"voiceia/internal/usecase"
)

const startupTimeout = 5 * time.Second

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.Controller
	Store      *store.Store
	Previews   *media.Previews
	Config     config.Config
	Logger     zerolog.Logger

	closers []func()
}

// Close releases background resources. Safe to call once at shutdown.
func (s Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Build loads configuration and wires all dependencies for the runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWith(cfg, eventSink)
}

// BuildWith wires all dependencies from an already resolved configuration.
func BuildWith(cfg config.Config, eventSink ports.EventSink) (Services, error) {
	logger := logging.New(cfg.Log, cfg.Dev)
	services := Services{Config: cfg, Logger: logger}

	persister, closePersister, err := newPersister(cfg.State)
	if err != nil {
		return Services{}, err
	}
	if closePersister != nil {
		services.closers = append(services.closers, closePersister)
	}

	st := store.New(store.Options{
		HistoryLimit: cfg.State.HistoryLimit,
		Persister:    persister,
		Logger:       logger.With().Str("component", "store").Logger(),
	})
	hydrateCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	st.Hydrate(hydrateCtx)
	cancel()
	st.Subscribe(func(state ports.PersistedState) {
		eventSink.JobChanged(state.CurrentJob)
	})

	backend := api.NewClient(api.Config{
		BaseURL: cfg.API.Endpoint(),
		Timeout: cfg.API.Timeout,
		Logger:  logger.With().Str("component", "api").Logger(),
	})
	dialer := realtime.NewDialer(realtime.Config{
		BaseURL:      cfg.API.WSEndpoint(),
		PathTemplate: cfg.Channel.PathTemplate,
		Logger:       logger.With().Str("component", "realtime").Logger(),
	})
	previews := media.NewPreviews()

	controller := usecase.NewController(usecase.Deps{
		Backend:  backend,
		Dialer:   dialer,
		Store:    st,
		Files:    media.OSOpener{},
		Previews: previews,
		Inspect:  media.Inspect,
		Events:   eventSink,
		Logger:   logger,
	}, usecase.Config{
		MaxUploadBytes: cfg.Upload.MaxBytes(),
		Channel: usecase.ChannelConfig{
			ConnectDebounce: cfg.Channel.ConnectDebounce,
			ReconnectDelay:  cfg.Channel.ReconnectDelay,
			MaxReconnects:   cfg.Channel.MaxReconnects,
		},
	})
	services.closers = append(services.closers, controller.Shutdown)

	metrics.MustRegister()
	if cfg.MetricsAddr != "" {
		ctx, stop := context.WithCancel(context.Background())
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics listener stopped")
			}
		}()
		services.closers = append(services.closers, stop)
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listener started")
	}

	services.Controller = controller
	services.Store = st
	services.Previews = previews

	logger.Info().
		Str("api", cfg.API.Endpoint()).
		Str("state_backend", cfg.State.Backend).
		Msg("services ready")
	return services, nil
}

func newPersister(cfg config.StateConfig) (ports.Persister, func(), error) {
	switch cfg.Backend {
	case config.StateBackendRedis:
		rs, err := persist.NewRedisStore(cfg.RedisURL, cfg.Namespace)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("connect state redis: %w", err)
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return persist.NewJSONStore(cfg.Path, cfg.Namespace), nil, nil
	}
}
