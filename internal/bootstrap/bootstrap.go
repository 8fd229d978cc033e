package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"earwatch-server-go/internal/app/services"
	"earwatch-server-go/internal/domain/asr"
	domainauth "earwatch-server-go/internal/domain/auth"
	authstore "earwatch-server-go/internal/domain/auth/store"
	"earwatch-server-go/internal/domain/eventbus"
	"earwatch-server-go/internal/domain/mailbox"
	"earwatch-server-go/internal/domain/match"
	platformconfig "earwatch-server-go/internal/platform/config"
	platformerrors "earwatch-server-go/internal/platform/errors"
	platformlogging "earwatch-server-go/internal/platform/logging"
	platformstorage "earwatch-server-go/internal/platform/storage"
	httptransport "earwatch-server-go/internal/transport/http"
	httpwebapi "earwatch-server-go/internal/transport/http/webapi"
	"earwatch-server-go/internal/transport/ws"

	// Transcription backend variants register themselves on import.
	_ "earwatch-server-go/internal/domain/asr/buffered"
	_ "earwatch-server-go/internal/domain/asr/streaming"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config      *platformconfig.Config
	configPath  string
	logger      *platformlogging.Logger
	db          *platformstorage.DB
	authManager *domainauth.Manager
	words       *match.WordList
	detector    *match.Detector
	mailbox     *mailbox.Mailbox
	stats       *eventbus.Stats
	hub         *ws.Hub
}

// Run drives the whole service lifecycle: configuration, dependency
// initialisation, server startup and graceful shutdown.
func Run(ctx context.Context) error {
	state := &appState{}

	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}

	defer func() {
		if state.stats != nil {
			state.stats.Close()
		}
		if state.authManager != nil {
			if err := state.authManager.Close(); err != nil {
				logger.ErrorTag("Auth", "auth manager close: %v", err)
			}
		}
		if state.db != nil {
			if err := state.db.Close(); err != nil {
				logger.ErrorTag("Storage", "database close: %v", err)
			}
		}
		logger.Close()
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	return waitForShutdown(signalCtx, cancel, logger, group)
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "execute init steps", "nil bootstrap state")
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(platformerrors.KindBootstrap, step.ID, "missing execute function")
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initStorageStep,
		},
		{
			ID:        "detection:init",
			Title:     "Initialise trigger detection",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindDomain,
			Execute:   initDetectionStep,
		},
		{
			ID:        "auth:init-manager",
			Title:     "Initialise auth manager",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindAuth,
			Execute:   initAuthStep,
		},
		{
			ID:        "sessions:init",
			Title:     "Initialise session infrastructure",
			DependsOn: []string{"detection:init", "auth:init-manager"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initSessionsStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	config, err := platformconfig.NewLoader().WithDotEnv(true).Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "load configuration", err)
	}
	state.config = config
	state.configPath = platformconfig.DefaultConfigFile
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "initialise logging", err)
	}
	state.logger = logger
	platformlogging.DefaultLogger = logger

	logger.InfoTag("Bootstrap", "logging ready [%s] config from %s", state.config.Log.Level, state.configPath)
	return nil
}

func initStorageStep(_ context.Context, state *appState) error {
	db, err := platformstorage.Open(state.config.Storage.DSN)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "open database", err)
	}
	state.db = db
	state.logger.InfoTag("Storage", "database ready at %s", state.config.Storage.DSN)
	return nil
}

// initDetectionStep builds the shared word list. Persisted words win
// over the configured defaults so API updates survive restarts.
func initDetectionStep(_ context.Context, state *appState) error {
	words := state.config.Detection.TriggerWords
	if stored, err := state.db.LoadTriggerWords(); err != nil {
		state.logger.WarnTag("Detect", "stored trigger words unreadable, using config: %v", err)
	} else if len(stored) > 0 {
		words = stored
	}

	list, err := match.NewWordList(words)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindDomain, "detection:init", "invalid trigger word list", err)
	}
	state.words = list
	state.detector = match.NewDetector(list, state.config.Detection.FuzzyThreshold)
	state.mailbox = mailbox.New()

	state.logger.InfoTag("Detect", "trigger words: %v (fuzzy threshold %.2f)", list.Snapshot(), state.config.Detection.FuzzyThreshold)
	return nil
}

func initAuthStep(_ context.Context, state *appState) error {
	authCfg := state.config.Server.Auth
	storeCfg := authstore.Config{
		Type:   strings.ToLower(strings.TrimSpace(authCfg.Store.Type)),
		Expiry: authCfg.Store.Expiry,
		Redis: authstore.RedisConfig{
			Addr:     authCfg.Store.Redis.Addr,
			Password: authCfg.Store.Redis.Password,
			DB:       authCfg.Store.Redis.DB,
			Prefix:   authCfg.Store.Redis.Prefix,
		},
		Memory: authstore.MemoryConfig{
			CleanupInterval: authCfg.Store.Memory.Cleanup,
		},
	}
	if authCfg.Enabled && storeCfg.Type == "redis" && storeCfg.Redis.Addr == "" {
		return platformerrors.New(platformerrors.KindAuth, "auth:init-manager", "redis store addr is required")
	}

	manager, err := domainauth.NewManager(authCfg.Enabled, state.config.Server.Token, storeCfg, state.logger)
	if err != nil {
		return err
	}
	state.authManager = manager

	if authCfg.Enabled {
		state.logger.InfoTag("Auth", "device authentication enabled (%s store)", storeCfg.Type)
	} else {
		state.logger.InfoTag("Auth", "device authentication disabled")
	}
	return nil
}

func initSessionsStep(_ context.Context, state *appState) error {
	stats, err := eventbus.NewStats()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "sessions:init", "subscribe event counters", err)
	}
	state.stats = stats
	state.hub = ws.NewHub(state.logger)
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	if state.config.Transport.WebSocket.Enabled {
		if err := startWebSocketServer(state, g, groupCtx); err != nil {
			return fmt.Errorf("start websocket server: %w", err)
		}
	}
	if state.config.Web.Enabled {
		if err := startHTTPServer(state, g, groupCtx); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}
	return nil
}

// sessionBuilder creates one session per accepted connection. Every
// session gets its own backend instance of the configured variant.
func sessionBuilder(state *appState) ws.HandlerBuilder {
	return func(conn *ws.Connection, sessionID, deviceID string) (ws.SessionHandler, error) {
		provider, err := asr.Create(state.config.ASR.Selected, &state.config.ASR, sessionID, deviceID, state.logger)
		if err != nil {
			return nil, err
		}
		return services.NewSession(services.SessionConfig{
			SessionID: sessionID,
			DeviceID:  deviceID,
			Conn:      conn,
			Provider:  provider,
			Detector:  state.detector,
			Mailbox:   state.mailbox,
			Logger:    state.logger,
		}), nil
	}
}

func startWebSocketServer(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	server := ws.NewServer(
		state.config.Transport.WebSocket,
		state.hub,
		sessionBuilder(state),
		state.authManager.VerifyDevice,
		state.logger,
	)

	g.Go(func() error {
		if err := server.Start(groupCtx); err != nil {
			if groupCtx.Err() != nil {
				return nil
			}
			return err
		}
		return nil
	})
	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	router, err := httptransport.Build(httptransport.Options{
		Config:         state.config,
		Logger:         state.logger,
		AuthMiddleware: httpwebapi.AuthMiddleware(state.authManager),
	})
	if err != nil {
		return err
	}

	service := httpwebapi.NewService(httpwebapi.ServiceConfig{
		Mailbox: state.mailbox,
		Words:   state.words,
		DB:      state.db,
		Auth:    state.authManager,
		Hub:     state.hub,
		Stats:   state.stats,
		Logger:  state.logger,
	})
	service.Register(router)

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(state.config.Web.Port),
		Handler: router.Engine,
	}

	g.Go(func() error {
		state.logger.InfoTag("HTTP", "api listening on http://localhost:%d/api", state.config.Web.Port)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				state.logger.ErrorTag("HTTP", "shutdown: %v", err)
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return nil
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, logger *platformlogging.Logger, g *errgroup.Group) error {
	<-ctx.Done()
	logger.InfoTag("Bootstrap", "shutdown signal received (%v), cleaning up", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Bootstrap", "shutdown error: %v", err)
			return err
		}
		logger.InfoTag("Bootstrap", "all services stopped")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("Bootstrap", "shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
	return nil
}
