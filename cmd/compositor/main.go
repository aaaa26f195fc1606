package main

import (
	"context"
	"errors"
	"flag"
	"image"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/internal/core/services"
	httphandlers "overlaycast/internal/handlers/http"
	"overlaycast/internal/infrastructure/compositor"
	"overlaycast/internal/infrastructure/control"
	"overlaycast/internal/infrastructure/distributed"
	"overlaycast/internal/infrastructure/middleware"
	"overlaycast/internal/infrastructure/monitoring"
	"overlaycast/internal/infrastructure/pipeline/memory"
	"overlaycast/internal/infrastructure/render"
	"overlaycast/pkg/circuitbreaker"
	"overlaycast/pkg/config"
	"overlaycast/pkg/logger"
	"overlaycast/pkg/retry"
	"overlaycast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	_ = godotenv.Load()

	bootLogger := logger.New("info")
	cfg, err := loadConfig(*configPath, defaultConfigPaths, bootLogger.Sugar())
	if err != nil {
		bootLogger.Sugar().Fatalw("Failed to load configuration", "path", *configPath, "error", err)
	}
	_ = bootLogger.Sync()

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("Invalid configuration", "error", err)
	}

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instanceID := uuid.NewString()
	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	// Overlay rendering
	renderCfg := render.DefaultConfig()
	renderCfg.Text.Size = cfg.Overlay.FontSize
	renderCfg.MaxSide = cfg.Overlay.MaxSurfaceSide
	if textColor, err := render.ParseHexColor(cfg.Overlay.TextColor); err == nil {
		renderCfg.Text.Color = textColor
	} else {
		log.Warnw("Ignoring overlay.text_color", "value", cfg.Overlay.TextColor, "error", err)
	}
	baseGenerator, err := render.NewGenerator(renderCfg, metrics, log)
	if err != nil {
		log.Fatalw("Failed to create overlay generator", "error", err)
	}
	var generator ports.OverlayGenerator = baseGenerator
	if cfg.Overlay.CacheTTL > 0 {
		cached := render.NewCachedGenerator(baseGenerator, cfg.Overlay.CacheTTL, cfg.Overlay.CacheEntries, metrics)
		defer cached.Close()
		generator = cached
	}

	layout, err := compositor.NewLayoutPolicy(cfg.LayoutName(),
		image.Pt(cfg.Compositor.OffsetX, cfg.Compositor.OffsetY), cfg.Compositor.Opacity)
	if err != nil {
		log.Fatalw("Invalid compositor layout", "error", err)
	}

	// Media pipeline
	snapshots := memory.NewSnapshotSink()
	stream := memory.NewStream(memory.NewSyntheticSource(cfg.Source.Width, cfg.Source.Height), cfg.Source.FPS, snapshots, log)
	issuer := services.NewCredentialService(cfg.Credential.SDKKey, cfg.Credential.SDKSecret, log)
	client := memory.NewLoopbackClient(stream, issuer, log)

	newChannel := func() ports.ControlChannel {
		return control.NewChannel(cfg.Compositor.ChannelBuffer, metrics, log)
	}
	newProcessor := func(channel ports.ControlChannel) ports.FrameProcessor {
		return compositor.NewProcessor(compositor.Config{
			Name:   cfg.Compositor.Name,
			Width:  cfg.Compositor.OutputWidth,
			Height: cfg.Compositor.OutputHeight,
			Layout: layout,
		}, channel, snapshots, metrics, log)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	retryCfg.InitialDelay = cfg.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Retry.MaxDelay

	session := services.NewSessionService(client, issuer, generator, newChannel, newProcessor, services.SessionConfig{
		CredentialTTL: cfg.Credential.TTL,
		OverlayWidth:  cfg.Compositor.OutputWidth,
		OverlayHeight: cfg.Compositor.OutputHeight,
		Retry:         retryCfg,
	}, metrics, log)

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("Frame loop stopped", "error", err)
		}
	}()

	// Health
	health := monitoring.NewHealthChecker()
	health.AddPipelineCheck(stream.Running, 0, time.Second)
	health.AddSessionCheck(func() bool { return session.State() == domain.SessionConnected }, 0, time.Second)

	// Cross-instance fan-out
	var handlerOpts []httphandlers.SessionHandlerOption
	var registry *distributed.SessionRegistry
	var bus *distributed.EventBus
	if cfg.Redis.Enabled {
		rdb, err := distributed.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("Failed to connect to Redis", "error", err)
		}
		defer rdb.Close()

		health.AddRedisCheck(rdb, 10*time.Second, 2*time.Second)
		breaker := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.Redis.BreakerThreshold,
			Timeout:          cfg.Redis.BreakerTimeout,
		})
		breaker.OnStateChange(func(from, to circuitbreaker.State) {
			log.Warnw("Redis publish breaker changed state", "from", from, "to", to)
		})
		bus = distributed.NewEventBus(rdb, cfg.Redis.Channel, instanceID, log, distributed.WithPublishBreaker(breaker))
		registry = distributed.NewSessionRegistry(rdb, instanceID, cfg.Redis.RegistryTTL, log)
		relay := distributed.NewOverlayRelay(bus, session, log)

		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("Overlay relay stopped", "error", err)
			}
		}()
		go registry.Heartbeat(ctx, cfg.Redis.RegistryTTL/3)

		handlerOpts = append(handlerOpts,
			httphandlers.WithAnnouncer(relay),
			httphandlers.WithInstanceLister(registry),
		)
	}

	health.StartBackgroundChecks(ctx)

	// Join the configured session with the configured overlay
	if cfg.Session.Name != "" {
		joined, err := session.Join(ctx, domain.JoinRequest{
			SessionName: cfg.Session.Name,
			UserName:    cfg.Session.UserName,
			Role:        cfg.Session.Role,
			Overlay:     initialOverlay(cfg),
		})
		if err != nil {
			log.Errorw("Failed to join configured session", "session", cfg.Session.Name, "error", err)
		} else {
			if registry != nil {
				if err := registry.Register(ctx, joined); err != nil {
					log.Warnw("Failed to register instance", "error", err)
				}
				if err := bus.PublishSessionState(ctx, distributed.EventSessionJoined, joined.Name); err != nil {
					log.Warnw("Failed to publish session state", "error", err)
				}
			}
		}
	}

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogger(logger.NewContextLogger(zapLogger)),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	var guard []gin.HandlerFunc
	if cfg.Server.AuthRequired {
		guard = append(guard,
			middleware.AuthMiddleware(issuer),
			middleware.SessionPermissionMiddleware(session, domain.RoleParticipant),
		)
	}

	httphandlers.NewSessionHandler(session, snapshots, log, handlerOpts...).SetupRoutes(router, guard...)
	httphandlers.NewCredentialHandler(issuer, cfg.Credential.TTL).SetupRoutes(router)
	httphandlers.NewHealthHandler(health).SetupRoutes(router)

	var wsServer *control.WebSocketServer
	if cfg.Control.Enabled {
		wsCfg := control.ServerConfig{
			PingInterval:   cfg.Control.PingInterval,
			PongTimeout:    cfg.Control.PongTimeout,
			WriteTimeout:   cfg.Control.WriteTimeout,
			MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
			MaxImageSide:   cfg.Overlay.MaxSurfaceSide,
		}
		if cfg.RateLimiting.Enabled {
			wsCfg.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
			wsCfg.Burst = cfg.RateLimiting.WebSocket.Burst
		}
		wsServer = control.NewWebSocketServer(session, wsCfg, metrics, log)
		wsRoute := append(append([]gin.HandlerFunc{}, guard...), gin.WrapF(wsServer.HandleWebSocket))
		router.GET(cfg.Control.Path, wsRoute...)
	}

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting overlay compositor", "address", cfg.Server.Address, "instance_id", instanceID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		_ = srv.Close()
	}
	if wsServer != nil {
		wsServer.CloseAll()
	}

	if joined := session.Session(); joined != nil {
		if err := session.Leave(shutdownCtx); err != nil {
			log.Warnw("Failed to leave session", "error", err)
		}
		if registry != nil {
			if err := registry.Unregister(shutdownCtx, joined.Name); err != nil {
				log.Warnw("Failed to unregister instance", "error", err)
			}
			_ = bus.PublishSessionState(shutdownCtx, distributed.EventSessionLeft, joined.Name)
		}
	}

	cancel()
	<-pipelineDone
	if bus != nil {
		_ = bus.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Failed to flush traces", "error", err)
	}

	log.Info("Overlay compositor stopped")
}

var defaultConfigPaths = []string{"configs/config.yaml", "config.yaml"}

// loadConfig loads an explicit path strictly. Without one it takes the first
// usable file from searchPaths, then falls back to defaults plus environment.
func loadConfig(path string, searchPaths []string, log *zap.SugaredLogger) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		cfg, err := config.Load(p)
		if err != nil {
			log.Warnw("Skipping unusable config file", "path", p, "error", err)
			continue
		}
		log.Infow("Loaded config", "path", p)
		return cfg, nil
	}

	log.Infow("No config file found, using defaults and environment")
	return config.FromEnv(), nil
}

// initialOverlay builds the overlay pushed right after join.
func initialOverlay(cfg *config.Config) domain.OverlayRequest {
	if cfg.Overlay.Mode == string(domain.OverlayCard) {
		card := cfg.Overlay.Card
		return domain.OverlayRequest{
			Kind: domain.OverlayCard,
			Card: &domain.CardOptions{
				Name:        card.Name,
				Title:       card.Title,
				Company:     card.Company,
				Email:       card.Email,
				FrameWidth:  cfg.Compositor.OutputWidth,
				FrameHeight: cfg.Compositor.OutputHeight,
				CardHeight:  card.CardHeight,
				BrandColor:  card.BrandColor,
				TextColor:   card.TextColor,
			},
		}
	}
	return domain.OverlayRequest{
		Kind:   domain.OverlayText,
		Text:   cfg.Overlay.Text,
		Width:  cfg.Compositor.OutputWidth,
		Height: cfg.Compositor.OutputHeight,
	}
}
