package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gateway/internal/fetch"
	"gateway/internal/generation"
	"gateway/internal/http/handlers"
	httpapi "gateway/internal/http/httpapi"
	"gateway/internal/infra"
	"gateway/internal/providers/prompt"
	"gateway/internal/providers/proxy"
	"gateway/internal/providers/rembg"
	"gateway/internal/providers/sd"
	"gateway/internal/storage"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// Artifact store and downloader
	store, err := storage.NewFileStore(cfg.AssetsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare assets dir")
	}
	fetcher, err := fetch.NewFetcher(fetch.Options{Store: store, Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build fetcher")
	}

	// Providers
	backend := infra.NewBackendURL(cfg.SDURL)
	sdClient, err := sd.NewClient(sd.Options{
		Backend:  backend,
		Store:    store,
		Width:    cfg.SDWidth,
		Height:   cfg.SDHeight,
		Steps:    cfg.SDSteps,
		CFGScale: cfg.SDCFGScale,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build sd client")
	}
	mj, err := proxy.NewImageDriver(proxy.ImageProxyConfig(cfg.PollInterval), proxy.Options{
		BaseURL:  cfg.MJProxyBaseURL,
		APIKey:   cfg.MJProxyAPIKey,
		Resolver: fetcher,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build image proxy driver")
	}
	suno, err := proxy.NewAudioDriver(proxy.AudioProxyConfig(cfg.PollInterval), proxy.Options{
		BaseURL:  cfg.SunoProxyBaseURL,
		APIKey:   cfg.SunoProxyAPIKey,
		Resolver: fetcher,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build audio proxy driver")
	}
	refiner, err := prompt.NewFromConfig(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build prompt refiner")
	}

	svc, err := generation.NewService(generation.Options{
		Refiner: refiner,
		SD:      sdClient,
		MJ:      mj,
		Suno:    suno,
		Remover: rembg.NewClient(rembg.Options{BaseURL: cfg.RembgURL, Logger: &logger}),
		Store:   store,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build generation service")
	}

	app, err := handlers.NewApp(svc, sdClient, backend, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build handlers")
	}
	router := httpapi.NewRouter(app, httpapi.RouterOptions{Logger: logger, CORSOrigins: cfg.CORSOrigins})
	server := infra.NewHTTPServer(cfg, router)

	logger.Info().
		Str("assets_dir", store.BasePath()).
		Str("sd_url", backend.Get()).
		Bool("mj_configured", mj.Configured()).
		Bool("suno_configured", suno.Configured()).
		Str("prompt_provider", cfg.PromptProvider).
		Msg("gateway configured")

	// Start async
	go func() {
		logger.Info().Msgf("gateway listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
