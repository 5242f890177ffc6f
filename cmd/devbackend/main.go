// Command devbackend runs a local stand-in for the transcription service so
// the desktop client can be exercised without the real backend.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"voiceia/internal/devbackend"
	"voiceia/internal/logging"
)

const shutdownTimeout = 5 * time.Second

func main() {
	_ = godotenv.Load(".env.local")

	logger := logging.New(logging.Config{Level: env("VOICEIA_LOG_LEVEL", "debug"), Format: "console"}, true)
	addr := env("VOICEIA_DEV_ADDR", ":3203")
	gin.SetMode(env("GIN_MODE", gin.ReleaseMode))

	srv := devbackend.New(devbackend.Options{
		PublicURL:      os.Getenv("VOICEIA_DEV_PUBLIC_URL"),
		MaxUploadBytes: int64(envInt("VOICEIA_MAX_UPLOAD_MB", 10)) * 1024 * 1024,
		StepDelay:      time.Duration(envInt("VOICEIA_DEV_STEP_MS", 1500)) * time.Millisecond,
		AllowOrigins:   splitList(os.Getenv("VOICEIA_DEV_CORS_ORIGINS")),
		Logger:         logger,
	})
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", addr).Msg("dev backend listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("dev backend stopped")
			stop()
		}
	}()

	<-ctx.Done()
	shutdown(httpServer, srv, logger)
}

func shutdown(httpServer *http.Server, srv *devbackend.Server, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Close()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("dev backend stopped")
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(env(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
