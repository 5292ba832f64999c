package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hackgods/appointment-lifecycle/internal/logging"
	"github.com/hackgods/appointment-lifecycle/internal/stub"
)

func main() {
	_ = godotenv.Load()

	logger := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("APP_ENV", "dev")).With().Str("service", "collab-stub").Logger()

	opts := stub.Options{
		Patients:    getInt("STUB_PATIENTS", 9000),
		Doctors:     getInt("STUB_DOCTORS", 100),
		Seed:        uint64(time.Now().UnixNano()),
		FailureRate: getFloat("STUB_FAILURE_RATE", 0),
		Latency:     getDuration("STUB_LATENCY", 0),
	}
	s := stub.New(opts, logger)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", getEnv("STUB_PORT", "9001")),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Int("patients", opts.Patients).
			Int("doctors", opts.Doctors).
			Float64("failure_rate", opts.FailureRate).
			Msg("collaborator stub listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("stub server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	charges, refunds, notifications := s.Counts()
	logger.Info().Int("charges", charges).Int("refunds", refunds).Int("notifications", notifications).Msg("collaborator stub stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}
