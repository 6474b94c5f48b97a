package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calvinloveland/vroomon/internal/evo"
)

// newLogger returns nil for format "none".
func newLogger(w io.Writer, format string) (*slog.Logger, error) {
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, nil)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, nil)), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// logListener writes one record per generation and one when the run ends.
func logListener(logger *slog.Logger, runID string) evo.Listener {
	return evo.ListenerFuncs{
		OnGeneration: func(ev evo.GenerationCompleted) {
			logger.Info("generation completed",
				slog.String("run_id", runID),
				slog.Int("generation", ev.Index),
				slog.Float64("best_score", ev.BestScore),
				slog.Float64("mean_score", ev.Stats.MeanScore),
				slog.Int("build_failures", ev.Stats.BuildFailures),
			)
		},
		OnFinished: func(ev evo.EvolutionFinished) {
			logger.Info("evolution finished",
				slog.String("run_id", runID),
				slog.Int("generations", ev.Generations),
				slog.Bool("stopped", ev.Stopped),
				slog.Float64("best_score", ev.Best.Score),
				slog.String("best_genome", ev.Best.Genome.String()),
			)
		},
	}
}

// serveMetrics exposes reg on addr until the returned stop func is called.
func serveMetrics(addr string, reg *prometheus.Registry) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", slog.Any("err", err))
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return ln.Addr().String(), stop, nil
}
