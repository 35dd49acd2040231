package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/trawl/internal/metrics"
	"github.com/tanq16/trawl/internal/output"
	"github.com/tanq16/trawl/internal/scheduler"
	"github.com/tanq16/trawl/internal/utils"
)

// runTransfers executes one batch with the configured engine and sinks. It returns
// errTransfersFailed when any outcome failed.
func runTransfers(ctx context.Context, descriptors []utils.Descriptor) error {
	if len(descriptors) == 0 {
		return errors.New("nothing to download")
	}
	if err := checkDestinations(descriptors); err != nil {
		return err
	}
	cfg, err := engineConfig()
	if err != nil {
		return err
	}
	engine, err := scheduler.New(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	sinks := utils.MultiSink{}
	var manager *output.Manager
	if quiet || logFile != "" || !output.IsTerminal() {
		sinks = append(sinks, output.NewLogSink())
	} else {
		manager = output.NewManager()
		sinks = append(sinks, manager)
	}
	if metricsAddr != "" {
		metricsSink, stopMetrics, err := serveMetrics(metricsAddr)
		if err != nil {
			return err
		}
		defer stopMetrics()
		sinks = append(sinks, metricsSink)
	}

	var outcomes []utils.Outcome
	if manager != nil {
		// log lines would tear through the redrawn frame
		restore := utils.RedirectConsole(manager.LogWriter())
		manager.StartDisplay()
		outcomes = engine.Run(ctx, descriptors, sinks)
		manager.StopDisplay()
		restore()
	} else {
		outcomes = engine.Run(ctx, descriptors, sinks)
	}

	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, output.FWarning("interrupted; partial files are kept for resume"))
	}
	summary := utils.Summarize(outcomes)
	log.Info().Str("op", "cmd").Int("succeeded", summary.Succeeded).Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).Str("bytes", output.FormatBytes(uint64(summary.Bytes))).Msg("done")
	if summary.Failed > 0 {
		return errTransfersFailed
	}
	return nil
}

// checkDestinations rejects batches where two transfers would write the same file.
func checkDestinations(descriptors []utils.Descriptor) error {
	seen := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		dest, err := filepath.Abs(d.Destination())
		if err != nil {
			dest = d.Destination()
		}
		if other, exists := seen[dest]; exists {
			return fmt.Errorf("%s and %s both write to %s", other, d.URL(), d.Destination())
		}
		seen[dest] = d.URL()
	}
	return nil
}

// metricsHandler exposes sink alongside the Go runtime collectors on /metrics.
func metricsHandler(sink *metrics.Sink) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := sink.Register(reg); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux, nil
}

func serveMetrics(addr string) (*metrics.Sink, func(), error) {
	sink := metrics.NewSink()
	handler, err := metricsHandler(sink)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("op", "metrics").Err(err).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("op", "metrics").Str("addr", addr).Msg("serving metrics")
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
	return sink, stop, nil
}
