package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	trawlhttp "github.com/tanq16/trawl/internal/downloaders/http"
	"github.com/tanq16/trawl/internal/utils"
)

// Engine runs batches of transfers over one shared HTTP client. Its configuration is
// fixed at construction and an Engine is safe for concurrent Run calls.
type Engine struct {
	cfg        utils.EngineConfig
	client     *utils.TrawlHTTPClient
	downloader *trawlhttp.HTTPDownloader
}

// New validates cfg and builds the shared client. It is the only place the engine
// returns an error for a bad configuration.
func New(cfg utils.EngineConfig) (*Engine, error) {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, downloader, err := buildDownloader(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, client: client, downloader: downloader}, nil
}

func buildDownloader(cfg utils.EngineConfig) (*utils.TrawlHTTPClient, *trawlhttp.HTTPDownloader, error) {
	client, err := utils.NewTrawlHTTPClient(cfg.HTTPConfig())
	if err != nil {
		return nil, nil, err
	}
	retrying := utils.NewRetryDoer(client, cfg.RetryPolicy())
	return client, trawlhttp.NewHTTPDownloader(retrying, cfg), nil
}

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() utils.EngineConfig {
	return e.cfg.Clone()
}

// Close releases idle pooled connections.
func (e *Engine) Close() {
	e.client.CloseIdleConnections()
}

// Run transfers every descriptor and returns one Outcome per descriptor in input order.
// Failures are reported per Outcome; a nil sink discards progress events.
func (e *Engine) Run(ctx context.Context, descriptors []utils.Descriptor, sink utils.ProgressSink) []utils.Outcome {
	return e.run(ctx, e.downloader, descriptors, sink)
}

// RunWithProxy is Run with the proxy endpoint overridden for this batch only.
// It fails without transferring anything when the proxy is invalid.
func (e *Engine) RunWithProxy(ctx context.Context, descriptors []utils.Descriptor, proxy string, sink utils.ProgressSink) ([]utils.Outcome, error) {
	cfg := e.cfg.Clone()
	cfg.Proxy = proxy
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, downloader, err := buildDownloader(cfg)
	if err != nil {
		return nil, err
	}
	defer client.CloseIdleConnections()
	return e.run(ctx, downloader, descriptors, sink), nil
}

func (e *Engine) run(ctx context.Context, downloader *trawlhttp.HTTPDownloader, descriptors []utils.Descriptor, sink utils.ProgressSink) []utils.Outcome {
	if sink == nil {
		sink = utils.NopSink{}
	}
	total := len(descriptors)
	outcomes := make([]utils.Outcome, total)
	if total == 0 {
		return outcomes
	}

	logger := utils.GetLogger("scheduler").With().Str("batch", uuid.NewString()).Logger()
	numWorkers := min(e.cfg.Concurrency, total)
	logger.Debug().Int("transfers", total).Int("workers", numWorkers).Msg("starting batch")
	start := time.Now()

	for i, d := range descriptors {
		sink.TransferPhase(i, d, utils.PhasePending)
	}

	jobCh := make(chan int, total)
	for i := range descriptors {
		jobCh <- i
	}
	close(jobCh)

	var progressMu sync.Mutex
	completed := 0
	finish := func(o utils.Outcome) {
		// each index is written by exactly one worker
		outcomes[o.Index] = o
		sink.TransferPhase(o.Index, o.Descriptor, o.Phase())
		sink.TransferDone(o.Index, o)
		progressMu.Lock()
		completed++
		sink.BatchProgress(completed, total)
		progressMu.Unlock()
	}

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobCh {
				d := descriptors[i]
				if err := ctx.Err(); err != nil {
					finish(canceledOutcome(i, d, err))
					continue
				}
				finish(downloader.Download(ctx, i, d, utils.NewReporter(i, sink)))
			}
		}()
	}
	wg.Wait()

	summary := utils.Summarize(outcomes)
	logger.Info().Int("succeeded", summary.Succeeded).Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).Int64("bytes", summary.Bytes).Dur("elapsed", time.Since(start)).
		Msg("batch finished")
	return outcomes
}

func canceledOutcome(index int, d utils.Descriptor, cause error) utils.Outcome {
	return utils.Outcome{
		Descriptor: d,
		Index:      index,
		Status:     utils.StatusFailed,
		StatusCode: utils.StatusNone,
		Err:        utils.NewTransferError(utils.KindCanceled, utils.StatusNone, fmt.Errorf("transfer not started: %w", cause)),
	}
}
