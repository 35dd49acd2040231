package output

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/tanq16/trawl/internal/utils"
)

// LogSink reports transfers as structured log lines instead of a live view. It is
// used for quiet runs, log files and non-terminal output.
type LogSink struct {
	logger zerolog.Logger
	mu     sync.Mutex
	labels map[int]string
}

func NewLogSink() *LogSink {
	return &LogSink{
		logger: utils.GetLogger("progress"),
		labels: make(map[int]string),
	}
}

func (s *LogSink) label(id int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labels[id]
}

func (s *LogSink) TransferPhase(id int, d utils.Descriptor, phase utils.Phase) {
	s.mu.Lock()
	s.labels[id] = d.Label()
	s.mu.Unlock()
	if phase == utils.PhasePending || phase.Terminal() {
		return
	}
	s.logger.Debug().Int("id", id).Str("name", d.Label()).Str("phase", string(phase)).Msg("transfer phase")
}

func (s *LogSink) TransferStarted(id int, total, offset int64) {
	event := s.logger.Info().Int("id", id).Str("name", s.label(id)).Int64("offset", offset)
	if total >= 0 {
		event = event.Int64("total", total)
	}
	event.Msg("transfer started")
}

func (s *LogSink) TransferProgress(int, int64) {}

func (s *LogSink) TransferDone(id int, o utils.Outcome) {
	var event *zerolog.Event
	switch o.Status {
	case utils.StatusSuccess:
		event = s.logger.Info()
	case utils.StatusSkipped:
		event = s.logger.Info().Str("reason", o.Reason)
	default:
		event = s.logger.Error().Err(o.Err)
	}
	event.Int("id", id).Str("name", o.Descriptor.Label()).Str("status", string(o.Status)).
		Int64("bytes", o.Bytes).Bool("resumed", o.Resumed).Int("statusCode", o.StatusCode).
		Dur("elapsed", o.Elapsed).Msg("transfer finished")
}

func (s *LogSink) BatchProgress(done, total int) {
	s.logger.Debug().Int("done", done).Int("total", total).Msg("batch progress")
}
