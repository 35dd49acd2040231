package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/trawl/internal/utils"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "0 B/s", FormatSpeed(100, 0))
	assert.Equal(t, "0 B/s", FormatSpeed(0, 2))
	assert.Equal(t, "1.00 KB/s", FormatSpeed(2048, 2))
}

func TestPrintProgressBar(t *testing.T) {
	assert.Contains(t, PrintProgressBar(50, 100, 10), "50.0%")
	assert.Contains(t, PrintProgressBar(200, 100, 10), "100.0%")
	assert.Contains(t, PrintProgressBar(-5, 100, 10), "0.0%")
	assert.Contains(t, PrintProgressBar(0, 0, 10), "0.0%")
	full := PrintProgressBar(100, 100, 10)
	assert.Equal(t, 10, strings.Count(full, StyleSymbols["hline"]))
}

func testDescriptor(t *testing.T, name string) utils.Descriptor {
	t.Helper()
	d, err := utils.NewDescriptor("https://example.com/"+name, name, "")
	require.NoError(t, err)
	return d
}

func TestManager_TracksTransfers(t *testing.T) {
	var buf bytes.Buffer
	m := NewManagerWithWriter(&buf)
	a, b, c := testDescriptor(t, "a.bin"), testDescriptor(t, "b.bin"), testDescriptor(t, "c.bin")

	for i, d := range []utils.Descriptor{a, b, c} {
		m.TransferPhase(i, d, utils.PhasePending)
	}
	assert.Equal(t, "pending", m.GetStatus(0))

	m.TransferPhase(0, a, utils.PhaseNegotiating)
	m.TransferPhase(0, a, utils.PhaseTransferring)
	m.TransferStarted(0, 2048, 0)
	m.TransferProgress(0, 1024)
	assert.Equal(t, "active", m.GetStatus(0))
	m.mutex.RLock()
	require.Len(t, m.transfers[0].StreamLines, 1)
	assert.Contains(t, m.transfers[0].StreamLines[0], "50.0%")
	m.mutex.RUnlock()

	m.TransferDone(0, utils.Outcome{Descriptor: a, Status: utils.StatusSuccess, Bytes: 2048})
	m.TransferDone(1, utils.Outcome{Descriptor: b, Status: utils.StatusSkipped, Reason: "already fully downloaded"})
	m.TransferDone(2, utils.Outcome{Descriptor: c, Status: utils.StatusFailed, Err: errors.New("boom")})
	m.BatchProgress(3, 3)

	assert.Equal(t, "success", m.GetStatus(0))
	assert.Equal(t, "skipped", m.GetStatus(1))
	assert.Equal(t, "error", m.GetStatus(2))
	assert.Equal(t, "unknown", m.GetStatus(7))

	m.ShowSummary()
	out := buf.String()
	assert.Contains(t, out, "Completed 1 of 3")
	assert.Contains(t, out, "Skipped 1 of 3")
	assert.Contains(t, out, "Failed 1 of 3")
	assert.Contains(t, out, "Transfer: c.bin")
	assert.Contains(t, out, "boom")
}

func TestManager_StartStopDisplay(t *testing.T) {
	var buf bytes.Buffer
	m := NewManagerWithWriter(&buf)
	d := testDescriptor(t, "x.bin")
	m.StartDisplay()
	m.TransferPhase(0, d, utils.PhasePending)
	m.TransferDone(0, utils.Outcome{Descriptor: d, Status: utils.StatusSuccess, Bytes: 10})
	m.BatchProgress(1, 1)
	m.StopDisplay()
	m.StopDisplay()

	out := buf.String()
	assert.Contains(t, out, "1/1 transfers finished")
	assert.Contains(t, out, "Completed x.bin")
	assert.Contains(t, out, "Completed 1 of 1")
}

func TestManager_HoldsLogsUntilStopped(t *testing.T) {
	var buf bytes.Buffer
	m := NewManagerWithWriter(&buf)
	restore := utils.RedirectConsole(m.LogWriter())
	defer restore()

	log.Warn().Str("op", "retry").Msg("retrying request")
	assert.Empty(t, buf.String())

	d := testDescriptor(t, "held.bin")
	m.StartDisplay()
	m.TransferDone(0, utils.Outcome{Descriptor: d, Status: utils.StatusSuccess, Bytes: 1})
	m.StopDisplay()

	out := buf.String()
	logAt := strings.Index(out, "retrying request")
	require.GreaterOrEqual(t, logAt, 0)
	assert.Less(t, logAt, strings.Index(out, "Completed 1 of 1"))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	utils.SetLogOutput(&buf)
	s := NewLogSink()
	d := testDescriptor(t, "log.bin")

	s.TransferPhase(4, d, utils.PhasePending)
	s.TransferStarted(4, 100, 20)
	s.TransferProgress(4, 80)
	s.TransferDone(4, utils.Outcome{Descriptor: d, Status: utils.StatusSuccess, Bytes: 100, Resumed: true})
	s.TransferDone(5, utils.Outcome{Descriptor: d, Status: utils.StatusFailed, Err: errors.New("disk full")})

	out := buf.String()
	assert.Contains(t, out, "transfer started")
	assert.Contains(t, out, "name=log.bin")
	assert.Contains(t, out, "offset=20")
	assert.Contains(t, out, "transfer finished")
	assert.Contains(t, out, "status=success")
	assert.Contains(t, out, "disk full")
}
