package utils

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDescriptor(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		dest      string
		label     string
		wantLabel string
		wantErr   bool
	}{
		{name: "plain", url: "https://example.com/a.zip", dest: "out/a.zip", wantLabel: "a.zip"},
		{name: "explicit label", url: "http://example.com/a.zip", dest: "a.zip", label: "archive", wantLabel: "archive"},
		{name: "relative url", url: "/a.zip", dest: "a.zip", wantErr: true},
		{name: "unsupported scheme", url: "ftp://example.com/a.zip", dest: "a.zip", wantErr: true},
		{name: "missing host", url: "http:///a.zip", dest: "a.zip", wantErr: true},
		{name: "empty destination", url: "https://example.com/a.zip", dest: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDescriptor(tt.url, tt.dest, tt.label)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidDescriptor))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.url, d.URL())
			assert.Equal(t, filepath.Clean(tt.dest), d.Destination())
			assert.Equal(t, tt.wantLabel, d.Label())
		})
	}
}

func TestOutcomePhase(t *testing.T) {
	assert.Equal(t, PhaseSucceeded, Outcome{Status: StatusSuccess}.Phase())
	assert.Equal(t, PhaseSkipped, Outcome{Status: StatusSkipped}.Phase())
	assert.Equal(t, PhaseFailed, Outcome{Status: StatusFailed}.Phase())
	assert.True(t, PhaseSkipped.Terminal())
	assert.False(t, PhaseTransferring.Terminal())
	assert.False(t, PhasePending.Terminal())
}

func TestSummarize(t *testing.T) {
	outcomes := []Outcome{
		{Status: StatusSuccess, Bytes: 10},
		{Status: StatusSkipped, Bytes: 99},
		{Status: StatusFailed, Err: NewTransferError(KindRequestFailed, 404, errors.New("nope"))},
		{Status: StatusSuccess, Bytes: 5},
	}
	s := Summarize(outcomes)
	assert.Equal(t, BatchSummary{Total: 4, Succeeded: 2, Skipped: 1, Failed: 1, Bytes: 15}, s)
	assert.Equal(t, BatchSummary{}, Summarize(nil))
}

func TestTransferError(t *testing.T) {
	cause := &StatusError{StatusCode: 404, Status: "404 Not Found"}
	err := NewTransferError(KindRequestFailed, 404, cause)

	assert.Equal(t, "RequestFailed (status 404): unexpected status: 404 Not Found", err.Error())
	assert.ErrorIs(t, err, &TransferError{Kind: KindRequestFailed})
	assert.NotErrorIs(t, err, &TransferError{Kind: KindProbeFailed})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.StatusCode)

	assert.Equal(t, KindRequestFailed, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, "Canceled: context canceled", NewTransferError(KindCanceled, StatusNone, errors.New("context canceled")).Error())
}
