package utils

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// StatusNone is the HTTP status recorded when no response was received.
const StatusNone = 0

// Descriptor describes one unit of work: a remote URL and where it lands on disk.
// It is immutable once built; use NewDescriptor to construct one.
type Descriptor struct {
	url   string
	dest  string
	label string
}

// NewDescriptor validates the source URL and destination and returns a Descriptor.
// An empty label defaults to the destination's base name.
func NewDescriptor(rawURL, dest, label string) (Descriptor, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: invalid URL %q: %v", ErrInvalidDescriptor, rawURL, err)
	}
	if !parsedURL.IsAbs() || parsedURL.Host == "" {
		return Descriptor{}, fmt.Errorf("%w: URL must be absolute: %q", ErrInvalidDescriptor, rawURL)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return Descriptor{}, fmt.Errorf("%w: unsupported scheme: %s", ErrInvalidDescriptor, parsedURL.Scheme)
	}
	if strings.TrimSpace(dest) == "" {
		return Descriptor{}, fmt.Errorf("%w: empty destination for %s", ErrInvalidDescriptor, rawURL)
	}
	dest = filepath.Clean(dest)
	if label == "" {
		label = filepath.Base(dest)
	}
	return Descriptor{url: parsedURL.String(), dest: dest, label: label}, nil
}

func (d Descriptor) URL() string         { return d.url }
func (d Descriptor) Destination() string { return d.dest }
func (d Descriptor) Label() string       { return d.label }

func (d Descriptor) String() string {
	return fmt.Sprintf("%s -> %s", d.url, d.dest)
}

// Status is the terminal state of a transfer.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Phase is the externally visible lifecycle stage of a single transfer.
type Phase string

const (
	PhasePending      Phase = "pending"
	PhaseNegotiating  Phase = "negotiating"
	PhaseTransferring Phase = "transferring"
	PhaseSucceeded    Phase = "succeeded"
	PhaseSkipped      Phase = "skipped"
	PhaseFailed       Phase = "failed"
)

// Terminal reports whether no further phase can follow p.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseSkipped || p == PhaseFailed
}

// Outcome is the result record for one Descriptor.
type Outcome struct {
	Descriptor Descriptor
	Index      int
	Status     Status
	// Reason explains a skip.
	Reason string
	// Err is set for failed outcomes and is always a *TransferError.
	Err        error
	Bytes      int64
	StatusCode int
	Resumed    bool
	Elapsed    time.Duration
}

func (o Outcome) Succeeded() bool { return o.Status == StatusSuccess }
func (o Outcome) Skipped() bool   { return o.Status == StatusSkipped }
func (o Outcome) Failed() bool    { return o.Status == StatusFailed }

// Phase maps the outcome onto its terminal phase.
func (o Outcome) Phase() Phase {
	switch o.Status {
	case StatusSuccess:
		return PhaseSucceeded
	case StatusSkipped:
		return PhaseSkipped
	default:
		return PhaseFailed
	}
}

// BatchSummary aggregates a batch of outcomes.
type BatchSummary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Bytes     int64
}

func Summarize(outcomes []Outcome) BatchSummary {
	s := BatchSummary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o.Status {
		case StatusSuccess:
			s.Succeeded++
			s.Bytes += o.Bytes
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// BatchEntry is one line of a batch file before it is resolved into Descriptors.
type BatchEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
	Name       string `yaml:"name,omitempty"`
}
