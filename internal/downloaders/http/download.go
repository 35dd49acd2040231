package trawlhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/trawl/internal/utils"
)

const skipReason = "already fully downloaded"

// HTTPDownloader drives single transfers over a shared client. It holds no per-transfer
// state, so one value serves every concurrent transfer of a batch.
type HTTPDownloader struct {
	client     utils.HTTPDoer
	resumable  bool
	bufferSize int
}

// NewHTTPDownloader expects client to already carry the retry policy and extra headers.
func NewHTTPDownloader(client utils.HTTPDoer, cfg utils.EngineConfig) *HTTPDownloader {
	return &HTTPDownloader{
		client:     client,
		resumable:  cfg.Resumable,
		bufferSize: utils.DefaultBufferSize,
	}
}

// Download runs one descriptor to a terminal outcome. It never returns an error:
// every failure is recorded in the Outcome.
func (h *HTTPDownloader) Download(ctx context.Context, index int, d utils.Descriptor, rep utils.Reporter) utils.Outcome {
	t := &transfer{
		HTTPDownloader: h,
		ctx:            ctx,
		desc:           d,
		rep:            rep,
		start:          time.Now(),
		out: utils.Outcome{
			Descriptor: d,
			Index:      index,
			StatusCode: utils.StatusNone,
		},
	}
	return t.run()
}

type transfer struct {
	*HTTPDownloader
	ctx   context.Context
	desc  utils.Descriptor
	rep   utils.Reporter
	start time.Time
	out   utils.Outcome
}

func (t *transfer) run() utils.Outcome {
	d := t.desc
	if err := ensureParentDir(d.Destination()); err != nil {
		return t.fail(utils.KindDirectoryCreationFailed, utils.StatusNone, fmt.Errorf("error creating directory: %w", err))
	}

	t.rep.Phase(d, utils.PhaseNegotiating)
	res, err := Negotiate(t.ctx, t.client, d, t.resumable)
	if err != nil {
		if t.ctx.Err() != nil {
			return t.fail(utils.KindCanceled, utils.StatusNone, err)
		}
		return t.failWith(err)
	}
	t.out.StatusCode = res.ProbeStatus
	if res.Skip {
		t.out.Bytes = res.BytesOnDisk
		return t.skip()
	}

	offset := int64(0)
	if res.CanResume {
		offset = res.BytesOnDisk
	}

	resp, err := t.get(offset)
	if err != nil {
		return t.fail(utils.KindRequestFailed, utils.StatusNone, err)
	}
	if offset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		// without a probed length an oversized local file only shows up here
		if _, _, total, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil && total >= 0 && total < offset {
			log.Warn().Str("op", "http/download").Str("output", d.Destination()).Int64("onDisk", offset).
				Int64("remote", total).Msg("local file larger than remote, restarting download")
			resp.Body.Close()
			offset = 0
			if resp, err = t.get(offset); err != nil {
				return t.fail(utils.KindRequestFailed, utils.StatusNone, err)
			}
		}
	}
	defer resp.Body.Close()
	t.out.StatusCode = resp.StatusCode

	switch {
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
		if start, _, _, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil && start != offset {
			return t.fail(utils.KindRequestFailed, resp.StatusCode, fmt.Errorf("server resumed at byte %d, expected %d", start, offset))
		}
	case offset > 0 && resp.StatusCode == http.StatusOK:
		log.Warn().Str("op", "http/download").Str("output", d.Destination()).
			Msg("server ignored range request, restarting download")
		offset = 0
	case offset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		if _, _, total, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil && total == offset {
			t.out.Bytes = offset
			return t.skip()
		}
		return t.fail(utils.KindRequestFailed, resp.StatusCode, &utils.StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return t.fail(utils.KindRequestFailed, resp.StatusCode, &utils.StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	// The remote may have changed since the probe, so the response decides the size.
	expected := int64(-1)
	if resp.ContentLength >= 0 {
		expected = resp.ContentLength + offset
	}
	if res.RemoteLength >= 0 && expected >= 0 && expected != res.RemoteLength {
		log.Debug().Str("op", "http/download").Str("output", d.Destination()).Int64("probed", res.RemoteLength).
			Int64("expected", expected).Msg("remote size changed since probe")
	}
	if offset > 0 && expected == offset {
		t.out.Bytes = offset
		return t.skip()
	}

	t.rep.Phase(d, utils.PhaseTransferring)
	return t.stream(resp.Body, offset, expected)
}

func (t *transfer) get(offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.desc.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating GET request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		log.Debug().Str("op", "http/download").Str("output", t.desc.Destination()).Int64("offset", offset).Msg("resuming download")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing GET request: %w", err)
	}
	return resp, nil
}

func (t *transfer) stream(body io.Reader, offset, expected int64) utils.Outcome {
	d := t.desc
	fileMode := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		fileMode |= os.O_APPEND
	} else {
		fileMode |= os.O_TRUNC
	}
	outFile, err := os.OpenFile(d.Destination(), fileMode, 0644)
	if err != nil {
		return t.fail(utils.KindFileWriteFailed, t.out.StatusCode, fmt.Errorf("error opening output file: %w", err))
	}
	t.out.Resumed = offset > 0
	t.rep.Started(expected, offset)

	written := int64(0)
	buffer := make([]byte, t.bufferSize)
	for {
		bytesRead, readErr := body.Read(buffer)
		if bytesRead > 0 {
			chunk := buffer[:bytesRead]
			overflow := false
			if expected >= 0 && offset+written+int64(len(chunk)) > expected {
				chunk = chunk[:expected-offset-written]
				overflow = true
			}
			if len(chunk) > 0 {
				if _, writeErr := outFile.Write(chunk); writeErr != nil {
					outFile.Close()
					t.out.Bytes = offset + written
					return t.fail(utils.KindFileWriteFailed, t.out.StatusCode, fmt.Errorf("error writing to output file: %w", writeErr))
				}
				written += int64(len(chunk))
				t.rep.Progress(int64(len(chunk)))
			}
			if overflow {
				outFile.Close()
				t.out.Bytes = offset + written
				return t.fail(utils.KindStreamReadFailed, t.out.StatusCode, utils.ErrBodyTooLong)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			outFile.Close()
			t.out.Bytes = offset + written
			return t.fail(utils.KindStreamReadFailed, t.out.StatusCode, fmt.Errorf("error reading response body: %w", readErr))
		}
	}
	t.out.Bytes = offset + written

	if err := outFile.Sync(); err != nil {
		outFile.Close()
		return t.fail(utils.KindFileWriteFailed, t.out.StatusCode, fmt.Errorf("error syncing output file: %w", err))
	}
	if err := outFile.Close(); err != nil {
		return t.fail(utils.KindFileWriteFailed, t.out.StatusCode, fmt.Errorf("error closing output file: %w", err))
	}
	log.Debug().Str("op", "http/download").Str("output", d.Destination()).Int64("bytes", t.out.Bytes).
		Bool("resumed", t.out.Resumed).Msg("download complete")
	t.out.Status = utils.StatusSuccess
	return t.finish()
}

func (t *transfer) skip() utils.Outcome {
	log.Debug().Str("op", "http/download").Str("output", t.desc.Destination()).Msg("skipping, " + skipReason)
	t.out.Status = utils.StatusSkipped
	t.out.Reason = skipReason
	return t.finish()
}

func (t *transfer) fail(kind utils.ErrorKind, status int, err error) utils.Outcome {
	if t.ctx.Err() != nil && kind != utils.KindDirectoryCreationFailed {
		kind = utils.KindCanceled
	}
	return t.failWith(utils.NewTransferError(kind, status, err))
}

func (t *transfer) failWith(err error) utils.Outcome {
	var te *utils.TransferError
	if errors.As(err, &te) && te.StatusCode != utils.StatusNone {
		t.out.StatusCode = te.StatusCode
	}
	log.Error().Str("op", "http/download").Str("output", t.desc.Destination()).Err(err).Msg("download failed")
	t.out.Status = utils.StatusFailed
	t.out.Err = err
	return t.finish()
}

func (t *transfer) finish() utils.Outcome {
	t.out.Elapsed = time.Since(t.start)
	return t.out
}
