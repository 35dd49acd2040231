package trawlhttp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/trawl/internal/utils"
)

// Resumability is what negotiation learned about one transfer before the full request.
type Resumability struct {
	CanResume   bool
	BytesOnDisk int64
	// RemoteLength is the declared size from the probe, -1 when unknown.
	RemoteLength int64
	// ProbeStatus is the status code of the capability probe, or StatusNone.
	ProbeStatus int
	// Skip is set when the destination already holds exactly RemoteLength bytes.
	Skip bool
}

// Negotiate probes the remote for range support and reconciles it with the local file.
// With resumable disabled no request is made at all.
func Negotiate(ctx context.Context, client utils.HTTPDoer, d utils.Descriptor, resumable bool) (Resumability, error) {
	res := Resumability{RemoteLength: -1, ProbeStatus: utils.StatusNone}
	if !resumable {
		return res, nil
	}

	probe, err := probeRemote(ctx, client, d.URL())
	if err != nil {
		return res, err
	}
	res.CanResume = probe.acceptsRanges
	res.RemoteLength = probe.length
	res.ProbeStatus = probe.status
	if !res.CanResume {
		log.Debug().Str("op", "http/initial").Str("url", d.URL()).Msg("remote does not accept range requests")
		return res, nil
	}

	info, err := os.Stat(d.Destination())
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, utils.NewTransferError(utils.KindProbeFailed, utils.StatusNone, fmt.Errorf("error inspecting destination: %w", err))
	}
	if info.IsDir() {
		return res, utils.NewTransferError(utils.KindProbeFailed, utils.StatusNone, fmt.Errorf("destination %s is a directory", d.Destination()))
	}
	res.BytesOnDisk = info.Size()
	log.Debug().Str("op", "http/initial").Str("output", d.Destination()).Int64("onDisk", res.BytesOnDisk).
		Int64("remote", res.RemoteLength).Msg("destination already exists")

	if res.RemoteLength >= 0 {
		switch {
		case res.BytesOnDisk == res.RemoteLength:
			res.Skip = true
		case res.BytesOnDisk > res.RemoteLength:
			// the local file cannot be a prefix of the remote one; start over
			log.Warn().Str("op", "http/initial").Str("output", d.Destination()).Int64("onDisk", res.BytesOnDisk).
				Int64("remote", res.RemoteLength).Msg("local file larger than remote, restarting download")
			res.BytesOnDisk = 0
		}
	}
	return res, nil
}

type probeResult struct {
	acceptsRanges bool
	length        int64
	status        int
}

// probeRemote sends a HEAD request, falling back to a one-byte ranged GET for servers
// that refuse HEAD.
func probeRemote(ctx context.Context, client utils.HTTPDoer, link string) (probeResult, error) {
	result, err := headProbe(ctx, client, link)
	if err == nil {
		return result, nil
	}
	var te *utils.TransferError
	if errors.As(err, &te) && (te.StatusCode == http.StatusMethodNotAllowed || te.StatusCode == http.StatusNotImplemented) {
		log.Debug().Str("op", "http/initial").Str("url", link).Int("status", te.StatusCode).Msg("HEAD refused, probing with ranged GET")
		return rangeProbe(ctx, client, link)
	}
	return result, err
}

func headProbe(ctx context.Context, client utils.HTTPDoer, link string) (probeResult, error) {
	result := probeResult{length: -1, status: utils.StatusNone}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return result, utils.NewTransferError(utils.KindProbeFailed, utils.StatusNone, fmt.Errorf("error creating HEAD request: %w", err))
	}
	resp, err := client.Do(req)
	if err != nil {
		return result, utils.NewTransferError(utils.KindProbeFailed, utils.StatusNone, fmt.Errorf("error probing URL: %w", err))
	}
	defer resp.Body.Close()
	result.status = resp.StatusCode
	if err := classifyProbeStatus(resp); err != nil {
		return result, err
	}
	result.acceptsRanges = acceptsByteRanges(resp.Header)
	result.length = declaredLength(resp)
	return result, nil
}

func rangeProbe(ctx context.Context, client utils.HTTPDoer, link string) (probeResult, error) {
	result := probeResult{length: -1, status: utils.StatusNone}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return result, utils.NewTransferError(utils.KindProbeFailed, utils.StatusNone, fmt.Errorf("error creating probe request: %w", err))
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := client.Do(req)
	if err != nil {
		return result, utils.NewTransferError(utils.KindProbeFailed, utils.StatusNone, fmt.Errorf("error probing URL: %w", err))
	}
	defer resp.Body.Close()
	result.status = resp.StatusCode
	if err := classifyProbeStatus(resp); err != nil {
		return result, err
	}
	if resp.StatusCode != http.StatusPartialContent {
		// range ignored; the body is the whole resource
		result.length = resp.ContentLength
		return result, nil
	}
	result.acceptsRanges = true
	if _, _, total, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil {
		result.length = total
	}
	return result, nil
}

// classifyProbeStatus turns a failed probe status into a TransferError. Client errors
// reject the resource itself and are reported as request failures; anything else that
// is not 2xx means negotiation could not complete.
func classifyProbeStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := &utils.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusMethodNotAllowed {
		return utils.NewTransferError(utils.KindRequestFailed, resp.StatusCode, statusErr)
	}
	return utils.NewTransferError(utils.KindProbeFailed, resp.StatusCode, statusErr)
}
