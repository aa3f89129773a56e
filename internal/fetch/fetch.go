// SPDX-License-Identifier: MIT

// Package fetch retrieves single source images from the upstream screenshot
// service, with per-request retry and temporal fallback search.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/heliolapse/heliolapse/internal/config"
	"github.com/heliolapse/heliolapse/internal/log"
	"github.com/heliolapse/heliolapse/internal/metrics"
	"github.com/heliolapse/heliolapse/internal/registry"
	"github.com/heliolapse/heliolapse/internal/source"
	"github.com/heliolapse/heliolapse/internal/window"
)

var (
	// ErrUnavailable covers upstream non-2xx, network errors and timeouts.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrInvalidImage covers bodies below the minimum byte threshold.
	ErrInvalidImage = errors.New("invalid image body")
)

// Result is a successfully retrieved (or best-effort duplicate) source image.
type Result struct {
	Kind          source.Kind
	Bytes         []byte
	Fingerprint   string // 128-bit digest, hex
	ActualTime    time.Time
	OffsetApplied int  // signed minutes deviation from the requested instant
	Duplicate     bool // set when every offset produced a duplicate
	Attempts      int  // upstream requests made at the offset that produced this result
}

// Client fetches source images with bounded retry and upstream rate limiting.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	cfg     config.FetchConfig
	reg     *registry.Registry
}

// NewClient creates a fetch client. The registry is consulted between
// retrieval and acceptance of every body.
func NewClient(base string, cfg config.FetchConfig, reg *registry.Registry) *Client {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 4
	}
	return &Client{
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		cfg:     cfg,
		reg:     reg,
	}
}

// Fetch retrieves one source image for the target instant. Offsets are tried
// strictly in the configured order; an offset is accepted when the fetch
// returns a valid body and the registry accepts its fingerprint. When every
// offset yields a duplicate, the last duplicate body is returned with the
// Duplicate marker set. When every offset fails outright, ErrUnavailable
// (or ErrInvalidImage) is returned. The Result carries the attempt count of
// the offset that decided the outcome, even on error, so the manifest can
// record how many upstream requests the losing offset consumed.
func (c *Client) Fetch(ctx context.Context, target window.TargetInstant, spec source.Spec) (Result, error) {
	logger := log.WithComponentFromContext(ctx, "fetch")

	var lastDup *Result
	var lastErr error
	var lastAttempts int

	for _, offset := range spec.FallbackOffsets {
		instant := target.Time.Add(time.Duration(offset) * time.Minute)

		body, attempts, err := c.fetchOnce(ctx, instant, spec)
		lastAttempts = attempts
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return Result{Attempts: attempts}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
			continue
		}

		fp := Fingerprint(body)
		decision := c.reg.Offer(spec.Kind, fp, target.Index)
		if !decision.Accepted {
			metrics.RecordFetch(string(spec.Kind), "duplicate")
			logger.Debug().
				Str("source", string(spec.Kind)).
				Int("index", target.Index).
				Int("offset", offset).
				Int("prev_index", decision.PrevIndex).
				Msg("fingerprint rejected as duplicate, trying next offset")
			lastDup = &Result{
				Kind:          spec.Kind,
				Bytes:         body,
				Fingerprint:   fp,
				ActualTime:    instant,
				OffsetApplied: offset,
				Duplicate:     true,
				Attempts:      attempts,
			}
			continue
		}

		metrics.RecordFetch(string(spec.Kind), "ok")
		metrics.RecordFallback(string(spec.Kind), offset)
		if offset != 0 {
			logger.Debug().
				Str("source", string(spec.Kind)).
				Int("index", target.Index).
				Int("offset", offset).
				Msg("fallback offset accepted")
		}
		return Result{
			Kind:          spec.Kind,
			Bytes:         body,
			Fingerprint:   fp,
			ActualTime:    instant,
			OffsetApplied: offset,
			Attempts:      attempts,
		}, nil
	}

	if lastDup != nil {
		// All offsets were duplicates: downgrade to best-effort success.
		logger.Warn().
			Str("source", string(spec.Kind)).
			Int("index", target.Index).
			Msg("all fallback offsets rejected as duplicates, keeping last body")
		return *lastDup, nil
	}
	if lastErr == nil {
		lastErr = ErrUnavailable
	}
	return Result{Attempts: lastAttempts}, lastErr
}

// fetchOnce performs the bounded retry loop for a single (instant, offset)
// pair: up to Attempts requests with linearly increasing delay. The second
// return is how many requests were actually issued.
func (c *Client) fetchOnce(ctx context.Context, instant time.Time, spec source.Spec) ([]byte, int, error) {
	var lastErr error
	made := 0
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.cfg.RetryBase * time.Duration(attempt-1)):
			case <-ctx.Done():
				return nil, made, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, made, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		made++
		body, err := c.request(ctx, instant, spec)
		if err == nil {
			return body, made, nil
		}
		lastErr = err
		if errors.Is(err, ErrInvalidImage) {
			metrics.RecordFetch(string(spec.Kind), "invalid")
		} else {
			metrics.RecordFetch(string(spec.Kind), "unavailable")
		}
	}
	return nil, made, lastErr
}

func (c *Client) request(ctx context.Context, instant time.Time, spec source.Spec) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(instant, spec), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if int64(len(body)) < c.cfg.MinBytes {
		return nil, fmt.Errorf("%w: %d bytes below %d threshold", ErrInvalidImage, len(body), c.cfg.MinBytes)
	}
	return body, nil
}

// requestURL builds the upstream screenshot query. The date carries the
// possibly-adjusted instant with no sub-second component.
func (c *Client) requestURL(instant time.Time, spec source.Spec) string {
	q := url.Values{}
	q.Set("date", instant.UTC().Format(window.KeyFormat))
	q.Set("layers", spec.Layers())
	q.Set("imageScale", strconv.FormatFloat(spec.ImageScale, 'f', -1, 64))
	q.Set("width", strconv.Itoa(spec.Width))
	q.Set("height", strconv.Itoa(spec.Height))
	q.Set("x0", "0")
	q.Set("y0", "0")
	q.Set("display", "true")
	q.Set("watermark", "false")
	return c.base + "?" + q.Encode()
}

// Fingerprint computes the 128-bit digest of raw image bytes: the first
// 16 bytes of SHA-256, hex-encoded.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:16])
}
