// Package downloader fetches one image per call over HTTP with bounded
// retries and stores it through the storage layer.
package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	errs "imgbatch/pkg/errors"
	"imgbatch/pkg/logger"
	"imgbatch/pkg/ratelimit"
	"imgbatch/pkg/retry"
	"imgbatch/pkg/storage"
)

// Config holds the request behaviour
type Config struct {
	Timeout              time.Duration
	DelayBetweenRequests time.Duration
	// MaxRetries is the total number of attempts per image
	MaxRetries int
	UserAgent  string
}

// Storage persists downloaded bytes
type Storage interface {
	WriteAtomic(folder storage.TargetFolder, name string, r io.Reader) (int64, error)
}

// Destination is where a downloaded image goes
type Destination struct {
	Folder storage.TargetFolder
	Name   string
}

// Result describes a single download
type Result struct {
	Attempts int
	Bytes    int64
	Err      error
}

// Downloader performs sequential image downloads
type Downloader struct {
	cfg     Config
	client  *http.Client
	store   Storage
	limiter ratelimit.Limiter
	log     logger.Logger
}

// Option configures a Downloader
type Option func(*Downloader)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) {
		d.client = c
	}
}

// WithLimiter replaces the default pacing limiter
func WithLimiter(l ratelimit.Limiter) Option {
	return func(d *Downloader) {
		d.limiter = l
	}
}

// New creates a downloader writing into store
func New(cfg Config, store Storage, log logger.Logger, opts ...Option) *Downloader {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	d := &Downloader{
		cfg:     cfg,
		client:  &http.Client{},
		store:   store,
		limiter: ratelimit.NewInterval(cfg.DelayBetweenRequests),
		log:     log.WithField("component", "downloader"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches rawURL and stores it at dest. Exactly one file exists at
// dest after a successful call; none is created on failure.
func (d *Downloader) Download(ctx context.Context, rawURL string, dest Destination) Result {
	if err := validateURL(rawURL); err != nil {
		// no request is issued but the record still consumed an attempt
		return Result{Attempts: 1, Err: &errs.Error{
			Kind:     errs.KindPermanentDownload,
			Message:  fmt.Sprintf("invalid url %q", rawURL),
			Attempts: 1,
			Err:      err,
		}}
	}

	data, attempts, err := retry.DoWithResult(func(ctx context.Context, attempt int) ([]byte, error) {
		return d.fetch(ctx, rawURL, attempt)
	}, &retry.Config{
		MaxAttempts: d.cfg.MaxRetries,
		Backoff:     &retry.ConstantBackoff{Delay: d.cfg.DelayBetweenRequests},
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      d.log.WithField("url", rawURL),
	})
	if err != nil {
		return Result{Attempts: attempts, Err: classifyFailure(err, attempts)}
	}

	n, err := d.store.WriteAtomic(dest.Folder, dest.Name, bytes.NewReader(data))
	if err != nil {
		if errs.KindOf(err) != errs.KindWrite {
			err = errs.Wrap(errs.KindWrite, err, "storing %s", dest.Name)
		}
		return Result{Attempts: attempts, Err: err}
	}

	return Result{Attempts: attempts, Bytes: n}
}

// fetch performs one paced GET with its own timeout
func (d *Downloader) fetch(ctx context.Context, rawURL string, attempt int) ([]byte, error) {
	// consecutive requests, across records too, stay DelayBetweenRequests apart
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentDownload, err, "building request")
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.LogAttempt(d.log, rawURL, attempt, 0, elapsed)
		return nil, errs.Wrap(errs.KindTransientDownload, err, "request failed")
	}
	defer resp.Body.Close()

	logger.LogAttempt(d.log, rawURL, attempt, resp.StatusCode, elapsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		kind := errs.KindPermanentDownload
		if errs.IsRetryableStatusCode(resp.StatusCode) {
			kind = errs.KindTransientDownload
		}
		return nil, &errs.Error{
			Kind:    kind,
			Code:    resp.StatusCode,
			Message: "unexpected status " + resp.Status,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.KindTransientDownload, err, "reading body")
	}
	return data, nil
}

// classifyFailure turns the final retry error into the record's error
func classifyFailure(err error, attempts int) error {
	var last *errs.Error
	errors.As(err, &last)

	switch {
	case errors.Is(err, retry.ErrMaxAttempts):
		out := errs.Wrap(errs.KindPermanentDownload, err, "giving up after %d attempts", attempts)
		if last != nil {
			out.Code = last.Code
		}
		out.Attempts = attempts
		return out
	case last != nil && last.Kind != errs.KindTransientDownload:
		out := *last
		out.Attempts = attempts
		return &out
	default:
		// cancellation of the run
		out := errs.Wrap(errs.KindPermanentDownload, err, "download aborted")
		out.Attempts = attempts
		return out
	}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
