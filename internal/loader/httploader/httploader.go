// Package httploader is the default fragment loader: it fetches fragments
// over HTTP(S), honouring byte ranges, timeouts and aborts.
package httploader

import (
	"context"
	"errors"
	"fmt"
	"fragloadd/internal/loader"
	"fragloadd/internal/logger"
	"fragloadd/internal/models"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Name is the registry name of the loader.
const Name = "http"

const (
	defaultMaxIdleConns          = 100
	defaultIdleConnTimeout       = 90 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultChunkSize             = 32 * 1024
)

// Options are the loader options found under loaders.http in the configuration.
type Options struct {
	UserAgent             string
	Headers               map[string]string
	MaxIdleConns          *int
	IdleConnTimeout       *time.Duration
	ResponseHeaderTimeout *time.Duration
	ChunkSize             *int
}

func init() {
	loader.Register(Name, func(log logger.Logger, options map[string]interface{}) (models.Loader, error) {
		return New(log, options)
	})
}

// Loader fetches one fragment over HTTP.
type Loader struct {
	client    *http.Client
	logger    logger.Logger
	// userAgent, headers and chunkSize are read-only after New.
	userAgent string
	headers   map[string]string
	chunkSize int
	attempt   loader.Attempt

	mutex sync.Mutex
	stats models.Stats
}

// New creates a loader from raw options.
func New(log logger.Logger, raw map[string]interface{}) (*Loader, error) {
	var opts Options
	if err := loader.DecodeOptions(raw, &opts); err != nil {
		return nil, err
	}
	if opts.ChunkSize != nil && *opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("option 'ChunkSize', invalid value '%d'", *opts.ChunkSize)
	}

	chunkSize := defaultChunkSize
	if opts.ChunkSize != nil {
		chunkSize = *opts.ChunkSize
	}

	return &Loader{
		client:    sharedClient(transportKeyFrom(opts)),
		logger:    log,
		userAgent: opts.UserAgent,
		headers:   opts.Headers,
		chunkSize: chunkSize,
	}, nil
}

// Load starts the fetch in the background.
func (l *Loader) Load(ctx *models.LoaderContext, cfg models.LoaderConfig, callbacks models.Callbacks) {
	runCtx, ok := l.attempt.Start(cfg.Timeout, func() {
		l.logger.Debugf("Timeout after %v loading %s", cfg.Timeout, ctx.URL)
		callbacks.OnTimeout(l.snapshot(), ctx, nil)
	})
	if !ok {
		l.logger.Debugf("Loader already used or aborted, not loading %s", ctx.URL)
		return
	}

	l.update(func(s *models.Stats) { s.TRequest = time.Now() })
	go l.run(runCtx, ctx, cfg, callbacks)
}

// Abort cancels the request in flight.
func (l *Loader) Abort() {
	l.attempt.Abort()
}

// Destroy aborts the request. The shared client stays open for other loaders.
func (l *Loader) Destroy() {
	l.attempt.Abort()
}

func (l *Loader) run(runCtx context.Context, ctx *models.LoaderContext, cfg models.LoaderConfig, callbacks models.Callbacks) {
	var (
		resp    models.Response
		details *models.NetworkDetails
	)

	err := loader.Retry(runCtx, cfg, func() error {
		var err error
		resp, details, err = l.fetch(runCtx, ctx, callbacks)
		return err
	}, func(retry int, err error) {
		l.logger.Warnf("Retrying %s (%d/%d): %v", ctx.URL, retry, cfg.MaxRetry, err)
		l.update(func(s *models.Stats) {
			s.Retry = retry
			s.Loaded = 0
		})
	})

	if !l.attempt.Finish() {
		return
	}
	if err != nil {
		l.logger.Debugf("Failed to load %s: %v", ctx.URL, err)
		callbacks.OnError(resp, ctx, details)
		return
	}

	l.update(func(s *models.Stats) { s.TLoad = time.Now() })
	callbacks.OnSuccess(resp, l.snapshot(), ctx, details)
}

// fetch performs one request and reads the whole body, reporting progress.
func (l *Loader) fetch(runCtx context.Context, ctx *models.LoaderContext, callbacks models.Callbacks) (models.Response, *models.NetworkDetails, error) {
	resp := models.Response{URL: ctx.URL}

	req, err := http.NewRequestWithContext(runCtx, http.MethodGet, ctx.URL, nil)
	if err != nil {
		resp.Text = err.Error()
		return resp, nil, fmt.Errorf("failed to create request for %s: %w", ctx.URL, err)
	}
	if ctx.HasRange {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", ctx.RangeStart, ctx.RangeEnd-1))
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}
	for k, v := range l.headers {
		req.Header.Set(k, v)
	}

	details := &models.NetworkDetails{RequestID: uuid.New().String()}
	httpResp, err := l.client.Do(req)
	if err != nil {
		resp.Text = err.Error()
		return resp, details, fmt.Errorf("request for %s failed: %w", ctx.URL, err)
	}
	defer httpResp.Body.Close()

	details.StatusCode = httpResp.StatusCode
	details.Header = httpResp.Header
	resp.Code = httpResp.StatusCode
	resp.Text = httpResp.Status
	resp.URL = httpResp.Request.URL.String()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return resp, details, fmt.Errorf("request for %s received status %d", ctx.URL, httpResp.StatusCode)
	}

	l.update(func(s *models.Stats) {
		s.TFirst = time.Now()
		if httpResp.ContentLength > 0 {
			s.Total = httpResp.ContentLength
		}
	})

	data, err := l.read(httpResp.Body, ctx, callbacks, details)
	if err != nil {
		resp.Text = err.Error()
		return resp, details, fmt.Errorf("failed to read body of %s: %w", ctx.URL, err)
	}
	resp.Data = data
	return resp, details, nil
}

func (l *Loader) read(body io.Reader, ctx *models.LoaderContext, callbacks models.Callbacks, details *models.NetworkDetails) ([]byte, error) {
	var data []byte
	buf := make([]byte, l.chunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			data = append(data, chunk...)
			l.update(func(s *models.Stats) { s.Loaded += int64(n) })
			if l.attempt.Running() && callbacks.OnProgress != nil {
				var progressData []byte
				if ctx.ProgressData {
					progressData = append([]byte(nil), chunk...)
				}
				callbacks.OnProgress(l.snapshot(), ctx, progressData, details)
			}
		}
		if errors.Is(err, io.EOF) {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (l *Loader) update(fn func(s *models.Stats)) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	fn(&l.stats)
}

func (l *Loader) snapshot() models.Stats {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.stats
}

var _ models.Loader = (*Loader)(nil)
