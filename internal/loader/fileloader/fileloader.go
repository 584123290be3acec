// Package fileloader loads fragments from the local filesystem. URLs are
// either file:// URLs or paths, relative paths being resolved against Root.
package fileloader

import (
	"context"
	"errors"
	"fmt"
	"fragloadd/internal/loader"
	"fragloadd/internal/logger"
	"fragloadd/internal/models"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Name is the registry name of the loader.
const Name = "file"

const defaultChunkSize = 32 * 1024

// Options are the loader options found under loaders.file in the configuration.
type Options struct {
	Root      string
	ChunkSize *int
}

func init() {
	loader.Register(Name, func(log logger.Logger, options map[string]interface{}) (models.Loader, error) {
		return New(log, options)
	})
}

// Loader reads one fragment from a file.
type Loader struct {
	logger    logger.Logger
	root      string
	chunkSize int
	attempt   loader.Attempt
	osOpen    func(name string) (*os.File, error)

	mutex sync.Mutex
	stats models.Stats
}

// New creates a loader from raw options.
func New(log logger.Logger, raw map[string]interface{}) (*Loader, error) {
	var opts Options
	if err := loader.DecodeOptions(raw, &opts); err != nil {
		return nil, err
	}
	chunkSize := defaultChunkSize
	if opts.ChunkSize != nil {
		if *opts.ChunkSize <= 0 {
			return nil, fmt.Errorf("option 'ChunkSize', invalid value '%d'", *opts.ChunkSize)
		}
		chunkSize = *opts.ChunkSize
	}

	return &Loader{
		logger:    log,
		root:      opts.Root,
		chunkSize: chunkSize,
		osOpen:    os.Open,
	}, nil
}

// Load starts reading the file in the background.
func (l *Loader) Load(ctx *models.LoaderContext, cfg models.LoaderConfig, callbacks models.Callbacks) {
	runCtx, ok := l.attempt.Start(cfg.Timeout, func() {
		callbacks.OnTimeout(l.snapshot(), ctx, nil)
	})
	if !ok {
		l.logger.Debugf("Loader already used or aborted, not loading %s", ctx.URL)
		return
	}

	l.update(func(s *models.Stats) { s.TRequest = time.Now() })
	go l.run(runCtx, ctx, cfg, callbacks)
}

// Abort stops reading.
func (l *Loader) Abort() {
	l.attempt.Abort()
}

// Destroy aborts the load.
func (l *Loader) Destroy() {
	l.attempt.Abort()
}

func (l *Loader) run(runCtx context.Context, ctx *models.LoaderContext, cfg models.LoaderConfig, callbacks models.Callbacks) {
	var resp models.Response

	err := loader.Retry(runCtx, cfg, func() error {
		var err error
		resp, err = l.read(runCtx, ctx, callbacks)
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
		callbacks.OnError(resp, ctx, nil)
		return
	}

	l.update(func(s *models.Stats) { s.TLoad = time.Now() })
	callbacks.OnSuccess(resp, l.snapshot(), ctx, nil)
}

// path resolves the fragment URL to a filesystem path.
func (l *Loader) path(rawURL string) (string, error) {
	p := rawURL
	if strings.HasPrefix(rawURL, "file:") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("invalid file url '%s': %w", rawURL, err)
		}
		p = u.Path
	}
	if !filepath.IsAbs(p) && l.root != "" {
		p = filepath.Join(l.root, p)
	}
	return p, nil
}

func (l *Loader) read(runCtx context.Context, ctx *models.LoaderContext, callbacks models.Callbacks) (models.Response, error) {
	resp := models.Response{URL: ctx.URL}

	p, err := l.path(ctx.URL)
	if err != nil {
		resp.Code = http.StatusBadRequest
		resp.Text = err.Error()
		return resp, err
	}

	f, err := l.osOpen(p)
	if err != nil {
		resp.Code = http.StatusInternalServerError
		if errors.Is(err, fs.ErrNotExist) {
			resp.Code = http.StatusNotFound
		}
		resp.Text = err.Error()
		return resp, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	var r io.Reader = f
	if ctx.HasRange {
		if _, err := f.Seek(ctx.RangeStart, io.SeekStart); err != nil {
			resp.Code = http.StatusRequestedRangeNotSatisfiable
			resp.Text = err.Error()
			return resp, fmt.Errorf("failed to seek %s: %w", p, err)
		}
		r = io.LimitReader(f, ctx.RangeEnd-ctx.RangeStart)
		l.update(func(s *models.Stats) { s.Total = ctx.RangeEnd - ctx.RangeStart })
	} else if fi, err := f.Stat(); err == nil {
		l.update(func(s *models.Stats) { s.Total = fi.Size() })
	}
	l.update(func(s *models.Stats) { s.TFirst = time.Now() })

	var data []byte
	buf := make([]byte, l.chunkSize)
	for {
		if err := runCtx.Err(); err != nil {
			resp.Text = err.Error()
			return resp, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			l.update(func(s *models.Stats) { s.Loaded += int64(n) })
			if l.attempt.Running() && callbacks.OnProgress != nil {
				var progressData []byte
				if ctx.ProgressData {
					progressData = append([]byte(nil), buf[:n]...)
				}
				callbacks.OnProgress(l.snapshot(), ctx, progressData, nil)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			resp.Code = http.StatusInternalServerError
			resp.Text = err.Error()
			return resp, fmt.Errorf("failed to read %s: %w", p, err)
		}
	}

	resp.Code = http.StatusOK
	resp.Text = "OK"
	resp.Data = data
	return resp, nil
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
