// Package fragloader coordinates fragment loads: at most one loader is in
// flight per track type, a new request aborts the one it supersedes, and
// loader outcomes are turned into lifecycle notifications.
package fragloader

import (
	"fmt"
	"fragloadd/internal/events"
	"fragloadd/internal/logger"
	"fragloadd/internal/models"
	"sync"

	"github.com/google/uuid"
)

// SettingsProvider returns the ambient settings applied to the next load.
type SettingsProvider interface {
	LoadSettings() models.LoadSettings
}

// Subscriber is the part of the bus the coordinator listens on.
type Subscriber interface {
	Subscribe(event events.Event, h events.Handler)
}

// ActiveLoad describes the in-flight load of a track type.
type ActiveLoad struct {
	Type   models.TrackType `json:"-"`
	ID     string           `json:"id"`
	SN     int64            `json:"sn"`
	URL    string           `json:"url"`
	Loaded int64            `json:"loaded"`
}

// attempt is a registry entry: the loader of one load attempt and the
// fragment it serves.
type attempt struct {
	id     string
	loader models.Loader
	frag   *models.Fragment
}

// Coordinator owns the loader registry.
type Coordinator struct {
	mutex    sync.Mutex
	loaders  [models.TrackTypeCount]*attempt
	logger   logger.Logger
	settings SettingsProvider
	factory  models.LoaderFactory
	sink     events.Sink
}

// New creates a coordinator creating loaders with factory and emitting
// notifications to sink.
func New(log logger.Logger, settings SettingsProvider, factory models.LoaderFactory, sink events.Sink) *Coordinator {
	return &Coordinator{
		logger:   log,
		settings: settings,
		factory:  factory,
		sink:     sink,
	}
}

// Attach makes FRAGMENT_LOADING notifications start loads.
func (c *Coordinator) Attach(bus Subscriber) {
	bus.Subscribe(events.FragLoading, func(n events.Notification) {
		c.RequestLoad(n.Frag)
	})
}

// RequestLoad starts loading frag, aborting the load in flight for the same
// track type first. It never blocks on the transfer and never fails: every
// problem ends up as a FRAGMENT_SKIPPED notification.
func (c *Coordinator) RequestLoad(frag *models.Fragment) {
	if frag == nil {
		c.logger.Warnf("Ignoring load request without fragment")
		return
	}
	if !frag.Type.Valid() || frag.URL == "" {
		c.logger.Errorf("Cannot load %s: missing track type or url", frag)
		c.skip(frag)
		return
	}

	settings := c.settings.LoadSettings()

	c.mutex.Lock()
	frag.Loaded = 0
	if prev := c.loaders[frag.Type]; prev != nil {
		c.logger.Warnf("abort previous fragment loader for type: %s", frag.Type)
		prev.loader.Abort()
		prev.frag.Loader = nil
		c.loaders[frag.Type] = nil
	}

	loader, err := c.factory.Create(settings)
	if err != nil {
		c.mutex.Unlock()
		c.logger.Errorf("Failed to create loader for %s: %v", frag, err)
		c.skip(frag)
		return
	}

	ctx := newLoaderContext(frag)
	c.loaders[frag.Type] = &attempt{id: ctx.ID, loader: loader, frag: frag}
	frag.Loader = loader
	c.mutex.Unlock()

	// Retries belong to whoever requests the load again.
	cfg := models.LoaderConfig{
		Timeout:       settings.Timeout,
		MaxRetry:      0,
		RetryDelay:    0,
		MaxRetryDelay: settings.MaxRetryDelay,
	}

	c.logger.Debugf("Loading %s from %s", frag, frag.URL)
	c.start(loader, ctx, cfg)
}

// newLoaderContext builds the context of a new attempt for frag.
func newLoaderContext(frag *models.Fragment) *models.LoaderContext {
	ctx := &models.LoaderContext{
		ID:           uuid.New().String(),
		URL:          frag.URL,
		Frag:         frag,
		ResponseType: models.ResponseTypeBinary,
		ProgressData: false,
	}
	if start, end, ok := frag.ByteRange(); ok {
		ctx.HasRange = true
		ctx.RangeStart = start
		ctx.RangeEnd = end
	}
	return ctx
}

func (c *Coordinator) start(loader models.Loader, ctx *models.LoaderContext, cfg models.LoaderConfig) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("Loader panicked while starting %s: %v", ctx.Frag, r)
			c.OnError(models.Response{URL: ctx.URL, Text: fmt.Sprint(r)}, ctx, nil)
		}
	}()
	loader.Load(ctx, cfg, c.callbacks())
}

func (c *Coordinator) callbacks() models.Callbacks {
	return models.Callbacks{
		OnSuccess:  c.OnSuccess,
		OnError:    c.OnError,
		OnTimeout:  c.OnTimeout,
		OnProgress: c.OnProgress,
	}
}

// current returns the registry entry ctx belongs to, or nil when ctx is
// from an attempt that is no longer registered. Callers hold the mutex.
func (c *Coordinator) current(ctx *models.LoaderContext) *attempt {
	if ctx == nil || ctx.Frag == nil || !ctx.Frag.Type.Valid() {
		return nil
	}
	entry := c.loaders[ctx.Frag.Type]
	if entry == nil || entry.id != ctx.ID {
		return nil
	}
	return entry
}

// release detaches the attempt of ctx from its fragment and the registry,
// aborting the fragment's loader first when abort is set.
func (c *Coordinator) release(ctx *models.LoaderContext, abort bool) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry := c.current(ctx)
	if entry == nil {
		return false
	}
	if abort && entry.frag.Loader != nil {
		entry.frag.Loader.Abort()
	}
	entry.frag.Loader = nil
	c.loaders[entry.frag.Type] = nil
	return true
}

// OnSuccess handles a completed load and emits FRAGMENT_LOADED with the payload.
func (c *Coordinator) OnSuccess(resp models.Response, stats models.Stats, ctx *models.LoaderContext, details *models.NetworkDetails) {
	if !c.release(ctx, false) {
		c.dropStale("success", ctx)
		return
	}

	c.logger.Debugf("Loaded %s, %d bytes", ctx.Frag, len(resp.Data))
	n := events.New(events.FragLoaded, ctx.Frag)
	n.Payload = resp.Data
	n.Stats = &stats
	n.NetworkDetails = details
	c.sink.Emit(n)
}

// OnError handles a transport failure. The fragment is skipped, not retried.
func (c *Coordinator) OnError(resp models.Response, ctx *models.LoaderContext, details *models.NetworkDetails) {
	if !c.release(ctx, true) {
		c.dropStale("error", ctx)
		return
	}

	c.logger.Warnf("Failed to load %s: code %d, %s", ctx.Frag, resp.Code, resp.Text)
	c.skip(ctx.Frag)
}

// OnTimeout handles an attempt that ran out of time. The fragment is skipped.
func (c *Coordinator) OnTimeout(stats models.Stats, ctx *models.LoaderContext, details *models.NetworkDetails) {
	if !c.release(ctx, true) {
		c.dropStale("timeout", ctx)
		return
	}

	c.logger.Warnf("Timeout while loading %s after %d bytes", ctx.Frag, stats.Loaded)
	c.skip(ctx.Frag)
}

// OnProgress records the bytes received so far and emits FRAGMENT_LOAD_PROGRESS.
// data is not forwarded.
func (c *Coordinator) OnProgress(stats models.Stats, ctx *models.LoaderContext, data []byte, details *models.NetworkDetails) {
	c.mutex.Lock()
	entry := c.current(ctx)
	if entry != nil {
		entry.frag.Loaded = stats.Loaded
	}
	c.mutex.Unlock()

	if entry == nil {
		c.dropStale("progress", ctx)
		return
	}

	n := events.New(events.FragLoadProgress, ctx.Frag)
	n.Stats = &stats
	n.NetworkDetails = details
	c.sink.Emit(n)
}

func (c *Coordinator) skip(frag *models.Fragment) {
	c.sink.Emit(events.New(events.FragSkipped, frag))
}

func (c *Coordinator) dropStale(outcome string, ctx *models.LoaderContext) {
	if ctx == nil || ctx.Frag == nil {
		c.logger.Debugf("Dropping %s callback without context", outcome)
		return
	}
	c.logger.Debugf("Dropping %s callback of superseded attempt %s for %s", outcome, ctx.ID, ctx.Frag)
}

// Active returns the in-flight load of each track type.
func (c *Coordinator) Active() []ActiveLoad {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var loads []ActiveLoad
	for _, entry := range c.loaders {
		if entry == nil {
			continue
		}
		loads = append(loads, ActiveLoad{
			Type:   entry.frag.Type,
			ID:     entry.frag.ID,
			SN:     entry.frag.SN,
			URL:    entry.frag.URL,
			Loaded: entry.frag.Loaded,
		})
	}
	return loads
}

// Loading reports whether a load is in flight for t.
func (c *Coordinator) Loading(t models.TrackType) bool {
	if !t.Valid() {
		return false
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.loaders[t] != nil
}

// Shutdown destroys every registered loader and empties the registry.
// Calling it again is a no-op.
func (c *Coordinator) Shutdown() {
	c.mutex.Lock()
	var loaders []models.Loader
	for t, entry := range c.loaders {
		if entry == nil {
			continue
		}
		entry.frag.Loader = nil
		loaders = append(loaders, entry.loader)
		c.loaders[t] = nil
	}
	c.mutex.Unlock()

	for _, loader := range loaders {
		if loader != nil {
			loader.Destroy()
		}
	}
	if len(loaders) > 0 {
		c.logger.Infof("Destroyed %d fragment loaders", len(loaders))
	}
}
