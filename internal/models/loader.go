package models

import (
	"net/http"
	"time"
)

// ResponseType is the representation a loader must deliver.
type ResponseType string

// ResponseTypeBinary asks for the raw payload bytes.
const ResponseTypeBinary ResponseType = "arraybuffer"

// Stats carries timing and size statistics of a load attempt.
type Stats struct {
	TRequest time.Time
	TFirst   time.Time
	TLoad    time.Time
	// Loaded is the number of bytes received so far.
	Loaded int64
	// Total is the expected size, 0 when unknown.
	Total int64
	// Retry is the number of retries performed by the loader.
	Retry int
}

// Response is handed to the success and error callbacks.
type Response struct {
	URL  string
	Data []byte
	Code int
	Text string
}

// NetworkDetails carries transport level diagnostics.
type NetworkDetails struct {
	RequestID  string
	StatusCode int
	Header     http.Header
}

// LoaderContext describes what a loader has to fetch for one attempt.
type LoaderContext struct {
	// ID identifies the attempt.
	ID           string
	URL          string
	Frag         *Fragment
	ResponseType ResponseType
	// RangeStart and RangeEnd (exclusive) are only meaningful when HasRange is set.
	HasRange   bool
	RangeStart int64
	RangeEnd   int64
	// ProgressData enables delivery of partial data to progress callbacks.
	ProgressData bool
}

// LoaderConfig is the per-attempt loader configuration.
type LoaderConfig struct {
	Timeout       time.Duration
	MaxRetry      int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Callbacks is the set of outcome entry points handed to a loader.
// Exactly one of OnSuccess, OnError and OnTimeout is invoked per attempt;
// OnProgress may be invoked any number of times before it.
type Callbacks struct {
	OnSuccess  func(resp Response, stats Stats, ctx *LoaderContext, details *NetworkDetails)
	OnError    func(resp Response, ctx *LoaderContext, details *NetworkDetails)
	OnTimeout  func(stats Stats, ctx *LoaderContext, details *NetworkDetails)
	OnProgress func(stats Stats, ctx *LoaderContext, data []byte, details *NetworkDetails)
}

// Loader performs the asynchronous fetch of one fragment. An instance serves
// a single attempt and is never reused.
type Loader interface {
	// Load starts the fetch and returns without waiting for it.
	Load(ctx *LoaderContext, cfg LoaderConfig, callbacks Callbacks)
	// Abort cancels the attempt. It is idempotent, safe on a loader that
	// already finished, and no callback is delivered after it returns.
	// Abort must not block nor call back into the callbacks.
	Abort()
	// Destroy releases the loader. No call follows it.
	Destroy()
}

// LoadSettings are the ambient settings read on every load request.
type LoadSettings struct {
	// Timeout bounds one load attempt.
	Timeout time.Duration
	// MaxRetryDelay is forwarded to loaders as LoaderConfig.MaxRetryDelay.
	MaxRetryDelay time.Duration
	// Loader names the default loader implementation.
	Loader string
	// FragmentLoader names a custom loader used instead of Loader when set.
	FragmentLoader string
	// LoaderOptions holds raw options keyed by loader name.
	LoaderOptions map[string]map[string]interface{}
}

// LoaderFactory creates one loader per load attempt.
type LoaderFactory interface {
	Create(settings LoadSettings) (Loader, error)
}
