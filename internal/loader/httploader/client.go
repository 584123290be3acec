package httploader

import (
	"net/http"
	"sync"
	"time"
)

// transportKey identifies the transport settings a client is built with.
type transportKey struct {
	maxIdleConns          int
	idleConnTimeout       time.Duration
	responseHeaderTimeout time.Duration
}

var (
	clients     = make(map[transportKey]*http.Client)
	clientsLock sync.Mutex
)

func transportKeyFrom(opts Options) transportKey {
	key := transportKey{
		maxIdleConns:          defaultMaxIdleConns,
		idleConnTimeout:       defaultIdleConnTimeout,
		responseHeaderTimeout: defaultResponseHeaderTimeout,
	}
	if opts.MaxIdleConns != nil {
		key.maxIdleConns = *opts.MaxIdleConns
	}
	if opts.IdleConnTimeout != nil {
		key.idleConnTimeout = *opts.IdleConnTimeout
	}
	if opts.ResponseHeaderTimeout != nil {
		key.responseHeaderTimeout = *opts.ResponseHeaderTimeout
	}
	return key
}

// sharedClient returns the client for key, so that loaders created for
// successive attempts reuse connections.
func sharedClient(key transportKey) *http.Client {
	clientsLock.Lock()
	defer clientsLock.Unlock()

	if client, ok := clients[key]; ok {
		return client
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = key.maxIdleConns
	transport.MaxIdleConnsPerHost = key.maxIdleConns
	transport.IdleConnTimeout = key.idleConnTimeout
	transport.ResponseHeaderTimeout = key.responseHeaderTimeout

	client := &http.Client{Transport: transport}
	clients[key] = client
	return client
}
