// Package loader keeps the named loader implementations and builds one
// loader per load attempt from the ambient settings.
package loader

import (
	"errors"
	"fmt"
	"fragloadd/internal/logger"
	"fragloadd/internal/models"
	"sort"
	"sync"
)

// DefaultLoader is used when the settings name no loader.
const DefaultLoader = "http"

// ErrUnknownLoader is returned when no loader is registered under a name.
var ErrUnknownLoader = errors.New("unknown loader")

// Constructor builds a loader from its raw options.
type Constructor func(log logger.Logger, options map[string]interface{}) (models.Loader, error)

var (
	constructors     = make(map[string]Constructor)
	constructorsLock sync.RWMutex
)

// Register registers a loader constructor under name. Registering the same
// name twice panics.
func Register(name string, ctor Constructor) {
	constructorsLock.Lock()
	defer constructorsLock.Unlock()

	if _, ok := constructors[name]; ok {
		panic(fmt.Sprintf("loader '%s' already registered", name))
	}
	constructors[name] = ctor
}

// Unregister removes the constructor registered under name.
func Unregister(name string) {
	constructorsLock.Lock()
	defer constructorsLock.Unlock()

	delete(constructors, name)
}

// Lookup returns the constructor registered under name.
func Lookup(name string) (Constructor, error) {
	constructorsLock.RLock()
	defer constructorsLock.RUnlock()

	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownLoader, name)
	}
	return ctor, nil
}

// Names returns the registered loader names, sorted.
func Names() []string {
	constructorsLock.RLock()
	defer constructorsLock.RUnlock()

	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factory creates loaders from the registry.
type Factory struct {
	logger logger.Logger
}

// NewFactory creates a new factory.
func NewFactory(log logger.Logger) *Factory {
	return &Factory{logger: log}
}

// Name returns the loader selected by settings: the custom fragment loader
// when configured, the default loader otherwise.
func Name(settings models.LoadSettings) string {
	switch {
	case settings.FragmentLoader != "":
		return settings.FragmentLoader
	case settings.Loader != "":
		return settings.Loader
	default:
		return DefaultLoader
	}
}

// Create builds a new loader instance for one attempt.
func (f *Factory) Create(settings models.LoadSettings) (models.Loader, error) {
	name := Name(settings)
	ctor, err := Lookup(name)
	if err != nil {
		return nil, err
	}

	l, err := ctor(f.logger.Named(name), settings.LoaderOptions[name])
	if err != nil {
		return nil, fmt.Errorf("failed to create loader '%s': %w", name, err)
	}
	return l, nil
}

var _ models.LoaderFactory = (*Factory)(nil)
