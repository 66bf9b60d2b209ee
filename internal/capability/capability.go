// Package capability defines the contract between the core and plugin
// implementations. A plugin manifest names a driver; the driver constructs
// an Implementation that exposes one or more capability kinds.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Kind classifies what a capability does. Data sources fetch external data,
// models score it, processors transform or combine results.
type Kind string

const (
	KindDataSource Kind = "data_source"
	KindModel      Kind = "model"
	KindProcessor  Kind = "processor"
)

func (k Kind) Valid() bool {
	return k == KindDataSource || k == KindModel || k == KindProcessor
}

// CacheClient is the slice of the cache tier handed to implementations.
type CacheClient interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Env carries the shared services an implementation may use. The cache may
// be nil when caching is disabled; implementations must tolerate that.
type Env struct {
	Cache  CacheClient
	Logger *slog.Logger
}

// Implementation is the lifecycle every driver-constructed value satisfies.
// Init is called once before the first invocation, Close once after the
// plugin is unloaded and its refcount has drained.
type Implementation interface {
	Init(ctx context.Context, env Env, conf map[string]any) error
	Close(ctx context.Context) error
}

// DataSource fetches records for a set of query parameters.
type DataSource interface {
	Implementation
	Fetch(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Model produces a prediction for a set of input features.
type Model interface {
	Implementation
	Predict(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Processor transforms or combines upstream results.
type Processor interface {
	Implementation
	Process(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Invoke dispatches a call on impl according to the capability kind.
// The kind must match what the implementation actually satisfies.
func Invoke(ctx context.Context, impl Implementation, kind Kind, params map[string]any) (map[string]any, error) {
	switch kind {
	case KindDataSource:
		ds, ok := impl.(DataSource)
		if !ok {
			return nil, fmt.Errorf("implementation %T does not provide a data source", impl)
		}
		return ds.Fetch(ctx, params)
	case KindModel:
		m, ok := impl.(Model)
		if !ok {
			return nil, fmt.Errorf("implementation %T does not provide a model", impl)
		}
		return m.Predict(ctx, params)
	case KindProcessor:
		p, ok := impl.(Processor)
		if !ok {
			return nil, fmt.Errorf("implementation %T does not provide a processor", impl)
		}
		return p.Process(ctx, params)
	default:
		return nil, fmt.Errorf("unknown capability kind %q", kind)
	}
}
