// Package reflectasset loads assets of any registered type from JSON (or YAML)
// documents, using the descriptors of the type registry instead of a parser
// written for each type.
//
// A load runs Read, Parse, Lookup, Deserialize and Downcast in this order. The
// first failing step ends the load with a `*DecodeError`.
package reflectasset

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"slices"

	"github.com/Leinnan/assets-reflect/asset"
	jsonPkg "github.com/Leinnan/assets-reflect/deserialize/json"
	"github.com/Leinnan/assets-reflect/deserialize/shared"
	"github.com/Leinnan/assets-reflect/registry"
	"go.uber.org/zap"
)

type options struct {
	driver shared.Driver
	logger *zap.Logger
}

type Option func(*options)

// WithDriver selects the text format of the documents. Defaults to JSON.
func WithDriver(driver shared.Driver) Option {
	return func(o *options) {
		o.driver = driver
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Loader decodes documents into values of type `A`.
//
// A loader holds no mutable state and may be used from several goroutines.
type Loader[A any] struct {
	registry   *registry.Registry
	extensions []string
	driver     shared.Driver
	logger     *zap.Logger
}

// NewLoader creates a loader for `A` reading descriptors from `reg`.
func NewLoader[A any](reg *registry.Registry, extensions []string, opts ...Option) *Loader[A] {
	o := options{
		driver: jsonPkg.Driver{},
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[A]{
		registry:   reg,
		extensions: slices.Clone(extensions),
		driver:     o.driver,
		logger:     o.logger,
	}
}

// Extensions returns the extensions given at construction, in order.
func (l *Loader[A]) Extensions() []string {
	return slices.Clone(l.extensions)
}

// Load implements `asset.Loader`.
func (l *Loader[A]) Load(ctx context.Context, reader io.Reader, _ asset.Settings, loadContext *asset.LoadContext) (*A, error) {
	result, err := l.Decode(ctx, reader)
	if err != nil {
		logger := l.logger
		if loadContext != nil && loadContext.Logger != nil {
			logger = loadContext.Logger
		}
		logger.Debug("Reflective decode failed", zap.Stringer("asset", reflect.TypeFor[A]()), zap.Error(err))
		return nil, err
	}
	return result, nil
}

// Decode reads `reader` to the end and decodes its content.
//
// The read stops early if `ctx` is cancelled.
func (l *Loader[A]) Decode(ctx context.Context, reader io.Reader) (*A, error) {
	buf, err := io.ReadAll(contextReader{ctx: ctx, reader: reader})
	if err != nil {
		return nil, newDecodeError(ErrIO, reflect.TypeFor[A](), err)
	}
	return l.DecodeBytes(buf)
}

// DecodeBytes decodes a document already held in memory.
func (l *Loader[A]) DecodeBytes(buf []byte) (*A, error) {
	typ := reflect.TypeFor[A]()

	value, err := l.driver.Parse(buf)
	if err != nil {
		return nil, newDecodeError(ErrParse, typ, err)
	}

	// The registry lock is only held during this lookup.
	var registration *registry.Registration
	ok := false
	if l.registry != nil {
		registration, ok = l.registry.Get(typ)
	}
	if !ok {
		return nil, newDecodeError(ErrTypeNotRegistered, typ, nil)
	}

	reflected, err := registration.Descriptor().Deserialize(value)
	if err != nil {
		return nil, newDecodeError(ErrSchemaMismatch, typ, err)
	}

	if !reflected.IsValid() || !reflected.CanInterface() {
		return nil, newDecodeError(ErrDowncastFailed, typ, fmt.Errorf("descriptor produced no value"))
	}
	result, ok := reflected.Interface().(A)
	if !ok {
		return nil, newDecodeError(ErrDowncastFailed, typ, fmt.Errorf("descriptor produced a %s", reflected.Type()))
	}
	return &result, nil
}

var _ asset.Loader[struct{}] = &Loader[struct{}]{} //nolint:exhaustruct

// A reader giving up once its context is done.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck
	}
	return r.reader.Read(p) //nolint:wrapcheck
}
