package asset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/Leinnan/assets-reflect/asset"

var (
	// ErrServerMissing is returned when the application holds no `*Server`.
	ErrServerMissing = errors.New("asset server missing from the application")

	// ErrAssetNotInitialized is returned when registering a loader for an
	// asset type that was never initialized.
	ErrAssetNotInitialized = errors.New("asset type not initialized")

	// ErrNoLoader is returned when no loader accepts the extension of a path.
	ErrNoLoader = errors.New("no loader for path")
)

// LoadState tracks a handle through its load.
type LoadState int

const (
	NotLoaded LoadState = iota
	Loading
	Loaded
	Failed
)

func (s LoadState) String() string {
	switch s {
	case NotLoaded:
		return "not loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("LoadState(%d)", int(s))
}

// Handle identifies a load.
type Handle struct {
	ID   uuid.UUID
	Path string
}

func (h Handle) String() string {
	return fmt.Sprintf("%s (%s)", h.Path, h.ID)
}

type entry struct {
	handle    Handle
	assetType reflect.Type
	state     LoadState
	value     any
	err       error
}

// Server routes files to loaders and stores the results.
type Server struct {
	fs      afero.Fs
	logger  *zap.Logger
	tracer  trace.Tracer
	workers int

	mu          sync.RWMutex
	assetTypes  map[reflect.Type]bool
	loaders     map[reflect.Type]*erasedLoader
	byExtension map[string]*erasedLoader
	entries     map[uuid.UUID]*entry
	byPath      map[string]uuid.UUID

	// Concurrent loads of a path share one run of the loader.
	inFlight singleflight.Group
}

type ServerOption func(*Server)

func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) ServerOption {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// WithWorkers bounds the number of concurrent loads in `LoadAll`.
func WithWorkers(workers int) ServerOption {
	return func(s *Server) {
		s.workers = workers
	}
}

// NewServer creates a server reading from `fs`.
func NewServer(fs afero.Fs, opts ...ServerOption) *Server {
	s := &Server{
		fs:          fs,
		logger:      zap.L(),
		tracer:      otel.Tracer(tracerName),
		workers:     4,
		assetTypes:  make(map[reflect.Type]bool),
		loaders:     make(map[reflect.Type]*erasedLoader),
		byExtension: make(map[string]*erasedLoader),
		entries:     make(map[uuid.UUID]*entry),
		byPath:      make(map[string]uuid.UUID),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = 1
	}
	return s
}

// InitAsset declares `A` as an asset type of the application's server.
func InitAsset[A any](app *App) error {
	server, ok := Resource[*Server](app)
	if !ok {
		return ErrServerMissing
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	server.assetTypes[reflect.TypeFor[A]()] = true
	return nil
}

// RegisterLoader routes the extensions of `loader` to it.
//
// A second loader for the same asset type replaces the first one, and an
// extension already claimed by another loader is taken over. Both cases
// are logged.
func RegisterLoader[A any](app *App, loader Loader[A]) error {
	server, ok := Resource[*Server](app)
	if !ok {
		return ErrServerMissing
	}
	return server.register(erase(loader))
}

func (s *Server) register(loader *erasedLoader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.assetTypes[loader.assetType] {
		return fmt.Errorf("%w: %s", ErrAssetNotInitialized, loader.assetType)
	}
	if previous, ok := s.loaders[loader.assetType]; ok {
		s.logger.Warn("Replacing asset loader",
			zap.Stringer("asset", loader.assetType),
			zap.String("previous", previous.name),
			zap.String("loader", loader.name))
		for _, extension := range previous.extensions {
			if s.byExtension[extension] == previous {
				delete(s.byExtension, extension)
			}
		}
	}
	s.loaders[loader.assetType] = loader
	for _, extension := range loader.extensions {
		if previous, ok := s.byExtension[extension]; ok && previous != loader {
			s.logger.Warn("Extension claimed by several loaders, using the latest",
				zap.String("extension", extension),
				zap.String("previous", previous.name),
				zap.String("loader", loader.name))
		}
		s.byExtension[extension] = loader
	}
	return nil
}

// Extensions lists the routed extensions, sorted.
func (s *Server) Extensions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]string, 0, len(s.byExtension))
	for extension := range s.byExtension {
		result = append(result, extension)
	}
	slices.Sort(result)
	return result
}

// Route finds the extension that routes `path` to a loader.
//
// For `a.point.json`, `point.json` is tried before `json`.
func (s *Server) Route(path string) (string, bool) {
	extension, loader := s.route(path)
	return extension, loader != nil
}

func (s *Server) route(path string) (string, *erasedLoader) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := strings.Split(filepath.Base(path), ".")
	for i := 1; i < len(parts); i++ {
		extension := strings.Join(parts[i:], ".")
		if loader, ok := s.byExtension[extension]; ok {
			return extension, loader
		}
	}
	return "", nil
}

// Load loads a single file.
//
// Loading a path that is already loaded returns the existing handle.
// Concurrent loads of the same path wait for a single run of the loader
// and share its outcome.
func (s *Server) Load(ctx context.Context, path string) (Handle, error) {
	ctx, span := s.tracer.Start(ctx, "asset.Load", trace.WithAttributes(attribute.String("asset.path", path)))
	defer span.End()

	extension, loader := s.route(path)
	if loader == nil {
		err := fmt.Errorf("%w %s", ErrNoLoader, path)
		span.SetStatus(codes.Error, err.Error())
		return Handle{}, err
	}
	span.SetAttributes(
		attribute.String("asset.extension", extension),
		attribute.String("asset.type", loader.assetType.String()))

	results := s.inFlight.DoChan(path, func() (any, error) {
		handle, err := s.load(ctx, path, extension, loader)
		return handle, err
	})
	var result singleflight.Result
	select {
	case <-ctx.Done():
		err := fmt.Errorf("cannot load %s: %w", path, ctx.Err())
		span.SetStatus(codes.Error, err.Error())
		return Handle{}, err
	case result = <-results:
	}
	span.SetAttributes(attribute.Bool("asset.shared", result.Shared))

	handle, _ := result.Val.(Handle)
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
		return handle, result.Err
	}
	return handle, nil
}

// Run the loader for `path`, unless it is already loaded. Only ever called
// from one goroutine per path at a time.
func (s *Server) load(ctx context.Context, path string, extension string, loader *erasedLoader) (Handle, error) {
	handle, done := s.begin(path, loader.assetType)
	if done {
		return handle, nil
	}

	loadContext := &LoadContext{
		Path:      path,
		Extension: extension,
		AssetType: loader.assetType,
		Logger:    s.logger.With(zap.String("path", path)),
	}
	value, err := s.run(ctx, loader, loadContext)
	s.finish(handle, value, err)
	if err != nil {
		s.logger.Warn("Failed to load asset", zap.String("path", path), zap.Error(err))
		return handle, err
	}
	s.logger.Debug("Asset loaded", zap.String("path", path), zap.Stringer("asset", loader.assetType))
	return handle, nil
}

func (s *Server) run(ctx context.Context, loader *erasedLoader, loadContext *LoadContext) (value any, err error) {
	file, err := s.fs.Open(loadContext.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", loadContext.Path, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("cannot close %s: %w", loadContext.Path, closeErr)
		}
	}()
	value, err = loader.load(ctx, file, loadContext)
	if err != nil {
		return nil, fmt.Errorf("cannot load %s: %w", loadContext.Path, err)
	}
	return value, nil
}

// Mark `path` as loading, returning true if it is already loaded.
//
// A failed path is loaded again.
func (s *Server) begin(path string, assetType reflect.Type) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPath[path]; ok {
		existing := s.entries[id]
		if existing.state == Loaded && existing.assetType == assetType {
			return existing.handle, true
		}
		existing.assetType = assetType
		existing.state = Loading
		existing.value = nil
		existing.err = nil
		return existing.handle, false
	}
	handle := Handle{ID: uuid.New(), Path: path}
	s.entries[handle.ID] = &entry{
		handle:    handle,
		assetType: assetType,
		state:     Loading,
	}
	s.byPath[path] = handle.ID
	return handle, false
}

func (s *Server) finish(handle Handle, value any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := s.entries[handle.ID]
	if err != nil {
		found.state = Failed
		found.err = err
		return
	}
	found.state = Loaded
	found.value = value
}

// LoadAll loads `paths` concurrently.
//
// A failure does not prevent the other paths from loading. Handles are
// returned in the order of `paths`, errors are joined.
func (s *Server) LoadAll(ctx context.Context, paths []string) ([]Handle, error) {
	handles := make([]Handle, len(paths))
	errs := make([]error, len(paths))
	var group errgroup.Group
	group.SetLimit(s.workers)
	for i, path := range paths {
		group.Go(func() error {
			handles[i], errs[i] = s.Load(ctx, path)
			return nil
		})
	}
	_ = group.Wait()
	return handles, errors.Join(errs...)
}

// LoadFolder loads every routable file below `dir`.
func (s *Server) LoadFolder(ctx context.Context, dir string) ([]Handle, error) {
	var paths []string
	err := afero.Walk(s.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if _, ok := s.Route(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot walk %s: %w", dir, err)
	}
	slices.Sort(paths)
	return s.LoadAll(ctx, paths)
}

// State of the load behind `handle`.
func (s *Server) State(handle Handle) LoadState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if found, ok := s.entries[handle.ID]; ok {
		return found.state
	}
	return NotLoaded
}

// Err returns the failure of the load behind `handle`, if any.
func (s *Server) Err(handle Handle) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if found, ok := s.entries[handle.ID]; ok {
		return found.err
	}
	return nil
}

// Handles lists every handle, sorted by path.
func (s *Server) Handles() []Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Handle, 0, len(s.entries))
	for _, found := range s.entries {
		result = append(result, found.handle)
	}
	slices.SortFunc(result, func(a, b Handle) int {
		return strings.Compare(a.Path, b.Path)
	})
	return result
}

// Get returns the asset behind `handle` if it is loaded and of type `A`.
func Get[A any](s *Server, handle Handle) (*A, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found, ok := s.entries[handle.ID]
	if !ok || found.state != Loaded {
		return nil, false
	}
	value, ok := found.value.(*A)
	return value, ok
}
