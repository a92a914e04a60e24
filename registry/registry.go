// Package registry holds the process-wide table mapping Go types to the
// descriptors used to rebuild values of these types from untyped trees.
//
// The registry is owned by the host. Loaders only read from it, and only for
// the duration of a lookup: a `*Registration` is immutable once published, so
// deserialization never runs under the registry lock.
package registry

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/Leinnan/assets-reflect/deserialize"
	"github.com/Leinnan/assets-reflect/deserialize/shared"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
)

// Descriptor rebuilds values of a single type from untyped trees.
//
// `deserialize.ReflectDeserializer` is the default implementation.
type Descriptor interface {
	Type() reflect.Type
	Deserialize(shared.Value) (reflect.Value, error)
}

// Registration is an entry of the registry.
type Registration struct {
	typ        reflect.Type
	name       string
	descriptor Descriptor
}

// The type this registration was created for.
func (r *Registration) Type() reflect.Type {
	return r.typ
}

// A human-readable name, e.g. `demo.Point`.
func (r *Registration) Name() string {
	return r.name
}

func (r *Registration) Descriptor() Descriptor {
	return r.descriptor
}

// JSONSchema describes the documents accepted for this type.
func (r *Registration) JSONSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		Mapper: func(typ reflect.Type) *jsonschema.Schema {
			if typ == reflect.TypeOf(uuid.UUID{}) {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "uuid",
				}
			}
			return nil
		},
	}
	schema, err := reflector.ReflectFromType(r.typ).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to create json schema for %s: %w", r.name, err)
	}
	return schema, nil
}

// Registry is a dynamic, concurrency-safe table of registrations.
type Registry struct {
	mu      sync.RWMutex
	options deserialize.Options
	byType  map[reflect.Type]*Registration
}

type Option func(*Registry)

// WithOptions replaces the options used to compile descriptors.
func WithOptions(options deserialize.Options) Option {
	return func(registry *Registry) {
		registry.options = options
	}
}

// New creates an empty registry.
//
// By default, descriptors are compiled for JSON and reject unknown fields.
func New(opts ...Option) *Registry {
	options := deserialize.JSONOptions("")
	options.RejectUnknownFields = true
	reg := &Registry{
		options: options,
		byType:  make(map[reflect.Type]*Registration),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// Register compiles and registers a descriptor for `T`.
func Register[T any](r *Registry) error {
	return r.RegisterType(reflect.TypeFor[T]())
}

func MustRegister[T any](r *Registry) {
	if err := Register[T](r); err != nil {
		panic(err)
	}
}

// RegisterType compiles and registers a descriptor for `typ`.
//
// Registering a type twice keeps the first registration.
func (r *Registry) RegisterType(typ reflect.Type) error {
	if typ == nil {
		return fmt.Errorf("cannot register a nil type")
	}
	if r.IsRegistered(typ) {
		return nil
	}
	// Compilation may be slow, keep it out of the lock.
	descriptor, err := deserialize.MakeMapDeserializerFromReflect(r.options, typ)
	if err != nil {
		return fmt.Errorf("could not register type %s: %w", typ, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byType[typ]; !exists {
		r.byType[typ] = newRegistration(typ, descriptor)
	}
	return nil
}

// RegisterDescriptor registers a descriptor supplied by the host for `typ`,
// replacing any previous registration.
//
// The descriptor is trusted: nothing checks that it produces values of `typ`.
func (r *Registry) RegisterDescriptor(typ reflect.Type, descriptor Descriptor) error {
	if typ == nil || descriptor == nil {
		return fmt.Errorf("cannot register a nil type or descriptor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[typ] = newRegistration(typ, descriptor)
	return nil
}

func newRegistration(typ reflect.Type, descriptor Descriptor) *Registration {
	return &Registration{
		typ:        typ,
		name:       typ.String(),
		descriptor: descriptor,
	}
}

// Get returns the registration for `typ`, if any.
func (r *Registry) Get(typ reflect.Type) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	registration, ok := r.byType[typ]
	return registration, ok
}

func (r *Registry) IsRegistered(typ reflect.Type) bool {
	_, ok := r.Get(typ)
	return ok
}

// Names of all registered types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byType))
	for _, registration := range r.byType {
		names = append(names, registration.name)
	}
	slices.Sort(names)
	return names
}

// Registrations returns all entries, sorted by name.
func (r *Registry) Registrations() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := slices.Collect(maps.Values(r.byType))
	slices.SortFunc(result, func(a, b *Registration) int {
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		}
		return 0
	})
	return result
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}

// Clone returns an independent registry with the same registrations.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := New(WithOptions(r.options))
	maps.Copy(clone.byType, r.byType)
	return clone
}
