// Out of the box, Go json (and other deserializers) cannot make a difference between
// JSON's `undefined` (a key is missing) and a `0`/`false`/`""`/`[]`. This means that
// assets decoded with the stdlib's default deserialization silently pick up zero
// values whenever a file is missing fields or has misspelled field names.
//
// This package implements a schema-driven alternative: a Go type is compiled once
// into a deserializer (a descriptor of how to rebuild a value of that type from an
// untyped tree), which is then run over the trees produced by a format driver.
//
// # Recommended use
//
// If you have a struct `LevelSchema` that you wish to deserialize:
//
// - To define default values for fields (in particular private fields), implement `Initializer`
//
//	func (result *LevelSchema) Initialize() err {
//	   result.MyField1 = defaultValue1
//	   result.MyField2 = defaultValue2
//	   ...
//	   return err
//	}
//
// - To define a validator, implement `Validator`
//
//	func (result *LevelSchema) Validate() err {
//	   if result.MyField1 > 100 {
//	       return fmt.Errorf("invalid value for MyField1!") // The error will be visible to end users.
//	   }
//	   ...
//	   return nil
//	}
//
// Same behavior as the standard library:
//   - if a type implements `json.Unmarshaler` or `encoding.TextUnmarshaler`, short-circuit
//     deserialization and use this method instead of anything built-in;
//   - lower-case field names mean that we NEVER accept external data during deserialization;
//   - enforces `json:"XXXX"` renamings when deserializing JSON;
//   - a field renamed to `json:"-"` will not accept external data during deserialization;
//   - `null` is accepted for pointers, maps, slices and interfaces.
//
// Different behavior:
//   - a missing field is an error, unless it declares how to obtain a value;
//   - if a value implements `Initializer`, we run the initializer before deserializing
//     the value (this is the only way to provide default values for private fields);
//   - if a tag `default:"XXX"` is specified, we use this value when a field is not specified
//     (by opposition, Go would silently insert zero values);
//   - if a tag `orMethod:"XXX"` is specified, we attempt to call the corresponding method
//     when a field is not specified (by opposition, Go would silently insert zero values);
//   - if a tag `initialized:""` is specified, we will not complain if the field is missing;
//   - if a data structure supports `Validator`, we run validation during deserialization
//     and fail if validation rejects the value;
//   - numbers are never truncated: `1.5` is not an `int`, `300` is not an `int8`;
//   - with `RejectUnknownFields`, keys that match no field are an error;
//   - we attempt to detect errors early and fail when compiling the deserializer, instead
//     of ignoring errors and/or failing during deserialization.
//
// # Warning
//
// By design, Go will NOT let us deserialize, validate or apply default values to private
// fields (i.e. fields which start lower-case). If you have a private field, it will be
// initialized to its zero value unless you implement `Initializer` on the containing struct.
package deserialize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	jsonPkg "github.com/Leinnan/assets-reflect/deserialize/json"
	"github.com/Leinnan/assets-reflect/deserialize/shared"
	tagsPkg "github.com/Leinnan/assets-reflect/deserialize/tags"
	yamlPkg "github.com/Leinnan/assets-reflect/deserialize/yaml"
	"github.com/Leinnan/assets-reflect/validation"
	"go.uber.org/zap"
)

// -------- Public API --------

// Options for building a deserializer.
//
// See also JSONOptions and YAMLOptions for reasonable default values.
type Options struct {
	// The name of tags used for renamings (e.g. "json").
	//
	// If you leave this blank, defaults to "json".
	MainTagName string

	// Human-readable information on the nature of data
	// you'll be deserializing with this deserializer.
	//
	// Used for logging and error messages.
	//
	// For instance, if you're deserializing assets from a
	// folder "levels", string "levels" is an acceptable value
	// for RootPath.
	//
	// Optional. If you leave this blank, no human-readable
	// information will be added.
	RootPath string

	// The format driver, used to parse buffers and to delegate
	// to types that know how to deserialize themselves.
	Driver shared.Driver

	// Where to report bugs in custom deserialization hooks.
	//
	// Optional. Defaults to `zap.L()`.
	Logger *zap.Logger

	// If true, an object key that does not match any public field
	// is an error.
	RejectUnknownFields bool
}

// A preset fit for consuming JSON.
//
// Params:
//   - root A human-readable root (e.g. the name of the asset folder). Used only
//     for error reporting. `""` is a perfectly acceptable root.
func JSONOptions(root string) Options {
	return Options{
		MainTagName: "json",
		RootPath:    root,
		Driver:      jsonPkg.Driver{},
	}
}

// A preset fit for consuming YAML.
//
// YAML documents use the `json` tags, as they are converted to JSON
// before deserialization.
func YAMLOptions(root string) Options {
	return Options{
		MainTagName: "json",
		RootPath:    root,
		Driver:      yamlPkg.Driver{},
	}
}

// A deserializer from strings or buffers.
type BytesDeserializer[To any] interface {
	DeserializeString(string) (*To, error)
	DeserializeBytes([]byte) (*To, error)
}

// A deserializer from dictionaries.
//
// Use this to deserialize e.g. JSON documents.
type MapDeserializer[To any] interface {
	BytesDeserializer[To]
	// Deserialize a single value from a dict.
	DeserializeDict(shared.Dict) (*To, error)
	// Deserialize a list of values from a list of values.
	DeserializeList([]shared.Value) ([]To, error)
}

// A dynamically-typed deserializer.
//
// This is what the type registry stores for each registered type.
type ReflectDeserializer interface {
	// The type produced by this deserializer.
	Type() reflect.Type

	// Build a new value of type `Type()` from an untyped tree.
	Deserialize(shared.Value) (reflect.Value, error)

	// Deserialize a single value from a dict into an existing slot.
	DeserializeDictTo(shared.Dict, *reflect.Value) error
}

// Create a deserializer for `T`.
func MakeMapDeserializer[T any](options Options) (MapDeserializer[T], error) {
	root, err := makeRootDeserializer(options, reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return mapDeserializer[T]{
		root: root,
	}, nil
}

// Create a deserializer for a type only known at runtime.
func MakeMapDeserializerFromReflect(options Options, typ reflect.Type) (ReflectDeserializer, error) {
	if typ == nil {
		return nil, errors.New("cannot generate a deserializer for a nil type")
	}
	return makeRootDeserializer(options, typ)
}

// An error that arises because of a bug in a custom deserializer.
type CustomDeserializerError struct {
	// The operation that failed, e.g. "initialize", "orMethod".
	Operation string

	// The kind of value we were applying it to, e.g. "struct", "map", "ptr", "field".
	Structure string

	// The underlying error.
	Wrapped error
}

// Return the user-facing message.
func (e CustomDeserializerError) Error() string {
	return e.Wrapped.Error()
}

// Unwrap the error.
func (e CustomDeserializerError) Unwrap() error {
	return e.Wrapped
}

var _ error = CustomDeserializerError{} //nolint:exhaustruct

// ----------------- Private

type innerOptions struct {
	// The name of tag used for renamings (e.g. "json").
	renamingTagName string

	// The instance of the format driver.
	driver shared.Driver

	logger *zap.Logger

	rejectUnknownFields bool

	// Struct types currently being compiled, used to tie the knot
	// on recursive types.
	building map[reflect.Type]*reflectDeserializer
}

func (options Options) inner() (innerOptions, error) {
	if options.Driver == nil {
		return innerOptions{}, errors.New("please specify a driver")
	}
	tagName := options.MainTagName
	if tagName == "" {
		tagName = "json"
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.L()
	}
	return innerOptions{
		renamingTagName:     tagName,
		driver:              options.Driver,
		logger:              logger,
		rejectUnknownFields: options.RejectUnknownFields,
		building:            make(map[reflect.Type]*reflectDeserializer),
	}, nil
}

// The deserializer at the root of a type.
type rootDeserializer struct {
	typ          reflect.Type
	driver       shared.Driver
	deserializer reflectDeserializer
}

func makeRootDeserializer(options Options, typ reflect.Type) (*rootDeserializer, error) {
	inner, err := options.inner()
	if err != nil {
		return nil, err
	}
	path := typeName(typ)
	if options.RootPath != "" {
		path = fmt.Sprint(options.RootPath, ".", path)
	}
	noTags := tagsPkg.Empty()
	placeholder := reflect.New(typ)
	deserializer, err := makeKindDeserializer(path, typ, inner, &noTags, placeholder, false, false)
	if err != nil {
		return nil, err
	}
	return &rootDeserializer{
		typ:          typ,
		driver:       inner.driver,
		deserializer: deserializer,
	}, nil
}

func (root *rootDeserializer) Type() reflect.Type {
	return root.typ
}

func (root *rootDeserializer) Deserialize(value shared.Value) (reflect.Value, error) {
	result := reflect.New(root.typ).Elem()
	if err := root.deserializer(&result, value); err != nil {
		return reflect.Value{}, err
	}
	return result, nil
}

func (root *rootDeserializer) DeserializeDictTo(dict shared.Dict, reflectOut *reflect.Value) error {
	if reflectOut.Type() != root.typ {
		return fmt.Errorf("cannot deserialize a %s into a %s", typeName(root.typ), typeName(reflectOut.Type()))
	}
	return root.deserializer(reflectOut, dict.AsValue())
}

// A statically-typed wrapper around a root deserializer.
type mapDeserializer[T any] struct {
	root *rootDeserializer
}

func (me mapDeserializer[T]) DeserializeBytes(source []byte) (*T, error) {
	value, err := me.root.driver.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize source: \n\t * %w", err)
	}
	return me.deserializeValue(value)
}

func (me mapDeserializer[T]) DeserializeString(source string) (*T, error) {
	return me.DeserializeBytes([]byte(source))
}

func (me mapDeserializer[T]) DeserializeDict(value shared.Dict) (*T, error) {
	return me.deserializeValue(value.AsValue())
}

func (me mapDeserializer[T]) DeserializeList(list []shared.Value) ([]T, error) {
	result := make([]T, 0, len(list))
	for i, entry := range list {
		out, err := me.deserializeValue(entry)
		if err != nil {
			return []T{}, fmt.Errorf("failed to deserialize entry %d: \n\t * %w", i, err)
		}
		result = append(result, *out)
	}
	return result, nil
}

func (me mapDeserializer[T]) deserializeValue(value shared.Value) (*T, error) {
	out := new(T)
	slot := reflect.ValueOf(out).Elem()
	if err := me.root.deserializer(&slot, value); err != nil {
		return nil, err
	}
	return out, nil
}

// A type of deserializers using reflection to perform any conversions.
//
// `data` is `nil` if the value is missing from the input.
type reflectDeserializer func(slot *reflect.Value, data shared.Value) error

var initializerInterface = reflect.TypeOf((*validation.Initializer)(nil)).Elem()
var validatorInterface = reflect.TypeOf((*validation.Validator)(nil)).Elem()
var unmarshalDictInterface = reflect.TypeOf((*shared.UnmarshalDict)(nil)).Elem()

// The interface `error`.
var errorInterface = reflect.TypeOf((*error)(nil)).Elem()

// Construct a dynamically-typed deserializer for structs.
//
//   - `path` the human-readable path into the data structure, used for error-reporting;
//   - `typ` the dynamic type for the struct being compiled;
//   - `tags` the table of tags for this field;
//   - `wasPreInitialized` if this value was preinitialized, typically through `Initializer`;
//   - `wasFlattened` if this struct reads its fields from the map of its container.
func makeStructDeserializerFromReflect(path string, typ reflect.Type, options innerOptions, tags *tagsPkg.Tags, container reflect.Value, wasPreInitialized bool, wasFlattened bool) (reflectDeserializer, error) {
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("invalid call to StructDeserializer: %s is not a struct", path)
	}

	// Recursive types: reuse the deserializer being built.
	if pending, ok := options.building[typ]; ok {
		return func(slot *reflect.Value, data shared.Value) error {
			return (*pending)(slot, data)
		}, nil
	}
	pending := new(reflectDeserializer)
	options.building[typ] = pending
	defer delete(options.building, typ)

	selfContainer := reflect.New(typ)
	initializationMetadata, err := initializationData(path, typ, options)
	if err != nil {
		return nil, err
	}
	fieldTags, err := tagsPkg.ParseFields(typ)
	if err != nil {
		return nil, err
	}

	type compiledField struct {
		index        int
		publicName   string
		flattened    bool
		deserializer reflectDeserializer
	}
	fields := make([]compiledField, 0, typ.NumField())
	knownKeys := make(map[string]bool)
	// If a flattened field knows how to deserialize itself, we cannot tell which keys it consumes.
	acceptsAnyKey := false

	for i := range typ.NumField() {
		field := typ.Field(i)
		tags := fieldTags[i]

		// Extract the public field name (that's the content of `json:"XXX"` if we're deserializing JSON).
		// We'll use for deserialization and also for error messages, as we expect that the errors will
		// be readable by external users.
		publicFieldName := field.Name
		if renamed := tags.PublicFieldName(options.renamingTagName); renamed != nil {
			publicFieldName = *renamed
		}

		if tags.Default() != nil && tags.MethodName() != nil {
			return nil, fmt.Errorf("struct %s contains a field \"%s\" that has both a `default` and a `orMethod` declaration. Please specify only one", path, field.Name)
		}

		willPreinitialize := initializationMetadata.canInitializeSelf || wasPreInitialized || tags.IsPreinitialized()

		// By Go convention, a field with lower-case name or with a publicFieldName of "-" is private and
		// should not be parsed.
		isPublic := publicFieldName != "-" && field.IsExported()
		if !isPublic {
			if willPreinitialize {
				continue
			}
			return nil, fmt.Errorf("struct %s contains a field \"%s\" that is not public and not pre-initialized, you should either make it public or specify an initializer with `Initializer` or `UnmarshalJSON`", path, field.Name)
		}

		fieldPath := fmt.Sprint(path, ".", publicFieldName)
		flattened := tags.IsFlattened() || field.Anonymous
		if flattened {
			// The *contents* of that struct are pulled from *the same outer map*.
			if field.Type.Kind() != reflect.Struct {
				return nil, fmt.Errorf("struct %s contains a flattened field \"%s\" that is not a struct", path, field.Name)
			}
			if options.driver.ShouldUnmarshal(field.Type) {
				acceptsAnyKey = true
			} else {
				collectPublicNames(field.Type, options.renamingTagName, knownKeys)
			}
		} else {
			knownKeys[publicFieldName] = true
		}

		fieldDeserializer, err := makeFieldDeserializerFromReflect(fieldPath, field.Type, options, &tags, selfContainer, willPreinitialize, flattened)
		if err != nil {
			return nil, err
		}
		fields = append(fields, compiledField{
			index:        i,
			publicName:   publicFieldName,
			flattened:    flattened,
			deserializer: fieldDeserializer,
		})
	}

	// True if this struct has a default value of {}.
	isZeroDefault := false
	if defaultSource := tags.Default(); defaultSource != nil {
		if *defaultSource != "{}" {
			return nil, fmt.Errorf("at %s, invalid `default` value. The only supported `default` value for structs is \"{}\", got: %s", path, *defaultSource)
		}
		isZeroDefault = true
	}
	orMethod, err := makeOrMethodConstructor(tags, typ, container)
	if err != nil {
		return nil, fmt.Errorf("at %s, failed to setup `orMethod`\n\t * %w", path, err)
	}
	checkUnknownKeys := options.rejectUnknownFields && !wasFlattened && !acceptsAnyKey

	var result reflectDeserializer = func(outPtr *reflect.Value, inValue shared.Value) error {
		resultPtr := reflect.New(typ)
		result := resultPtr.Elem()
		// Start from whatever our container already placed there.
		result.Set(*outPtr)

		if inValue == nil {
			switch {
			case wasPreInitialized:
				// No value? That's ok, we got a value from preinitialization.
				return nil
			case isZeroDefault || initializationMetadata.canInitializeSelf:
				inValue = options.driver.WrapValue(map[string]any{})
			case orMethod != nil:
				return orMethod.apply(outPtr, path, "struct", options.logger)
			default:
				return fmt.Errorf("missing object value at %s, expected %s", path, typeName(typ))
			}
		}

		// If possible, perform pre-initialization with default values.
		if initializationMetadata.canInitializeSelf && result.IsZero() {
			initializer, _ := resultPtr.Interface().(validation.Initializer)
			if err := initializer.Initialize(); err != nil {
				err = fmt.Errorf("at %s, encountered an error while initializing optional fields:\n\t * %w", path, err)
				options.logger.Error("Internal error during deserialization", zap.Error(err))
				return CustomDeserializerError{
					Wrapped:   err,
					Operation: "initializer",
					Structure: "struct",
				}
			}
		}

		inMap, ok := inValue.AsDict()
		if !ok {
			return fmt.Errorf("invalid value at %s, expected an object of type %s, got %s", path, typeName(typ), describe(inValue))
		}

		// We may now deserialize fields.
		for _, field := range fields {
			slot := result.Field(field.index)
			var fieldValue shared.Value
			if field.flattened {
				fieldValue = inMap.AsValue()
			} else if found, ok := inMap.Lookup(field.publicName); ok {
				fieldValue = found
			}
			if err := field.deserializer(&slot, fieldValue); err != nil {
				return err
			}
		}

		if checkUnknownKeys {
			for _, key := range inMap.Keys() {
				if !knownKeys[key] {
					return fmt.Errorf("unknown field %q at %s, expected %s", key, path, typeName(typ))
				}
			}
		}

		if initializationMetadata.canValidate {
			if err := validate(resultPtr, path); err != nil {
				return err
			}
		}
		outPtr.Set(result)
		return nil
	}
	*pending = result
	return result, nil
}

// Record the public names of the fields of a flattened struct.
func collectPublicNames(typ reflect.Type, tagName string, into map[string]bool) {
	for i := range typ.NumField() {
		field := typ.Field(i)
		tags, err := tagsPkg.Parse(field.Tag)
		if err != nil {
			// Reported when compiling the field itself.
			continue
		}
		if (tags.IsFlattened() || field.Anonymous) && field.Type.Kind() == reflect.Struct {
			collectPublicNames(field.Type, tagName, into)
			continue
		}
		name := field.Name
		if renamed := tags.PublicFieldName(tagName); renamed != nil {
			name = *renamed
		}
		if name != "-" && field.IsExported() {
			into[name] = true
		}
	}
}

// Construct a dynamically-typed deserializer for maps.
//
//   - `path` the human-readable path into the data structure, used for error-reporting;
//   - `typ` the dynamic type for the map being compiled;
//   - `tags` the table of tags for this field;
//   - `wasPreInitialized` if this value was preinitialized, typically through `Initializer`.
func makeMapDeserializerFromReflect(path string, typ reflect.Type, options innerOptions, tags *tagsPkg.Tags, container reflect.Value, wasPreInitialized bool) (reflectDeserializer, error) {
	if typ.Kind() != reflect.Map {
		panic(fmt.Sprintf("invalid call: %s is not a map", path))
	}
	keyType := typ.Key()
	if keyType.Kind() != reflect.String {
		return nil, fmt.Errorf("invalid map type at %s, only map[string]T can be converted into a deserializer", path)
	}

	// From this point, we know that it's a `map[string]T` for some `T`.
	subTags := tagsPkg.Empty()
	subTyp := typ.Elem()
	contentDeserializer, err := makeFieldDeserializerFromReflect(path+"[]", subTyp, options, &subTags, reflect.New(typ), false, false)
	if err != nil {
		return nil, err
	}

	// True if this map has a default value of {}.
	isZeroDefault := false
	if defaultSource := tags.Default(); defaultSource != nil {
		if *defaultSource != "{}" {
			return nil, fmt.Errorf("at %s, invalid `default` value. The only supported `default` value for maps is \"{}\", got: %s", path, *defaultSource)
		}
		isZeroDefault = true
	}
	orMethod, err := makeOrMethodConstructor(tags, typ, container)
	if err != nil {
		return nil, fmt.Errorf("at %s, failed to setup `orMethod`\n\t * %w", path, err)
	}

	result := func(outPtr *reflect.Value, inValue shared.Value) error {
		// No deferred validation, as we can't implement Validator on a map.
		switch {
		case inValue != nil:
			// We have all the data we need, proceed.
		case wasPreInitialized:
			return nil
		case isZeroDefault:
			inValue = options.driver.WrapValue(map[string]any{})
		case orMethod != nil:
			return orMethod.apply(outPtr, path, "map", options.logger)
		default:
			return fmt.Errorf("missing object value at %s, expected %s", path, typeName(typ))
		}
		if inValue.Interface() == nil {
			outPtr.SetZero()
			return nil
		}

		inMap, ok := inValue.AsDict()
		if !ok {
			return fmt.Errorf("invalid value at %s, expected an object of type %s, got %s", path, typeName(typ), describe(inValue))
		}

		// We may now deserialize keys and values.
		keys := inMap.Keys()
		result := reflect.MakeMapWithSize(typ, len(keys))
		for _, k := range keys {
			subInValue, ok := inMap.Lookup(k)
			if !ok {
				options.logger.Error("Internal error while ranging over map: missing value", zap.String("path", path), zap.String("key", k))
				// Hobble on.
				continue
			}
			reflectedContent := reflect.New(subTyp).Elem()
			if err := contentDeserializer(&reflectedContent, subInValue); err != nil {
				return fmt.Errorf("error while deserializing %s[%q]:\n\t * %w", path, k, err)
			}
			result.SetMapIndex(reflect.ValueOf(k).Convert(keyType), reflectedContent)
		}
		outPtr.Set(result)
		return nil
	}
	return result, nil
}

// Construct a dynamically-typed deserializer for slices and arrays.
//
//   - `fieldPath` the human-readable path into the data structure, used for error-reporting;
//   - `fieldType` the dynamic type for the slice being compiled;
//   - `tags` the table of tags for this field.
func makeSliceDeserializer(fieldPath string, fieldType reflect.Type, options innerOptions, tags *tagsPkg.Tags, container reflect.Value, wasPreinitialized bool) (reflectDeserializer, error) {
	arrayPath := fmt.Sprint(fieldPath, "[]")
	isEmptyDefault := false
	if defaultSource := tags.Default(); defaultSource != nil {
		if *defaultSource != "[]" {
			return nil, fmt.Errorf("at %s, invalid `default` value. The only supported `default` value for arrays or slices is \"[]\", got: %s", fieldPath, *defaultSource)
		}
		isEmptyDefault = true
	}
	orMethod, err := makeOrMethodConstructor(tags, fieldType, container)
	if err != nil {
		return nil, fmt.Errorf("at %s, failed to setup `orMethod`\n\t * %w", fieldPath, err)
	}

	// Prepare a deserializer for elements in this slice.
	subTags := tagsPkg.Empty()
	elementDeserializer, err := makeFieldDeserializerFromReflect(arrayPath, fieldType.Elem(), options, &subTags, reflect.New(fieldType), false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to generate a deserializer for %s\n\t * %w", fieldPath, err)
	}

	result := func(outPtr *reflect.Value, inValue shared.Value) error {
		// Note: no validation, as Validate cannot be implemented on slices.
		var input []shared.Value
		switch {
		case inValue != nil:
			if inValue.Interface() == nil && fieldType.Kind() == reflect.Slice {
				outPtr.SetZero()
				return nil
			}
			var ok bool
			if input, ok = inValue.AsSlice(); !ok {
				return fmt.Errorf("invalid value at %s, expected an array of %s, got %s", fieldPath, typeName(fieldType.Elem()), describe(inValue))
			}
		case wasPreinitialized:
			// No value? That's ok, we got a value from preinitialization.
			return nil
		case isEmptyDefault:
			// Nothing to deserialize, but we are allowed to default to an empty array.
			input = make([]shared.Value, 0)
		case orMethod != nil:
			return orMethod.apply(outPtr, fieldPath, "slice", options.logger)
		default:
			return fmt.Errorf("missing value at %s, expected an array of %s", fieldPath, typeName(fieldType.Elem()))
		}

		var reflectedResult reflect.Value
		switch fieldType.Kind() {
		case reflect.Slice:
			reflectedResult = reflect.MakeSlice(fieldType, len(input), len(input))
		case reflect.Array:
			if fieldType.Len() != len(input) {
				return fmt.Errorf("invalid array length at %s, expecting %d, got %d", fieldPath, fieldType.Len(), len(input))
			}
			reflectedResult = reflect.New(fieldType).Elem()
		default:
			panic("at this stage, we should have either an array or a slice")
		}

		// Recurse into entries.
		for i, inAtIndex := range input {
			outAtIndex := reflectedResult.Index(i)
			if err := elementDeserializer(&outAtIndex, inAtIndex); err != nil {
				return fmt.Errorf("error while deserializing %s[%d]:\n\t * %w", fieldPath, i, err)
			}
		}
		outPtr.Set(reflectedResult)
		return nil
	}
	return result, nil
}

// Construct a dynamically-typed deserializer for pointers.
//
//   - `fieldPath` the human-readable path into the data structure, used for error-reporting;
//   - `fieldType` the dynamic type for the pointer being compiled;
//   - `tags` the table of tags for this field.
func makePointerDeserializer(fieldPath string, fieldType reflect.Type, options innerOptions, tags *tagsPkg.Tags, container reflect.Value, wasPreinitialized bool) (reflectDeserializer, error) {
	ptrPath := fmt.Sprint(fieldPath, "*")
	elemType := fieldType.Elem()
	subTags := tagsPkg.Empty()
	childPreinitialized := wasPreinitialized || tags.IsPreinitialized()
	elementDeserializer, err := makeFieldDeserializerFromReflect(ptrPath, elemType, options, &subTags, reflect.New(fieldType), childPreinitialized, false)
	if err != nil {
		return nil, fmt.Errorf("failed to generate a deserializer for %s\n\t * %w", fieldPath, err)
	}

	// True if we support `nil` as default value.
	isNilDefault := false
	if defaultSource := tags.Default(); defaultSource != nil {
		if *defaultSource != "nil" {
			return nil, fmt.Errorf("at %s, invalid `default` value. The only supported `default` value for pointers is \"nil\", got: %s", fieldPath, *defaultSource)
		}
		isNilDefault = true
	}
	orMethod, err := makeOrMethodConstructor(tags, fieldType, container)
	if err != nil {
		return nil, fmt.Errorf("at %s, failed to setup `orMethod`\n\t * %w", fieldPath, err)
	}

	result := func(outPtr *reflect.Value, inValue shared.Value) error {
		switch {
		case inValue != nil:
			// We have all the data we need, proceed.
		case wasPreinitialized:
			// No value? That's ok, we got a value from preinitialization.
			return nil
		case isNilDefault:
			outPtr.SetZero()
			return nil
		case orMethod != nil:
			return orMethod.apply(outPtr, fieldPath, "ptr", options.logger)
		default:
			return fmt.Errorf("missing value at %s, expected %s", fieldPath, typeName(fieldType))
		}
		if inValue.Interface() == nil {
			outPtr.SetZero()
			return nil
		}

		// Move into ptr
		reflectedPtrResult := reflect.New(elemType)
		reflectedResult := reflectedPtrResult.Elem()
		if !outPtr.IsNil() {
			reflectedResult.Set(outPtr.Elem())
		}
		if err := elementDeserializer(&reflectedResult, inValue); err != nil {
			return err
		}

		// Note: We do not perform validation here as validation has already happened
		// when constructing the value we're pointing at.
		outPtr.Set(reflectedPtrResult)
		return nil
	}
	return result, nil
}

// Construct a dynamically-typed deserializer for a flat field (string, int, etc.).
//
//   - `fieldPath` the human-readable path into the data structure, used for error-reporting;
//   - `fieldType` the dynamic type for the field being compiled;
//   - `tags` the table of tags for this field.
func makeFlatFieldDeserializer(fieldPath string, fieldType reflect.Type, options innerOptions, tags *tagsPkg.Tags, container reflect.Value, wasPreinitialized bool) (reflectDeserializer, error) {
	typeName := typeName(fieldType)

	// A parser in case we receive our data as a string.
	parser := shared.LookupParser(fieldType)

	// If a `default` tag is provided, the parsed default value.
	var defaultValue any
	if defaultSource := tags.Default(); defaultSource != nil {
		if parser == nil {
			return nil, fmt.Errorf("cannot specify a default value at %s for type %s as we don't have a parser for such values", fieldPath, fieldType)
		}
		var err error
		defaultValue, err = (*parser)(*defaultSource)
		if err != nil {
			return nil, fmt.Errorf("cannot parse default value at %s\n\t * %w", fieldPath, err)
		}
	}

	// If a `orMethod` tag is provided, a closure to call this method.
	orMethod, err := makeOrMethodConstructor(tags, fieldType, container)
	if err != nil {
		return nil, fmt.Errorf("at %s, failed to setup `orMethod`\n\t * %w", fieldPath, err)
	}

	result := func(outPtr *reflect.Value, inValue shared.Value) error {
		// No validation here, as a flat value cannot implement `Validator`.
		var input any
		switch {
		case inValue != nil:
			input = inValue.Interface()
		case wasPreinitialized:
			return nil
		case defaultValue != nil:
			input = defaultValue
		case orMethod != nil:
			return orMethod.apply(outPtr, fieldPath, "field", options.logger)
		default:
			return fmt.Errorf("missing value at %s, expected %s", fieldPath, typeName)
		}

		if input == nil {
			// `CanConvert`, `Convert` and `Set` panic on `nil`, so we need to do things manually.
			if fieldType.Kind() == reflect.Interface {
				outPtr.SetZero()
				return nil
			}
			return fmt.Errorf("invalid value at %s, expected %s, got <nil>", fieldPath, typeName)
		}
		converted, err := convertFlat(input, fieldType, parser)
		if err != nil {
			return fmt.Errorf("invalid value at %s, expected %s, got %v\n\t * %w", fieldPath, typeName, input, err)
		}
		outPtr.Set(converted)
		return nil
	}
	return result, nil
}

// Construct a deserializer for a type that knows how to deserialize itself, either
// through the driver (e.g. `json.Unmarshaler`) or through `shared.UnmarshalDict`.
func makeSelfDeserializer(fieldPath string, fieldType reflect.Type, options innerOptions, tags *tagsPkg.Tags, container reflect.Value, wasPreinitialized bool, metadata initializationMetadata) (reflectDeserializer, error) {
	orMethod, err := makeOrMethodConstructor(tags, fieldType, container)
	if err != nil {
		return nil, fmt.Errorf("at %s, failed to setup `orMethod`\n\t * %w", fieldPath, err)
	}
	// A `default` is handed to the type itself, as a string.
	var defaultValue shared.Value
	if defaultSource := tags.Default(); defaultSource != nil {
		defaultValue = options.driver.WrapValue(*defaultSource)
	}

	result := func(outPtr *reflect.Value, inValue shared.Value) error {
		switch {
		case inValue != nil:
			// We have all the data we need, proceed.
		case wasPreinitialized:
			return nil
		case defaultValue != nil:
			inValue = defaultValue
		case orMethod != nil:
			return orMethod.apply(outPtr, fieldPath, "custom", options.logger)
		default:
			return fmt.Errorf("missing value at %s, expected %s", fieldPath, typeName(fieldType))
		}

		resultPtr := reflect.New(fieldType)
		if metadata.canUnmarshalFromDict {
			inDict, ok := inValue.AsDict()
			if !ok {
				return fmt.Errorf("invalid value at %s, expected an object of type %s, got %s", fieldPath, typeName(fieldType), describe(inValue))
			}
			unmarshalDict, _ := resultPtr.Interface().(shared.UnmarshalDict)
			if err := unmarshalDict.UnmarshalDict(inDict); err != nil {
				return fmt.Errorf("at %s, expected to be able to parse a %s:\n\t * %w", fieldPath, typeName(fieldType), err)
			}
		} else {
			resultPtrAny := resultPtr.Interface()
			if err := options.driver.Unmarshal(inValue.Interface(), &resultPtrAny); err != nil {
				return fmt.Errorf("at %s, expected to be able to parse a %s:\n\t * %w", fieldPath, typeName(fieldType), err)
			}
		}
		if metadata.canValidate {
			if err := validate(resultPtr, fieldPath); err != nil {
				return err
			}
		}
		outPtr.Set(resultPtr.Elem())
		return nil
	}
	return result, nil
}

// Construct a dynamically-typed deserializer for any field, wrapping
// errors with the path of the field.
func makeFieldDeserializerFromReflect(fieldPath string, fieldType reflect.Type, options innerOptions, tags *tagsPkg.Tags, container reflect.Value, wasPreinitialized bool, wasFlattened bool) (reflectDeserializer, error) {
	result, err := makeKindDeserializer(fieldPath, fieldType, options, tags, container, wasPreinitialized, wasFlattened)
	if err != nil {
		return nil, fmt.Errorf("could not generate a deserializer for %s with type %s:\n\t * %w", fieldPath, typeName(fieldType), err)
	}
	return result, nil
}

// Construct a dynamically-typed deserializer for any type.
//
//   - `path` the human-readable path into the data structure, used for error-reporting;
//   - `typ` the dynamic type for the field being compiled;
//   - `tags` the table of tags for this field.
func makeKindDeserializer(path string, typ reflect.Type, options innerOptions, tags *tagsPkg.Tags, container reflect.Value, wasPreinitialized bool, wasFlattened bool) (reflectDeserializer, error) {
	metadata, err := initializationData(path, typ, options)
	if err != nil {
		return nil, err
	}
	if metadata.canDriverUnmarshal || metadata.canUnmarshalFromDict {
		return makeSelfDeserializer(path, typ, options, tags, container, wasPreinitialized, metadata)
	}

	switch typ.Kind() {
	case reflect.Pointer:
		return makePointerDeserializer(path, typ, options, tags, container, wasPreinitialized)
	case reflect.Array, reflect.Slice:
		return makeSliceDeserializer(path, typ, options, tags, container, wasPreinitialized)
	case reflect.Struct:
		return makeStructDeserializerFromReflect(path, typ, options, tags, container, wasPreinitialized, wasFlattened)
	case reflect.Map:
		return makeMapDeserializerFromReflect(path, typ, options, tags, container, wasPreinitialized)
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128, reflect.Uintptr:
		return nil, fmt.Errorf("type %s cannot be deserialized", typ)
	default:
		return makeFlatFieldDeserializer(path, typ, options, tags, container, wasPreinitialized)
	}
}

// Convert a raw scalar into a value of type `typ`.
//
// Strings may be parsed into non-string types, numbers may be
// converted between numeric types as long as no information is lost.
func convertFlat(input any, typ reflect.Type, parser *shared.Parser) (reflect.Value, error) {
	if unwrapped, ok := input.(shared.Value); ok {
		return convertFlat(unwrapped.Interface(), typ, parser)
	}
	if typ.Kind() == reflect.Interface {
		// Untyped values see numbers the way `encoding/json` decodes them.
		reflected := reflect.ValueOf(jsonPkg.Plain(input))
		if !reflected.Type().Implements(typ) {
			return reflect.Value{}, fmt.Errorf("%s does not implement %s", reflected.Type(), typ)
		}
		result := reflect.New(typ).Elem()
		result.Set(reflected)
		return result, nil
	}
	if number, ok := input.(json.Number); ok {
		return convertLiteral(number, typ)
	}
	reflected := reflect.ValueOf(input)
	switch {
	case isNumber(reflected.Kind()) && isNumber(typ.Kind()):
		return convertNumber(reflected, typ)
	case reflected.Kind() == typ.Kind() && (typ.Kind() == reflect.String || typ.Kind() == reflect.Bool):
		return reflected.Convert(typ), nil
	case reflected.Kind() == reflect.String && parser != nil:
		// The input is represented as a string, but we're not looking for a
		// string. This can happen e.g. for YAML scalars or in case of client error.
		//
		// Regardless, let's try and convert.
		parsed, err := (*parser)(reflected.String())
		if err != nil {
			return reflect.Value{}, err //nolint:wrapcheck
		}
		return convertFlat(parsed, typ, nil)
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %s into %s", reflected.Kind(), typ)
}

func isNumber(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// Convert between numeric types, refusing truncation and overflows.
func convertNumber(source reflect.Value, typ reflect.Type) (reflect.Value, error) {
	result := reflect.New(typ).Elem()
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var i int64
		switch source.Kind() {
		case reflect.Float32, reflect.Float64:
			f := source.Float()
			if f != math.Trunc(f) {
				return reflect.Value{}, fmt.Errorf("%v is not an integer", f)
			}
			if f < math.MinInt64 || f >= math.MaxInt64 {
				return reflect.Value{}, fmt.Errorf("%v overflows %s", f, typ)
			}
			i = int64(f)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := source.Uint()
			if u > math.MaxInt64 {
				return reflect.Value{}, fmt.Errorf("%v overflows %s", u, typ)
			}
			i = int64(u)
		default:
			i = source.Int()
		}
		if result.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", i, typ)
		}
		result.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var u uint64
		switch source.Kind() {
		case reflect.Float32, reflect.Float64:
			f := source.Float()
			if f != math.Trunc(f) {
				return reflect.Value{}, fmt.Errorf("%v is not an integer", f)
			}
			if f < 0 || f >= math.MaxUint64 {
				return reflect.Value{}, fmt.Errorf("%v overflows %s", f, typ)
			}
			u = uint64(f)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i := source.Int()
			if i < 0 {
				return reflect.Value{}, fmt.Errorf("%v overflows %s", i, typ)
			}
			u = uint64(i)
		default:
			u = source.Uint()
		}
		if result.OverflowUint(u) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", u, typ)
		}
		result.SetUint(u)
	default:
		var f float64
		switch source.Kind() {
		case reflect.Float32, reflect.Float64:
			f = source.Float()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(source.Int())
		default:
			f = float64(source.Uint())
		}
		if result.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", f, typ)
		}
		result.SetFloat(f)
	}
	return result, nil
}

// Convert a number literal. Integers are read from their digits rather than
// through a float64, so that no digit is lost beyond 2^53.
func convertLiteral(number json.Number, typ reflect.Type) (reflect.Value, error) {
	result := reflect.New(typ).Elem()
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := number.Int64()
		if err != nil {
			// Fractions, exponents and out of range values.
			return convertFloatLiteral(number, typ)
		}
		if result.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", i, typ)
		}
		result.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(number.String(), 10, 64)
		if err != nil {
			return convertFloatLiteral(number, typ)
		}
		if result.OverflowUint(u) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", u, typ)
		}
		result.SetUint(u)
	case reflect.Float32, reflect.Float64:
		return convertFloatLiteral(number, typ)
	default:
		return reflect.Value{}, fmt.Errorf("cannot convert number into %s", typ)
	}
	return result, nil
}

func convertFloatLiteral(number json.Number, typ reflect.Type) (reflect.Value, error) {
	f, err := number.Float64()
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%s overflows %s", number, typ)
	}
	return convertNumber(reflect.ValueOf(f), typ)
}

// Run `Validate()` on a freshly built value.
func validate(ptr reflect.Value, path string) error {
	validator, ok := ptr.Interface().(validation.Validator)
	if !ok {
		return nil
	}
	if err := validator.Validate(); err != nil {
		return validation.WrapError(path, err)
	}
	return nil
}

// A short human-readable description of an input value, for error messages.
func describe(value shared.Value) string {
	raw := value.Interface()
	switch raw.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case json.Number, float32, float64, int, int64:
		return "a number"
	}
	if _, ok := value.AsSlice(); ok {
		return "an array"
	}
	if _, ok := value.AsDict(); ok {
		return "an object"
	}
	return fmt.Sprintf("%T", raw)
}

// Return a (mostly) human-readable type name for a Go type.
//
// This type name is used for user error messages.
func typeName(typ reflect.Type) string {
	fullName := typ.Name()
	if fullName == "" {
		return typ.String()
	}
	pkgName := fmt.Sprint(typ.PkgPath(), ".")
	return strings.ReplaceAll(fullName, pkgName, "")
}

// A custom constructor provided with tag `orMethod`.
type orMethodConstructor func() (any, error)

// Call the constructor and store its result in `slot`.
func (constructor orMethodConstructor) apply(slot *reflect.Value, path string, structure string, logger *zap.Logger) error {
	constructed, err := constructor()
	if err != nil {
		err = fmt.Errorf("error in optional value at %s\n\t * %w", path, err)
		logger.Error("Internal error during deserialization", zap.Error(err))
		return CustomDeserializerError{
			Wrapped:   err,
			Operation: "orMethod",
			Structure: structure,
		}
	}
	reflected := reflect.ValueOf(constructed)
	if !reflected.IsValid() {
		slot.SetZero()
		return nil
	}
	slot.Set(reflected.Convert(slot.Type()))
	return nil
}

func makeOrMethodConstructor(tags *tagsPkg.Tags, fieldType reflect.Type, container reflect.Value) (*orMethodConstructor, error) {
	methodName := tags.MethodName()
	if methodName == nil {
		return nil, nil //nolint:nilnil
	}
	method := container.MethodByName(*methodName)
	if !method.IsValid() {
		return nil, fmt.Errorf("method %s provided with `orMethod` doesn't seem to exist - note that the method must be public", *methodName)
	}
	typ := method.Type()
	switch {
	case typ.NumIn() != 0:
		return nil, fmt.Errorf("the method provided with `orMethod` MUST take no argument but takes %d arguments", typ.NumIn())
	case typ.NumOut() != 2: //nolint:mnd
		return nil, fmt.Errorf("the method provided with `orMethod` MUST return (%s, error) but it returns %d value(s)", typeName(fieldType), typ.NumOut())
	case !typ.Out(0).ConvertibleTo(fieldType):
		return nil, fmt.Errorf("the method provided with `orMethod` MUST return (%s, error) but it returns (%s, _) which is not convertible to `%s`", typeName(fieldType), typeName(typ.Out(0)), typeName(fieldType))
	case !typ.Out(1).ConvertibleTo(errorInterface):
		return nil, fmt.Errorf("the method provided with `orMethod` MUST return (%s, error) but it returns (_, %s) which is not convertible to `error`", typeName(fieldType), typeName(typ.Out(1)))
	}
	var constructor orMethodConstructor = func() (any, error) {
		out := method.Call(nil)
		// We have just checked that `out[1]` MUST be convertible to `error`.
		err, _ := out[1].Interface().(error)
		return out[0].Interface(), err
	}
	return &constructor, nil
}

// Check that a type implements an interface *on pointers*.
func canInterface(typ reflect.Type, interfaceType reflect.Type) (bool, error) {
	ptrTyp := reflect.PointerTo(typ)
	if typ.Implements(interfaceType) {
		return false, fmt.Errorf("type %s implements %s - it should be implemented by pointer type *%s instead", typ, interfaceType, typ)
	}
	if ptrTyp.Implements(interfaceType) {
		return true, nil
	}
	return false, nil
}

// Some metadata on initialization for a type.
type initializationMetadata struct {
	canInitializeSelf    bool
	canDriverUnmarshal   bool
	canUnmarshalFromDict bool
	canValidate          bool
}

func initializationData(path string, typ reflect.Type, options innerOptions) (initializationMetadata, error) {
	// Pointers and interfaces are handled through what they point to.
	if typ.Kind() == reflect.Pointer || typ.Kind() == reflect.Interface {
		return initializationMetadata{}, nil
	}
	canInitializeSelf, err := canInterface(typ, initializerInterface)
	if err != nil {
		return initializationMetadata{}, err
	}
	canUnmarshalFromDict, err := canInterface(typ, unmarshalDictInterface)
	if err != nil {
		return initializationMetadata{}, err
	}
	// Early check that we're not mis-using `Validator`.
	canValidate, err := canInterface(typ, validatorInterface)
	if err != nil {
		return initializationMetadata{}, err
	}
	canDriverUnmarshal := options.driver.ShouldUnmarshal(typ)
	if canInitializeSelf && canDriverUnmarshal {
		options.logger.Warn("Type supports both Initializer and Unmarshaler, defaulting to Unmarshaler", zap.String("path", path), zap.Stringer("type", typ))
		canInitializeSelf = false
	}
	if canDriverUnmarshal && canUnmarshalFromDict {
		options.logger.Warn("Type supports both Unmarshaler and UnmarshalDict, defaulting to UnmarshalDict", zap.String("path", path), zap.Stringer("type", typ))
		canDriverUnmarshal = false
	}
	return initializationMetadata{
		canInitializeSelf:    canInitializeSelf && typ.Kind() == reflect.Struct,
		canDriverUnmarshal:   canDriverUnmarshal,
		canUnmarshalFromDict: canUnmarshalFromDict,
		canValidate:          canValidate,
	}, nil
}
