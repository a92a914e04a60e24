// Parsing of the struct tags understood by the deserializer.
package tags

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Tags whose content is kept verbatim rather than split on commas.
var verbatim = map[string]bool{
	"default":  true,
	"orMethod": true,
}

// A representation of the tags for a given field.
type Tags struct {
	tags map[string][]string
}

func Empty() Tags {
	return Tags{
		tags: make(map[string][]string),
	}
}

// Parse the tag associated to a struct field, following the
// `reflect.StructTag` conventions.
//
// Unlike `reflect.StructTag.Lookup`, a key defined twice is an error.
func Parse(tag reflect.StructTag) (Tags, error) {
	result := Empty()
	rest := string(tag)
	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}

		// Scan to colon. A space, a quote or a control character ends the key.
		i := 0
		for i < len(rest) && rest[i] > ' ' && rest[i] != ':' && rest[i] != '"' && rest[i] != 0x7f {
			i++
		}
		if i == 0 || i+1 >= len(rest) || rest[i] != ':' || rest[i+1] != '"' {
			// Not a key:"value" pair, same as the standard library, give up.
			break
		}
		name := rest[:i]
		rest = rest[i+1:]

		// Scan quoted string to find value.
		i = 1
		for i < len(rest) && rest[i] != '"' {
			if rest[i] == '\\' {
				i++
			}
			i++
		}
		if i >= len(rest) {
			break
		}
		quoted := rest[:i+1]
		rest = rest[i+1:]

		if _, exists := result.tags[name]; exists {
			return Tags{}, fmt.Errorf("invalid tag, name %s should only be defined once", name)
		}
		value, err := strconv.Unquote(quoted)
		if err != nil {
			return Tags{}, fmt.Errorf("ill-formed tag %s:\n\t * %w", name, err)
		}
		result.tags[name] = split(name, value)
	}
	return result, nil
}

func split(name string, value string) []string {
	if verbatim[name] {
		return []string{value}
	}
	// The first entry is positional (e.g. the renaming in `json:",omitempty"`),
	// so it is kept even when empty.
	raw := strings.Split(value, ",")
	parts := []string{strings.TrimSpace(raw[0])}
	for _, part := range raw[1:] {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Return the a default value that may be used to initialize a
// field if no value is provided.
//
// This is tag `default`. Conflicts with `orMethod`.
func (tags Tags) Default() *string {
	return tags.first("default")
}

// Return the name of a method that may be used to initialize
// a field if no value is provided.
//
// This is tag `orMethod`. Conflicts with `default`.
func (tags Tags) MethodName() *string {
	return tags.first("orMethod")
}

// Return the public field name for a field.
//
// e.g. for json, if there's a tag `json:"foo"`, this means
// that the field should be imported as `foo`. A tag `json:",omitempty"`
// does not rename the field.
func (tags Tags) PublicFieldName(key string) *string {
	name := tags.first(key)
	if name == nil || *name == "" {
		return nil
	}
	return name
}

// Return `true` if this field should be considered pre-initialized
// (i.e. the parser should not complain if it is missing).
//
// This is tag `initialized`.
func (tags Tags) IsPreinitialized() bool {
	_, ok := tags.tags["initialized"]
	return ok
}

// Return `true` if this field is marked as `flatten`, e.g.
//
//	type Enemy struct {
//	    Name string
//	    Stats struct {
//	        Health int
//	        Speed  int
//	    } `flatten:""`
//	}
//
// should deserialized from the following JSON
//
//	{
//	   "Name": "slime",
//	   "Health": 3,
//	   "Speed": 1
//	}
func (tags Tags) IsFlattened() bool {
	_, ok := tags.tags["flatten"]
	return ok
}

// Lookup a key.
func (tags Tags) Lookup(key string) ([]string, bool) {
	result, ok := tags.tags[key]
	return result, ok
}

func (tags Tags) first(key string) *string {
	result, ok := tags.tags[key]
	if !ok || len(result) == 0 {
		return nil
	}
	return &result[0]
}

// Parse the tags of every field of a struct, failing on the first
// ill-formed one.
func ParseFields(typ reflect.Type) ([]Tags, error) {
	if typ.Kind() != reflect.Struct {
		return nil, errors.New("only structs have field tags")
	}
	result := make([]Tags, typ.NumField())
	for i := range typ.NumField() {
		parsed, err := Parse(typ.Field(i).Tag)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tags at %s.%s:\n\t * %w", typ.Name(), typ.Field(i).Name, err)
		}
		result[i] = parsed
	}
	return result, nil
}
