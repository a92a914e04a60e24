// Code specific to deserializing YAML.
//
// YAML documents are converted to the tree the JSON driver produces, so a
// YAML tree has exactly the shape of the equivalent JSON tree and types
// implementing `json.Unmarshaler` keep working.
//
// Documents follow YAML 1.2: `y`, `n`, `on` or `off` are plain strings,
// only `true` and `false` are booleans.
package yaml

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	jsonPkg "github.com/Leinnan/assets-reflect/deserialize/json"
	"github.com/Leinnan/assets-reflect/deserialize/shared"
	goyaml "gopkg.in/yaml.v3"
)

// The deserialization driver for YAML.
type Driver struct {
	jsonPkg.Driver
}

// Parse a buffer as a single YAML document.
func (u Driver) Parse(buf []byte) (shared.Value, error) {
	var tree any
	if err := goyaml.Unmarshal(buf, &tree); err != nil {
		return nil, fmt.Errorf("malformed yaml:\n\t * %w", err)
	}
	converted, err := toJSONTree(tree, "$")
	if err != nil {
		return nil, fmt.Errorf("malformed yaml:\n\t * %w", err)
	}
	return u.WrapValue(converted), nil
}

// Rewrite a tree decoded by yaml.v3 with the types used by the JSON driver:
// string-keyed objects and `json.Number` literals.
func toJSONTree(tree any, path string) (any, error) {
	switch typed := tree.(type) {
	case map[string]any:
		result := make(map[string]any, len(typed))
		for k, v := range typed {
			converted, err := toJSONTree(v, path+"."+k)
			if err != nil {
				return nil, err
			}
			result[k] = converted
		}
		return result, nil
	case map[any]any:
		result := make(map[string]any, len(typed))
		for k, v := range typed {
			key := fmt.Sprint(k)
			if _, ok := result[key]; ok {
				return nil, fmt.Errorf("at %s, key %q appears twice", path, key)
			}
			converted, err := toJSONTree(v, path+"."+key)
			if err != nil {
				return nil, err
			}
			result[key] = converted
		}
		return result, nil
	case []any:
		result := make([]any, len(typed))
		for i, v := range typed {
			converted, err := toJSONTree(v, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			result[i] = converted
		}
		return result, nil
	case int:
		return json.Number(strconv.Itoa(typed)), nil
	case int64:
		return json.Number(strconv.FormatInt(typed, 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(typed, 10)), nil
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return nil, fmt.Errorf("at %s, %v cannot be represented as a json number", path, typed)
		}
		return json.Number(strconv.FormatFloat(typed, 'g', -1, 64)), nil
	case time.Time:
		return typed.Format(time.RFC3339Nano), nil
	}
	return tree, nil
}

var _ shared.Driver = Driver{} //nolint:exhaustruct
