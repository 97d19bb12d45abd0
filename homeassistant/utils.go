package homeassistant

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// mapGet walks nested JSON objects along keys and returns the final value
// converted to V.
func mapGet[V any](m map[string]any, keys ...string) (V, error) {
	var invalidValue V
	if len(keys) == 0 {
		return invalidValue, fmt.Errorf("no keys given")
	}

	var current any = m
	for i, key := range keys {
		currentMap, currentIsMap := current.(map[string]any)
		if !currentIsMap {
			return invalidValue, fmt.Errorf("expected object at %v, found %v", keys[:i], reflect.TypeOf(current))
		}

		valueAny, keyPresent := currentMap[key]
		if !keyPresent {
			return invalidValue, fmt.Errorf("cant find key %s in %v", key, keys[:i])
		}
		current = valueAny
	}

	value, valueCorrectType := current.(V)
	if !valueCorrectType {
		return invalidValue, fmt.Errorf("mismatch type for %v, cant coerce %v to %v", keys, reflect.TypeOf(current), reflect.TypeOf(invalidValue))
	}

	return value, nil
}

// parseGeneratedData converts the loosely typed data object returned by an
// ai_task into text fields. Numbers and booleans are stringified, nulls
// become empty strings.
func parseGeneratedData(data map[string]any) (map[string]string, error) {
	texts := map[string]string{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &texts,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create data decoder: %w", err)
	}

	cleaned := make(map[string]any, len(data))
	for key, value := range data {
		if value == nil {
			cleaned[key] = ""
			continue
		}
		cleaned[key] = value
	}

	if err := decoder.Decode(cleaned); err != nil {
		return nil, fmt.Errorf("unable to decode generated data: %w", err)
	}
	return texts, nil
}
