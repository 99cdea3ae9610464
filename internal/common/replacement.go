// Package common provides configuration, logging and {key-name} reference replacement.
//
// The {key-name} syntax lets configuration values and the page markup reference
// entries of the [variables] table. A typical use is pointing the page's CSV_URL
// at a local mirror:
//
//	Input:  `const CSV_URL = "{csv-url}";`
//	Vars:   {"csv-url": "http://127.0.0.1:9000/cohorts.csv"}
//	Output: `const CSV_URL = "http://127.0.0.1:9000/cohorts.csv";`
//
// Replacement is case-sensitive. Missing keys are left unchanged.
package common

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/ternarybob/arbor"
)

// keyRefPattern matches {key-name} references in strings
// Allows alphanumeric characters, hyphens, and underscores
var keyRefPattern = regexp.MustCompile(`\{([a-zA-Z0-9_-]+)\}`)

// ReplaceKeyReferences replaces all {key-name} references in the input string
// with values from the provided map. Unknown references are left unchanged and
// logged as warnings.
func ReplaceKeyReferences(input string, kvMap map[string]string, logger arbor.ILogger) string {
	if input == "" {
		return input
	}

	logUnresolvedKeys(input, kvMap, logger)

	return ReplaceKnownReferences(input, kvMap)
}

// ReplaceKnownReferences replaces only the references present in kvMap, silently.
// Used for page markup, where braces are mostly script syntax rather than references.
func ReplaceKnownReferences(input string, kvMap map[string]string) string {
	if input == "" || len(kvMap) == 0 {
		return input
	}

	return keyRefPattern.ReplaceAllStringFunc(input, func(match string) string {
		keyName := match[1 : len(match)-1]
		if value, exists := kvMap[keyName]; exists {
			return value
		}
		return match
	})
}

// logUnresolvedKeys finds all {key-name} references and logs warnings for missing keys
func logUnresolvedKeys(input string, kvMap map[string]string, logger arbor.ILogger) {
	matches := keyRefPattern.FindAllStringSubmatch(input, -1)
	for _, match := range matches {
		if len(match) > 1 {
			keyName := match[1]
			if _, exists := kvMap[keyName]; !exists {
				logger.Warn().
					Str("reference", match[0]).
					Str("key", keyName).
					Msg("Unresolved key reference - key not found in variables")
			}
		}
	}
}

// ReplaceInStruct uses reflection to recursively replace {key-name} references
// in a struct's string fields, string slices and map[string]string fields.
// The struct must be passed as a pointer for in-place mutation.
func ReplaceInStruct(v interface{}, kvMap map[string]string, logger arbor.ILogger) error {
	val := reflect.ValueOf(v)

	if val.Kind() != reflect.Ptr {
		return fmt.Errorf("ReplaceInStruct requires a pointer, got %T", v)
	}

	val = val.Elem()

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("ReplaceInStruct requires a struct pointer, got pointer to %v", val.Kind())
	}

	return replaceInStructValue(val, kvMap, logger)
}

// replaceInStructValue is the recursive implementation for struct traversal
func replaceInStructValue(val reflect.Value, kvMap map[string]string, logger arbor.ILogger) error {
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			oldValue := field.String()
			newValue := ReplaceKeyReferences(oldValue, kvMap, logger)
			if oldValue != newValue {
				field.SetString(newValue)
				logger.Debug().
					Str("field", fieldType.Name).
					Str("old", oldValue).
					Str("new", newValue).
					Msg("Replaced key reference in struct field")
			}

		case reflect.Struct:
			if err := replaceInStructValue(field, kvMap, logger); err != nil {
				return fmt.Errorf("failed to replace in nested struct field '%s': %w", fieldType.Name, err)
			}

		case reflect.Ptr:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				if err := replaceInStructValue(field.Elem(), kvMap, logger); err != nil {
					return fmt.Errorf("failed to replace in pointer field '%s': %w", fieldType.Name, err)
				}
			}

		case reflect.Map:
			if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
				continue
			}
			mapVal := field.Interface().(map[string]string)
			for key, value := range mapVal {
				newValue := ReplaceKeyReferences(value, kvMap, logger)
				if value != newValue {
					mapVal[key] = newValue
					logger.Debug().
						Str("field", fieldType.Name).
						Str("key", key).
						Str("old", value).
						Str("new", newValue).
						Msg("Replaced key reference in map field")
				}
			}

		case reflect.Slice:
			if field.Type().Elem().Kind() != reflect.String {
				continue
			}
			for i := 0; i < field.Len(); i++ {
				elem := field.Index(i)
				oldValue := elem.String()
				newValue := ReplaceKeyReferences(oldValue, kvMap, logger)
				if oldValue != newValue {
					elem.SetString(newValue)
					logger.Debug().
						Str("field", fieldType.Name).
						Int("index", i).
						Str("old", oldValue).
						Str("new", newValue).
						Msg("Replaced key reference in slice field")
				}
			}
		}
	}

	return nil
}
