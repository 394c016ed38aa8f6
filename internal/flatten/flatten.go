// Package flatten turns a nested secret payload into environment-style
// KEY=VALUE pairs.
//
// Keys are derived deterministically: diacritics are stripped, every
// character outside [A-Za-z0-9_] becomes an underscore, camelCase
// boundaries get an underscore and the result is uppercased. Nested objects
// and arrays are walked depth-first and their keys joined with "_".
//
//	Flatten(map[string]any{"db": map[string]any{"userName": "app", "port": 5432}})
//	// DB_PORT=5432
//	// DB_USER_NAME="app"
package flatten

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Pair is one flattened environment variable candidate. Value is already in
// its literal form: strings are double-quoted, everything else is not.
type Pair struct {
	Key   string
	Value string
}

// String renders the pair as a dotenv line without the trailing newline.
func (p Pair) String() string {
	return p.Key + "=" + p.Value
}

var (
	invalidKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	camelBoundary   = regexp.MustCompile(`([a-z])([A-Z])`)

	// U+0300..U+036F, the combining diacritical marks block.
	stripMarks = runes.Remove(runes.Predicate(func(r rune) bool {
		return r >= 0x0300 && r <= 0x036f
	}))
)

// Key transforms a single payload key into its environment form.
func Key(key string) string {
	decomposed, _, err := transform.String(transform.Chain(norm.NFD, stripMarks), key)
	if err != nil {
		decomposed = key
	}

	out := invalidKeyChars.ReplaceAllString(decomposed, "_")
	out = camelBoundary.ReplaceAllString(out, "${1}_${2}")
	return strings.ToUpper(strings.TrimSpace(out))
}

// Flatten walks payload and returns its pairs sorted by key.
//
// Distinct source paths that normalize to the same key are not
// deduplicated: the value visited last wins. Map keys are visited in sorted
// order and array elements in index order, so the outcome is deterministic.
func Flatten(payload any) []Pair {
	output := make(map[string]string)
	step(output, payload, "")

	pairs := make([]Pair, 0, len(output))
	for key, value := range output {
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Key < pairs[j].Key
	})
	return pairs
}

// Map returns the flattened pairs keyed by name.
func Map(pairs []Pair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.Key] = p.Value
	}
	return out
}

func step(output map[string]string, object any, prev string) {
	switch container := object.(type) {
	case map[string]any:
		keys := make([]string, 0, len(container))
		for k := range container {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			visit(output, container[k], joinKey(prev, k))
		}
	case []any:
		for i, v := range container {
			visit(output, v, joinKey(prev, strconv.Itoa(i)))
		}
	default:
		// A scalar at the top level has no key to hang off.
	}
}

func visit(output map[string]string, value any, key string) {
	if isNonEmptyContainer(value) {
		step(output, value, key)
		return
	}
	output[key] = literal(value)
}

func joinKey(prev, key string) string {
	if prev == "" {
		return Key(key)
	}
	return prev + "_" + Key(key)
}

func isNonEmptyContainer(v any) bool {
	switch c := v.(type) {
	case map[string]any:
		return len(c) > 0
	case []any:
		return len(c) > 0
	}
	return false
}

func literal(v any) string {
	switch value := v.(type) {
	case nil:
		return "null"
	case string:
		return `"` + value + `"`
	case bool:
		return strconv.FormatBool(value)
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", value)
	case map[string]any:
		return "{}"
	case []any:
		return "[]"
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(data)
	}
}
