package xstate

import (
	"fmt"
	"sort"
	"strings"
)

// StateValue describes the active states of a machine. It is either a
// leaf name (string) or a map from child key to nested StateValue. A
// partial value may omit initial descents; Resolve completes it against
// the state tree.
type StateValue = any

// ToStateValue normalizes the accepted state-value forms into the nested
// mapping form: a dotted path string, a map of child key to value, or an
// already-normalized value. Unknown forms are returned as-is and fail
// later at resolution.
func ToStateValue(value any, delimiter string) StateValue {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	switch v := value.(type) {
	case string:
		segments := strings.Split(v, delimiter)
		return pathToValue(segments)
	case map[string]StateValue:
		out := make(map[string]StateValue, len(v))
		for k, sub := range v {
			out[k] = ToStateValue(sub, delimiter)
		}
		return out
	case map[string]string:
		out := make(map[string]StateValue, len(v))
		for k, sub := range v {
			out[k] = ToStateValue(sub, delimiter)
		}
		return out
	default:
		return value
	}
}

// pathToValue folds a segment path into the nested form: ["a","b","c"]
// becomes {a: {b: "c"}} and ["a"] stays "a".
func pathToValue(segments []string) StateValue {
	if len(segments) == 1 {
		return segments[0]
	}
	return map[string]StateValue{
		segments[0]: pathToValue(segments[1:]),
	}
}

// ValueEquals reports structural equality of two state values.
func ValueEquals(a, b StateValue) bool {
	as, aIsString := a.(string)
	bs, bIsString := b.(string)
	if aIsString || bIsString {
		return aIsString && bIsString && as == bs
	}
	am, aIsMap := a.(map[string]StateValue)
	bm, bIsMap := b.(map[string]StateValue)
	if !aIsMap || !bIsMap {
		return false
	}
	if len(am) != len(bm) {
		return false
	}
	for k, av := range am {
		bv, ok := bm[k]
		if !ok || !ValueEquals(av, bv) {
			return false
		}
	}
	return true
}

// MatchesState reports whether the ancestor value is a prefix of the
// given value: every branch the ancestor names must be active in value,
// possibly with deeper descendants.
func MatchesState(ancestor, value StateValue, delimiter string) bool {
	a := ToStateValue(ancestor, delimiter)
	v := ToStateValue(value, delimiter)
	return valueMatches(a, v)
}

func valueMatches(ancestor, value StateValue) bool {
	if as, ok := ancestor.(string); ok {
		if vs, ok := value.(string); ok {
			return as == vs
		}
		vm, ok := value.(map[string]StateValue)
		if !ok {
			return false
		}
		_, present := vm[as]
		return present
	}
	am, ok := ancestor.(map[string]StateValue)
	if !ok {
		return false
	}
	vm, ok := value.(map[string]StateValue)
	if !ok {
		return false
	}
	for k, sub := range am {
		vsub, present := vm[k]
		if !present || !valueMatches(sub, vsub) {
			return false
		}
	}
	return true
}

// ToPaths produces the set of leaf paths of a state value, ordered
// lexicographically for determinism.
func ToPaths(value StateValue) [][]string {
	var paths [][]string
	collectPaths(value, nil, &paths)
	sort.Slice(paths, func(i, j int) bool {
		return strings.Join(paths[i], "\x00") < strings.Join(paths[j], "\x00")
	})
	return paths
}

func collectPaths(value StateValue, prefix []string, out *[][]string) {
	switch v := value.(type) {
	case string:
		path := make([]string, 0, len(prefix)+1)
		path = append(path, prefix...)
		path = append(path, v)
		*out = append(*out, path)
	case map[string]StateValue:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			next := make([]string, 0, len(prefix)+1)
			next = append(next, prefix...)
			next = append(next, k)
			collectPaths(v[k], next, out)
		}
	}
}

// ToStrings yields the leaf paths of a state value joined by the given
// delimiter.
func ToStrings(value StateValue, delimiter string) []string {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	paths := ToPaths(value)
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = strings.Join(p, delimiter)
	}
	return out
}

// describeValue renders a state value for error messages.
func describeValue(value StateValue) string {
	return fmt.Sprintf("%v", value)
}
