package xstate

// Context is the extended state of a machine: an opaque key/value record
// threaded through guards, assigns and actions. The engine treats it as
// immutable within a microstep; assigns produce a new Context and
// observers only ever see the post-microstep value.
type Context map[string]any

// Copy returns a shallow copy of the context. A nil context copies to an
// empty, writable one.
func (c Context) Copy() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// With returns a copy of the context with one key replaced.
func (c Context) With(key string, value any) Context {
	out := c.Copy()
	out[key] = value
	return out
}

// Get retrieves a value from the context
func (c Context) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// GetString retrieves a string value, returning "" when absent or of a
// different type.
func (c Context) GetString(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// GetInt retrieves an int value, accepting float64 for contexts decoded
// from JSON or YAML documents.
func (c Context) GetInt(key string) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// GetBool retrieves a bool value, returning false when absent.
func (c Context) GetBool(key string) bool {
	v, _ := c[key].(bool)
	return v
}
