package bagel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
)

// Configuration is the serialisable state of programs and submissions. Values
// are primitives or strings so it survives JSON and gob.
type Configuration map[string]interface{}

func (c Configuration) Copy() Configuration {
	copied := make(Configuration, len(c))
	for k, v := range c {
		copied[k] = v
	}
	return copied
}

// Merge returns a copy of c overridden by other.
func (c Configuration) Merge(other Configuration) (Configuration, error) {
	merged := c.Copy()
	if err := mergo.Merge(&merged, other.Copy(), mergo.WithOverride); err != nil {
		return nil, err
	}
	return merged, nil
}

func (c Configuration) Has(key string) bool {
	_, ok := c[key]
	return ok
}

func (c Configuration) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c Configuration) GetString(key string, fallback string) string {
	value, ok := c[key]
	if !ok || value == nil {
		return fallback
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

func (c Configuration) GetInt(key string, fallback int) int {
	value, ok := c[key]
	if !ok {
		return fallback
	}
	switch v := value.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (c Configuration) GetUint64(key string, fallback uint64) uint64 {
	value, ok := c[key]
	if !ok {
		return fallback
	}
	switch v := value.(type) {
	case uint64:
		return v
	case int:
		return uint64(v)
	case int64:
		return uint64(v)
	case uint32:
		return uint64(v)
	case float64:
		return uint64(v)
	case string:
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func (c Configuration) GetFloat64(key string, fallback float64) float64 {
	value, ok := c[key]
	if !ok {
		return fallback
	}
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (c Configuration) GetBool(key string, fallback bool) bool {
	value, ok := c[key]
	if !ok {
		return fallback
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func (c Configuration) GetDuration(key string, fallback time.Duration) time.Duration {
	value, ok := c[key]
	if !ok {
		return fallback
	}
	switch v := value.(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case float64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	}
	return fallback
}

// GetStrings reads a list stored as a slice or as a comma separated string.
func (c Configuration) GetStrings(key string) []string {
	value, ok := c[key]
	if !ok || value == nil {
		return nil
	}
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		for idx := range parts {
			parts[idx] = strings.TrimSpace(parts[idx])
		}
		return parts
	}
	return nil
}

func (c Configuration) GetUint64s(key string) []uint64 {
	value, ok := c[key]
	if !ok || value == nil {
		return nil
	}
	switch v := value.(type) {
	case []uint64:
		return append([]uint64(nil), v...)
	case []interface{}:
		out := make([]uint64, 0, len(v))
		for _, item := range v {
			out = append(out, Configuration{"v": item}.GetUint64("v", 0))
		}
		return out
	}
	var out []uint64
	for _, s := range c.GetStrings(key) {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}
