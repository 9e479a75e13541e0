package traversal

import (
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"

	"graphcomputer/graph"
)

// Equaler lets values define their own equality for traverser merging.
type Equaler interface {
	Equal(other interface{}) bool
}

// ValuesEqual compares traverser values. Graph elements compare by identity
// so a vertex equals its detached reference.
func ValuesEqual(a, b interface{}) bool {
	if same, ok := graph.SameElement(a, b); ok {
		return same
	}
	if pa, ok := a.(Path); ok {
		pb, ok := b.(Path)
		return ok && pa.Equal(pb)
	}
	if ea, ok := a.(Equaler); ok {
		return ea.Equal(b)
	}
	return reflect.DeepEqual(a, b)
}

// hashValue feeds a stable representation of value into the digest. It must
// agree with ValuesEqual: equal values hash equally.
func hashValue(d *xxhash.Digest, value interface{}) {
	switch v := value.(type) {
	case graph.Element:
		fmt.Fprintf(d, "%v|", v.Key())
	case Path:
		fmt.Fprintf(d, "path:%d|", v.Size())
		for _, o := range v.Objects() {
			hashValue(d, o)
		}
	case Equaler:
		// custom equality may not follow the printed form
		fmt.Fprintf(d, "%T|", v)
	default:
		fmt.Fprintf(d, "%T:", v)
		hashStructure(d, reflect.ValueOf(v), 0)
	}
}

// maxHashDepth bounds the walk through cyclic values.
const maxHashDepth = 16

// hashStructure follows reflect.DeepEqual: pointers are followed, not
// printed, and map entries hash independently of iteration order.
func hashStructure(d *xxhash.Digest, v reflect.Value, depth int) {
	if !v.IsValid() {
		d.WriteString("nil|")
		return
	}
	if depth > maxHashDepth {
		fmt.Fprintf(d, "%s|", v.Type())
		return
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			d.WriteString("nil|")
			return
		}
		d.WriteString("*")
		hashStructure(d, v.Elem(), depth+1)
	case reflect.Map:
		var sum uint64
		iter := v.MapRange()
		for iter.Next() {
			entry := xxhash.New()
			hashStructure(entry, iter.Key(), depth+1)
			hashStructure(entry, iter.Value(), depth+1)
			sum += entry.Sum64()
		}
		fmt.Fprintf(d, "map%d:%d|", v.Len(), sum)
	case reflect.Slice, reflect.Array:
		fmt.Fprintf(d, "[%d|", v.Len())
		for i := 0; i < v.Len(); i++ {
			hashStructure(d, v.Index(i), depth+1)
		}
	case reflect.Struct:
		fmt.Fprintf(d, "%s{|", v.Type())
		for i := 0; i < v.NumField(); i++ {
			hashStructure(d, v.Field(i), depth+1)
		}
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f == 0 {
			// -0 equals 0
			f = 0
		}
		fmt.Fprintf(d, "%v|", f)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		fmt.Fprintf(d, "%s|", v.Type())
	default:
		fmt.Fprintf(d, "%v|", v)
	}
}
