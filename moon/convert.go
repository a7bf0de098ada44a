package moon

import (
	"context"
	"fmt"
	"math"
	"reflect"
)

// convertValue adapts a dynamic value to the Go type t. Numbers convert
// across kinds when no precision is lost, Exporters are exported, slices and
// maps convert element-wise, and callables convert to func types.
func convertValue(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("moon: cannot use nil as %s", t)
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if e, ok := v.(Exporter); ok {
		return convertValue(e.Export(), t)
	}

	switch {
	case isNumberKind(rv.Kind()) && isNumberKind(t.Kind()):
		return convertNumber(rv, t)
	case rv.Kind() == t.Kind() && rv.Type().ConvertibleTo(t) && t.Kind() != reflect.Slice && t.Kind() != reflect.Map:
		return rv.Convert(t), nil
	case rv.Kind() == reflect.String && t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8:
		return rv.Convert(t), nil
	case t.Kind() == reflect.Slice && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array):
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := convertValue(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(elem)
		}
		return out, nil
	case t.Kind() == reflect.Map && rv.Kind() == reflect.Map:
		out := reflect.MakeMapWithSize(t, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, err := convertValue(iter.Key().Interface(), t.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			elem, err := convertValue(iter.Value().Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(key, elem)
		}
		return out, nil
	case t.Kind() == reflect.Func:
		if c, ok := AsCallable(v); ok {
			return makeFunc(t, func(ctx context.Context, args []any) (any, error) {
				res, err := c.Call(ctx, args)
				return res, unwrapCall(err)
			}), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("moon: cannot use %T as %s", v, t)
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func convertNumber(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		var f float64
		switch {
		case rv.CanInt():
			f = float64(rv.Int())
		case rv.CanUint():
			f = float64(rv.Uint())
		default:
			f = rv.Float()
		}
		if out.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("moon: %v overflows %s", f, t)
		}
		out.SetFloat(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var i int64
		switch {
		case rv.CanInt():
			i = rv.Int()
		case rv.CanUint():
			u := rv.Uint()
			if u > math.MaxInt64 {
				return reflect.Value{}, fmt.Errorf("moon: %d overflows %s", u, t)
			}
			i = int64(u)
		default:
			f := rv.Float()
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return reflect.Value{}, fmt.Errorf("moon: %v is not a valid %s", f, t)
			}
			i = int64(f)
		}
		if out.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("moon: %d overflows %s", i, t)
		}
		out.SetInt(i)
	default:
		var u uint64
		switch {
		case rv.CanInt():
			i := rv.Int()
			if i < 0 {
				return reflect.Value{}, fmt.Errorf("moon: %d is not a valid %s", i, t)
			}
			u = uint64(i)
		case rv.CanUint():
			u = rv.Uint()
		default:
			f := rv.Float()
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
				return reflect.Value{}, fmt.Errorf("moon: %v is not a valid %s", f, t)
			}
			u = uint64(f)
		}
		if out.OverflowUint(u) {
			return reflect.Value{}, fmt.Errorf("moon: %d overflows %s", u, t)
		}
		out.SetUint(u)
	}
	return out, nil
}

// Convert adapts v to the Go type of target and stores it there. target must
// be a non-nil pointer.
func Convert(v any, target any) error {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() {
		return fmt.Errorf("moon: convert target must be a non-nil pointer, got %T", target)
	}
	out, err := convertValue(v, ptr.Type().Elem())
	if err != nil {
		return err
	}
	ptr.Elem().Set(out)
	return nil
}
