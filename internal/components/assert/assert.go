// Package assert holds constructor preconditions. A failed assertion is a
// wiring bug, so it panics instead of returning an error.
package assert

import (
	"fmt"
	"reflect"
)

// NotNil panics on nil, including a nil pointer, map, slice or func stored
// in a non-nil interface.
func NotNil(value any) {
	if value == nil {
		panic("expected value to be not nil")
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if v.IsNil() {
			panic(fmt.Sprintf("expected value to be not nil, got nil %s", v.Type()))
		}
	}
}

func NotEmptyStr(str string) {
	if str == "" {
		panic("expected string to be non-empty")
	}
}

// Positive panics when n is zero or negative.
func Positive[T ~int | ~int64 | ~float64](n T) {
	if n <= 0 {
		panic(fmt.Sprintf("expected a positive value, got %v", n))
	}
}
