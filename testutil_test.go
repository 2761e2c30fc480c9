package tinybase

import (
	"reflect"
	"testing"
)

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func openTestStore(t testing.TB) *Store {
	t.Helper()
	s := must(Open("", Options{}))
	t.Cleanup(func() { s.Close() })
	return s
}
