package nexsync

import (
	"reflect"
	"testing"
)

func TestEqualityRegistryDeepEqualFallback(t *testing.T) {
	r := NewEqualityRegistry(0)

	if !r.Equals(5, 5) {
		t.Error("Equals(5, 5) = false, want true")
	}
	if r.Equals(5, 6) {
		t.Error("Equals(5, 6) = true, want false")
	}
	if !r.Equals(nil, nil) {
		t.Error("Equals(nil, nil) = false, want true")
	}
	if r.Equals(nil, 0) {
		t.Error("Equals(nil, 0) = true, want false")
	}
}

func TestEqualityRegistryRegisteredComparator(t *testing.T) {
	r := NewEqualityRegistry(0)
	intType := reflect.TypeOf(0)
	calls := 0
	r.Register(intType, intType, func(a, b any, tolerance float64) bool {
		calls++
		return a.(int)%10 == b.(int)%10
	})

	if !r.Equals(12, 22) {
		t.Error("Equals(12, 22) = false, want true under mod-10 comparator")
	}
	if calls == 0 {
		t.Error("registered comparator was never invoked")
	}
}

func TestEqualityRegistryUnregister(t *testing.T) {
	r := NewEqualityRegistry(0)
	intType := reflect.TypeOf(0)
	r.Register(intType, intType, func(a, b any, tolerance float64) bool { return true })
	r.Unregister(intType, intType)

	if r.Equals(1, 2) {
		t.Error("Equals(1, 2) = true after Unregister, want fallback DeepEqual behavior (false)")
	}
}

func TestRegisterFloatTolerance(t *testing.T) {
	r := NewEqualityRegistry(0.01)
	RegisterFloatTolerance(r)

	if !r.Equals(1.0, 1.005) {
		t.Error("Equals(1.0, 1.005) = false, want true within tolerance 0.01")
	}
	if r.Equals(1.0, 1.1) {
		t.Error("Equals(1.0, 1.1) = true, want false outside tolerance 0.01")
	}
}
