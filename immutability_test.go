package nexsync

import (
	"reflect"
	"testing"
)

func TestImmutabilityRegistryDefaultsToMutable(t *testing.T) {
	r := NewImmutabilityRegistry()
	if r.IsImmutable(42) {
		t.Error("IsImmutable(42) = true with no registered predicate, want false")
	}
	if !r.IsImmutable(nil) {
		t.Error("IsImmutable(nil) = false, want true")
	}
}

func TestImmutabilityRegistryRegisteredPredicate(t *testing.T) {
	r := NewImmutabilityRegistry()
	r.Register(reflect.TypeOf(""), func(v any) bool { return true })

	if !r.IsImmutable("x") {
		t.Error("IsImmutable(string) = false, want true after registering a predicate returning true")
	}

	r.Unregister(reflect.TypeOf(""))
	if r.IsImmutable("x") {
		t.Error("IsImmutable(string) = true after Unregister, want false (fallback to mutable)")
	}
}
