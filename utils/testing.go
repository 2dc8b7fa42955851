package utils

import (
	"errors"
	"testing"
)

// Test helper
func Assert(t testing.TB, predicate bool, msg string) {
	t.Helper()
	if !predicate {
		t.Error(msg)
	}
}

func AssertEqual[T comparable](t testing.TB, a T, b T) {
	t.Helper()
	if a != b {
		t.Errorf("Expected %v == %v (%T)", a, b, a)
	}
}

func AssertNotEqual[T comparable](t testing.TB, a T, b T) {
	t.Helper()
	if a == b {
		t.Errorf("Expected %v != %v (%T)", a, b, a)
	}
}

// Assert that error is nil
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Expected no error, got '%v'", err)
	}
}

// Assert that an error is not nil
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}

// Assert that err matches target in the sense of errors.Is
func AssertErrorIs(t testing.TB, err error, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("Expected error matching '%v', got '%v'", target, err)
	}
}

// Assert that err can be assigned to target in the sense of errors.As, and
// return it.
func AssertErrorAs[E error](t testing.TB, err error) E {
	t.Helper()
	var target E
	if !errors.As(err, &target) {
		t.Fatalf("Expected error of type %T, got '%v'", target, err)
	}
	return target
}

func CompareArrays[T comparable](a []T, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func AssertEqualArrays[T comparable](t testing.TB, a []T, b []T) {
	t.Helper()
	if !CompareArrays(a, b) {
		t.Errorf("Expected %v == %v (%T)", a, b, a)
	}
}
