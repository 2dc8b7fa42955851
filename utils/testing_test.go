package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestTesting_CompareArrays(t *testing.T) {
	Assert(t, CompareArrays([]int{1, 2, 3}, []int{1, 2, 3}), "Arrays are not equal")
	Assert(t, !CompareArrays([]int{1, 2, 3}, []int{3, 2, 1}), "Arrays are equal")
}

func TestTesting_CompareArrays_DifferentLengths(t *testing.T) {
	Assert(t, !CompareArrays([]int{1, 2, 3}, []int{1, 2}), "Arrays are equal")
	Assert(t, CompareArrays([]int{}, nil), "Empty arrays are not equal")
}

type codeError struct{ code int }

func (e *codeError) Error() string { return fmt.Sprintf("code %d", e.code) }

func TestTesting_AssertErrorAs(t *testing.T) {
	base := &codeError{code: 3}
	err := fmt.Errorf("wrapped: %w", base)
	got := AssertErrorAs[*codeError](t, err)
	AssertEqual(t, got.code, 3)
	AssertErrorIs(t, err, base)
	Assert(t, !errors.Is(err, errors.New("code 3")), "Distinct errors match")
}
