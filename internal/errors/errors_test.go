package errors

import (
	"fmt"
	"testing"
)

func TestBuildDefaults(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("test error")
	ee := New(err).Build()

	if ee.Err.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Err.Error())
	}

	if ee.GetComponent() != "unknown" {
		t.Errorf("Expected component 'unknown' by default, got '%s'", ee.GetComponent())
	}

	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic' by default, got '%s'", ee.Category)
	}
}

func TestBuilderFields(t *testing.T) {
	t.Parallel()

	ee := Newf("write of %d frames rejected", 256).
		Component("ringbuf").
		Category(CategoryRingBuffer).
		Priority(PriorityHigh).
		Context("frames", 256).
		Build()

	if ee.GetComponent() != "ringbuf" {
		t.Errorf("Expected component 'ringbuf', got '%s'", ee.GetComponent())
	}
	if ee.Category != CategoryRingBuffer {
		t.Errorf("Expected ring-buffer category, got '%s'", ee.Category)
	}
	if ee.GetPriority() != PriorityHigh {
		t.Errorf("Expected high priority, got '%s'", ee.GetPriority())
	}
	if ee.GetContext()["frames"] != 256 {
		t.Errorf("Expected frames context value 256, got %v", ee.GetContext()["frames"])
	}
}

func TestInvalidPriorityFallsBackToMedium(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("boom")).Priority("urgent-ish").Build()
	if ee.GetPriority() != PriorityMedium {
		t.Errorf("Expected medium priority fallback, got '%s'", ee.GetPriority())
	}
}

func TestIsMatchesByCategory(t *testing.T) {
	t.Parallel()

	a := New(fmt.Errorf("a")).Category(CategoryValidation).Build()
	b := New(fmt.Errorf("b")).Category(CategoryValidation).Build()

	if !Is(a, b) {
		t.Error("Expected errors of the same category to match with Is")
	}
}

func TestUnwrapPreservesSentinel(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("sentinel")
	ee := New(fmt.Errorf("wrapped: %w", sentinel)).Build()

	if !Is(ee, sentinel) {
		t.Error("Expected wrapped sentinel to be found through EnhancedError")
	}
}
