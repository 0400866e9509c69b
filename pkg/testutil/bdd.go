package testutil

import "testing"

// Given, When and Then name nested subtests after the step they describe, so
// scenario output reads as a story.
func Given(t *testing.T, step string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+step, fn)
}

func When(t *testing.T, step string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+step, fn)
}

func Then(t *testing.T, step string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+step, fn)
}
