package errkind_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/BradleyFarquharson/Listen/internal/errkind"
)

func TestIs_MatchesKindThroughWrapping(t *testing.T) {
	t.Parallel()
	base := errkind.New(errkind.Device, "device 3 unavailable")
	wrapped := fmt.Errorf("open capture: %w", base)
	if !errkind.Is(wrapped, errkind.Device) {
		t.Error("expected Device kind through fmt.Errorf wrapping")
	}
	if errkind.Is(wrapped, errkind.Config) {
		t.Error("should not match a different kind")
	}
}

func TestWrap_UnwrapsToCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("permission denied")
	err := errkind.Wrap(errkind.Device, "open stream", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("message should include cause, got: %v", err)
	}
}

func TestIs_PlainErrorIsNoKind(t *testing.T) {
	t.Parallel()
	if errkind.Is(errors.New("plain"), errkind.Model) {
		t.Error("plain errors carry no kind")
	}
}
