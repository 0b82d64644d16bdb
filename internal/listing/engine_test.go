package listing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

func TestWaitForDownloadReturnsStableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.xlsx")
	if err := os.WriteFile(path, []byte("stable contents"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := waitForDownload(context.Background(), dir, 3*time.Second)
	if err != nil {
		t.Fatalf("waitForDownload: %v", err)
	}
	if got != path {
		t.Fatalf("waitForDownload() = %q, want %q", got, path)
	}
}

func TestWaitForDownloadIgnoresInProgressCrdownload(t *testing.T) {
	dir := t.TempDir()
	partial := filepath.Join(dir, "export.xlsx.crdownload")
	if err := os.WriteFile(partial, []byte("partial"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := waitForDownload(context.Background(), dir, 300*time.Millisecond)
	if !errors.Is(err, types.ErrDownloadTimeout) {
		t.Fatalf("waitForDownload error = %v, want ErrDownloadTimeout while only a .crdownload file exists", err)
	}
}

func TestWaitForDownloadIgnoresEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.xlsx")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := waitForDownload(context.Background(), dir, 300*time.Millisecond)
	if !errors.Is(err, types.ErrDownloadTimeout) {
		t.Fatalf("waitForDownload error = %v, want ErrDownloadTimeout for a zero-byte file", err)
	}
}

func TestWaitForDownloadTimesOutOnEmptyDir(t *testing.T) {
	dir := t.TempDir()
	_, err := waitForDownload(context.Background(), dir, 300*time.Millisecond)
	if !errors.Is(err, types.ErrDownloadTimeout) {
		t.Fatalf("waitForDownload error = %v, want ErrDownloadTimeout", err)
	}
}

func TestWaitForDownloadRespectsCanceledContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := waitForDownload(ctx, dir, time.Second)
	if !errors.Is(err, types.ErrDownloadTimeout) {
		t.Fatalf("waitForDownload error = %v, want ErrDownloadTimeout on canceled context", err)
	}
}

// The scroll script must declare no parameters: Element.Eval binds the
// container as `this` and passes no arguments, so a declared parameter
// would shadow the element with undefined and the property-scroll branch
// would throw on every cycle.
func TestScrollEventScriptBindsContainerAsThis(t *testing.T) {
	js := scrollEventScript(300)

	if !strings.HasPrefix(strings.TrimSpace(js), "() =>") {
		t.Fatalf("script = %q, want a zero-parameter arrow function", js)
	}
	if !strings.Contains(js, "this.scrollTop += 300") {
		t.Fatalf("script = %q, must advance this.scrollTop by the increment", js)
	}
	for _, event := range []string{"new Event('scroll'", "new WheelEvent('wheel'"} {
		if !strings.Contains(js, event) {
			t.Fatalf("script = %q, must dispatch %s...)", js, event)
		}
	}
	if !strings.Contains(js, "deltaY: 300") {
		t.Fatalf("script = %q, wheel event must carry the scroll delta", js)
	}
}
