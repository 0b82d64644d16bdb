package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// CapturePage writes a PNG screenshot of the page's current viewport into
// dir, named {YYYYMMDD_HHMMSS}_{microseconds}_{tag}.png, and returns the
// bare filename so callers can hand it to the artifact file server.
func CapturePage(page *rod.Page, dir, tag string) (string, error) {
	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", fmt.Errorf("capturing screenshot: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	now := time.Now()
	name := fmt.Sprintf("%s_%06d_%s.png", now.Format("20060102_150405"), now.Nanosecond()/1000, tag)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("writing screenshot: %w", err)
	}
	return name, nil
}
