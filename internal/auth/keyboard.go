package auth

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/mohamed-ali0/truckportal-bridge/internal/humanize"
)

// typingJitterMinMs and typingJitterMaxMs bound the per-keystroke delay.
const (
	typingJitterMinMs = 50
	typingJitterMaxMs = 250
)

// typeHumanLike clicks the element to focus it, then types one rune at a
// time with a random 50-250ms gap between keystrokes, so the portal's
// anti-bot input-cadence heuristics see organic typing rather than a single
// synthetic paste event.
func typeHumanLike(ctx context.Context, el *rod.Element, text string) error {
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	for _, r := range text {
		if err := el.Input(string(r)); err != nil {
			return err
		}
		humanize.SleepWithContext(ctx, humanize.RandomDuration(typingJitterMinMs, typingJitterMaxMs))
	}
	return nil
}
