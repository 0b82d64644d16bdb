// Package detail implements ContainerDetailEngine (spec §4.4): searching and
// expanding a single row on the listing page, then reading either its
// pregate-status timeline or its booking number from the expanded card.
package detail

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/mohamed-ali0/truckportal-bridge/internal/config"
	"github.com/mohamed-ali0/truckportal-bridge/internal/humanize"
	"github.com/mohamed-ali0/truckportal-bridge/internal/listing"
	"github.com/mohamed-ali0/truckportal-bridge/internal/selectors"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// Engine drives the two detail-page operations against an already-found row.
type Engine struct {
	cfg     *config.Config
	sel     func() *selectors.Selectors
	listing *listing.Engine
}

// New builds an Engine. listingEngine is reused for row search so the
// fast-path/scroll-and-check logic lives in exactly one place.
func New(cfg *config.Config, sel func() *selectors.Selectors, listingEngine *listing.Engine) *Engine {
	return &Engine{cfg: cfg, sel: sel, listing: listingEngine}
}

// SearchAndExpand locates containerID via ListingEngine.SearchRow, clicks it
// to expand its detail card, and returns the expanded row handle. The click
// goes through the humanized mouse first; a plain element click is the
// fallback when the row's shape can't be resolved for a coordinate click.
func (e *Engine) SearchAndExpand(ctx context.Context, page *rod.Page, containerID string) (*rod.Element, error) {
	row, err := e.listing.SearchRow(ctx, page, containerID)
	if err != nil {
		return nil, err
	}
	if err := humanize.NewMouse(page).ClickElement(ctx, row); err != nil {
		if err := row.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return nil, fmt.Errorf("%w: clicking row to expand: %v", types.ErrClickIntercepted, err)
		}
	}
	// Let the detail card's expand animation/render settle before reading it.
	time.Sleep(300 * time.Millisecond)
	return row, nil
}

// CheckPregate reads the pregate milestone's completion class off the
// expanded row and walks the timeline widget in reverse chronological order.
func (e *Engine) CheckPregate(ctx context.Context, row *rod.Element) (bool, []types.TimelineEntry, error) {
	sel := e.sel()

	badge, err := row.Context(ctx).Timeout(5 * time.Second).Element(sel.PregateBadgeSelector)
	if err != nil {
		return false, nil, fmt.Errorf("%w: pregate badge not present", types.ErrPregateUnknown)
	}
	class, err := badge.Attribute("class")
	if err != nil || class == nil {
		return false, nil, fmt.Errorf("%w: could not read pregate badge class", types.ErrPregateUnknown)
	}
	passed := strings.Contains(*class, sel.DetailPregateCompletedClass)

	timeline, err := e.buildTimeline(ctx, row, sel)
	if err != nil {
		return passed, nil, err
	}
	return passed, timeline, nil
}

// buildTimeline walks the timeline widget's entries, which render newest
// first, into the ordered []TimelineEntry the response wire shape expects.
func (e *Engine) buildTimeline(ctx context.Context, row *rod.Element, sel *selectors.Selectors) ([]types.TimelineEntry, error) {
	entries, err := row.Context(ctx).Timeout(5 * time.Second).Elements(sel.TimelineRowSelector)
	if err != nil {
		return nil, fmt.Errorf("%w: timeline widget not present", types.ErrPregateUnknown)
	}

	out := make([]types.TimelineEntry, 0, len(entries))
	for _, entry := range entries {
		milestone := elementText(entry, ".milestone-name")
		date := elementText(entry, ".milestone-date")
		if date == "" {
			date = "N/A"
		}
		status := "pending"
		if class, err := entry.Attribute("class"); err == nil && class != nil && strings.Contains(*class, sel.DetailPregateCompletedClass) {
			status = "completed"
		}
		out = append(out, types.TimelineEntry{Milestone: milestone, Date: date, Status: status})
	}
	return out, nil
}

func elementText(parent *rod.Element, childSelector string) string {
	child, err := parent.Element(childSelector)
	if err != nil {
		return ""
	}
	text, err := child.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// GetBooking locates the label "Booking #" within the expanded row and
// reads the adjacent value cell. Absent or "N/A" is a non-error nil result
// (spec §4.4, §8 round-trip property — not CONTAINER_NOT_FOUND).
func (e *Engine) GetBooking(ctx context.Context, row *rod.Element) (*string, error) {
	label := e.sel().DetailBookingLabelText
	js := fmt.Sprintf(`() => {
		const all = this.querySelectorAll('*');
		for (const node of all) {
			const own = Array.from(node.childNodes)
				.filter(n => n.nodeType === Node.TEXT_NODE)
				.map(n => n.textContent.trim())
				.join('');
			if (own.includes(%q)) {
				const valueEl = node.nextElementSibling;
				if (valueEl) return valueEl.textContent.trim();
				return '';
			}
		}
		return '';
	}`, label)
	result, err := row.Context(ctx).Timeout(3 * time.Second).Eval(js)
	if err != nil {
		return nil, nil
	}
	text := strings.TrimSpace(result.Value.Str())
	if text == "" || strings.EqualFold(text, "N/A") {
		return nil, nil
	}
	return &text, nil
}

// BulkItem is one entry of a Bulk request, tagged by its container type so
// the caller's import/export partition survives the batch.
type BulkItem struct {
	ContainerID string
	IsImport    bool
}

// BulkResult is one entry of Bulk's output, collapse-tolerant: Err is set
// per-item and never aborts the remaining batch (spec §4.4 Bulk variant).
type BulkResult struct {
	ContainerID   string
	IsImport      bool
	PassedPregate *bool
	BookingNumber *string
	Err           error
}

// bulkPacingDelay is the short delay between entries so the batch doesn't
// hammer the portal (spec §4.4: "short pacing delay (~500 ms)").
const bulkPacingDelay = 500 * time.Millisecond

// Bulk runs CheckPregate+GetBooking across every item sequentially on the
// same session, pacing between entries, never aborting on a single failure.
func (e *Engine) Bulk(ctx context.Context, page *rod.Page, items []BulkItem) []BulkResult {
	out := make([]BulkResult, 0, len(items))
	for i, item := range items {
		res := BulkResult{ContainerID: item.ContainerID, IsImport: item.IsImport}

		row, err := e.SearchAndExpand(ctx, page, item.ContainerID)
		if err != nil {
			res.Err = err
			out = append(out, res)
			continue
		}

		passed, _, err := e.CheckPregate(ctx, row)
		if err != nil {
			res.Err = err
		} else {
			res.PassedPregate = &passed
		}

		if booking, err := e.GetBooking(ctx, row); err == nil {
			res.BookingNumber = booking
		}

		out = append(out, res)

		if i < len(items)-1 {
			humanize.SleepWithJitter(ctx, bulkPacingDelay, 0.2)
		}
	}
	return out
}

// DetectionMethod names how CheckPregate derived its answer, surfaced on the
// wire as GetContainerTimelineResponse.DetectionMethod.
func (e *Engine) DetectionMethod() string {
	return "dom_class:" + strconv.Quote(e.sel().DetailPregateCompletedClass)
}
