// Package listing implements the scroll-and-extract algorithm that drives
// the portal's virtualized container listing: three stop modes (exhaust the
// feed, reach a target count, or find one row by ID), a pre-scroll fast
// path, and an export-to-spreadsheet flow with its checkbox fallback chain.
package listing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/config"
	"github.com/mohamed-ali0/truckportal-bridge/internal/humanize"
	"github.com/mohamed-ali0/truckportal-bridge/internal/selectors"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// Mode selects the stop condition for the scroll loop.
type Mode int

const (
	ModeExhaust Mode = iota
	ModeCount
	ModeTargetID
)

// noProgressLimit is N in the exhaust-mode stop condition (spec §4.3).
const noProgressLimit = 6

// scrollIncrementPx is the fixed per-cycle scroll distance.
const scrollIncrementPx = 300

// maxRowCheckboxFallback bounds the individual-row-checkbox fallback.
const maxRowCheckboxFallback = 40

// Result is the outcome of Run, mirroring the GetContainers response shape
// minus the fields RequestRouter fills in (session_id, is_new_session).
type Result struct {
	Count         int
	ScrollCycles  int
	StopReason    string
	FastPath      bool
	FoundTarget   string
	ArtifactPath  string
}

// Engine holds the pieces shared across scroll/export calls. sel is a
// function, not a value, so a hot-reloaded selector set is always current.
type Engine struct {
	cfg *config.Config
	sel func() *selectors.Selectors
}

// New builds an Engine.
func New(cfg *config.Config, sel func() *selectors.Selectors) *Engine {
	return &Engine{cfg: cfg, sel: sel}
}

// Run scrolls the listing page to satisfy mode, then always drives the
// export-to-spreadsheet action since every get_containers response carries
// a file URL (spec §6).
func (e *Engine) Run(ctx context.Context, page *rod.Page, downloadDir string, mode Mode, targetCount int, targetContainerID string) (*Result, error) {
	sel := e.sel()
	pattern, err := regexp.Compile(sel.ContainerIDPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling container id pattern: %w", err)
	}

	container, err := e.resolveScrollContainer(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNavTimeout, err)
	}

	res := &Result{}

	if mode == ModeTargetID {
		if found, err := e.fastPathFind(ctx, page, targetContainerID); err == nil && found {
			res.FastPath = true
			res.FoundTarget = targetContainerID
			res.StopReason = "fast_path"
			if err := e.export(ctx, page, downloadDir, res); err != nil {
				return nil, err
			}
			return res, nil
		}
	}

	noProgress := 0
	lastCount := 0
	cycle := 0

	for {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: context canceled during scroll", types.ErrNavTimeout)
		}

		count, err := e.countRows(ctx, page, pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrNavTimeout, err)
		}
		res.Count = count

		switch mode {
		case ModeCount:
			if count >= targetCount {
				res.StopReason = "target_count_reached"
				res.ScrollCycles = cycle
				if err := e.export(ctx, page, downloadDir, res); err != nil {
					return nil, err
				}
				return res, nil
			}
		case ModeTargetID:
			if found, _ := e.fastPathFind(ctx, page, targetContainerID); found {
				res.FoundTarget = targetContainerID
				res.StopReason = "target_found"
				res.ScrollCycles = cycle
				if err := e.export(ctx, page, downloadDir, res); err != nil {
					return nil, err
				}
				return res, nil
			}
		}

		if count > lastCount {
			noProgress = 0
		} else {
			noProgress++
		}
		lastCount = count

		if mode == ModeExhaust && noProgress >= noProgressLimit {
			res.StopReason = "exhausted"
			res.ScrollCycles = cycle
			if err := e.export(ctx, page, downloadDir, res); err != nil {
				return nil, err
			}
			return res, nil
		}
		if mode != ModeExhaust && noProgress >= noProgressLimit {
			res.StopReason = "no_progress"
			res.ScrollCycles = cycle
			if err := e.export(ctx, page, downloadDir, res); err != nil {
				return nil, err
			}
			return res, nil
		}

		if err := e.scrollOnce(ctx, container); err != nil {
			log.Warn().Err(err).Msg("scroll cycle failed, retrying via keyboard fallback")
		}
		cycle++
	}
}

// SearchRow locates a row by ID for the detail engine's SearchAndExpand
// (spec §4.4): try the fast path first, then fall back to the same
// scroll-and-check loop Run uses for ModeTargetID, returning the row
// element itself rather than just a found/not-found result.
func (e *Engine) SearchRow(ctx context.Context, page *rod.Page, containerID string) (*rod.Element, error) {
	if found, _ := e.fastPathFind(ctx, page, containerID); found {
		return e.findRowContaining(ctx, page, containerID)
	}

	container, err := e.resolveScrollContainer(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNavTimeout, err)
	}

	noProgress := 0
	lastCount := 0
	sel := e.sel()
	pattern, err := regexp.Compile(sel.ContainerIDPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling container id pattern: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: context canceled during scroll", types.ErrNavTimeout)
		}
		if row, err := e.findRowContaining(ctx, page, containerID); err == nil {
			return row, nil
		}

		count, err := e.countRows(ctx, page, pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrNavTimeout, err)
		}
		if count > lastCount {
			noProgress = 0
		} else {
			noProgress++
		}
		lastCount = count
		if noProgress >= noProgressLimit {
			return nil, types.ErrContainerNotFound
		}

		if err := e.scrollOnce(ctx, container); err != nil {
			log.Warn().Err(err).Msg("scroll cycle failed during row search, retrying via keyboard fallback")
		}
	}
}

// resolveScrollContainer tries the prioritized selector list, returning the
// first one present, falling back to the page's own scrolling element.
func (e *Engine) resolveScrollContainer(ctx context.Context, page *rod.Page) (*rod.Element, error) {
	sel := e.sel()
	for _, candidate := range sel.ListingScrollContainers {
		el, err := page.Context(ctx).Timeout(2 * time.Second).Element(candidate)
		if err == nil && el != nil {
			return el, nil
		}
	}
	return page.Context(ctx).Timeout(2 * time.Second).Element(sel.ListingResultsContainer)
}

// fastPathFind does a substring match across the results container's
// rendered text; if the target is present and visible, it scrolls it into
// the viewport's center.
func (e *Engine) fastPathFind(ctx context.Context, page *rod.Page, targetID string) (bool, error) {
	if targetID == "" {
		return false, nil
	}
	sel := e.sel()
	js := fmt.Sprintf(`() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		return el.innerText.includes(%s);
	}`, strconv.Quote(sel.ListingResultsContainer), strconv.Quote(targetID))

	result, err := page.Context(ctx).Eval(js)
	if err != nil || !result.Value.Bool() {
		return false, nil
	}

	rowEl, err := e.findRowContaining(ctx, page, targetID)
	if err != nil || rowEl == nil {
		return false, nil
	}
	visible, _ := rowEl.Visible()
	if !visible {
		return false, nil
	}
	if err := rowEl.ScrollIntoView(); err != nil {
		return false, nil
	}
	return true, nil
}

// findRowContaining locates the row element whose text contains targetID,
// used both by the fast path and (via SearchAndExpand in internal/detail)
// to click-to-expand the matched row.
func (e *Engine) findRowContaining(ctx context.Context, page *rod.Page, targetID string) (*rod.Element, error) {
	sel := e.sel()
	rows, err := page.Context(ctx).Timeout(5 * time.Second).Elements(sel.ListingRowSelector)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		text, err := row.Text()
		if err != nil {
			continue
		}
		if strings.Contains(text, targetID) {
			return row, nil
		}
	}
	return nil, types.ErrContainerNotFound
}

// countRows extracts the results container's visible text, splits it to
// lines, and counts lines matching the row-identifier regex. Deliberately
// text-based, not a DOM element count, because the DOM count includes
// header and placeholder rows and drifts (spec §4.3 step 3a).
func (e *Engine) countRows(ctx context.Context, page *rod.Page, pattern *regexp.Regexp) (int, error) {
	sel := e.sel()
	js := fmt.Sprintf(`() => {
		const el = document.querySelector(%s);
		return el ? el.innerText : "";
	}`, strconv.Quote(sel.ListingResultsContainer))

	result, err := page.Context(ctx).Eval(js)
	if err != nil {
		return 0, err
	}

	text := result.Value.Str()
	count := 0
	for _, line := range strings.Split(text, "\n") {
		if pattern.MatchString(line) {
			count++
		}
	}
	return count, nil
}

// scrollEventScript builds the zero-argument script scrollOnce runs against
// the container element. It must take no parameters: Element.Eval binds the
// element as `this`, and any declared parameter would shadow that with
// undefined since no arguments are passed.
func scrollEventScript(px int) string {
	return fmt.Sprintf(`() => {
		this.scrollTop += %d;
		this.dispatchEvent(new Event('scroll', {bubbles: true}));
		this.dispatchEvent(new WheelEvent('wheel', {deltaY: %d, bubbles: true}));
	}`, px, px)
}

// scrollOnce advances the container by scrollIncrementPx, dispatching
// synthetic scroll and wheel events because some virtual-list libraries
// only react to the events, not the property change. If the property
// scroll fails it falls back to a smooth page-level scroll, then to
// DOWN/PAGE_DOWN keystrokes.
func (e *Engine) scrollOnce(ctx context.Context, container *rod.Element) error {
	_, err := container.Eval(scrollEventScript(scrollIncrementPx))
	if err == nil {
		time.Sleep(e.cfg.ScrollIdle)
		return nil
	}

	log.Debug().Err(err).Msg("property scroll failed, falling back to page scroll")
	if scErr := humanize.NewScroller(container.Page()).ScrollBy(ctx, scrollIncrementPx); scErr == nil {
		time.Sleep(e.cfg.ScrollIdle)
		return nil
	}

	keyboard := container.Page().Keyboard
	if kbErr := keyboard.Press(input.ArrowDown); kbErr != nil {
		if kbErr2 := keyboard.Press(input.PageDown); kbErr2 != nil {
			return kbErr2
		}
	}
	time.Sleep(e.cfg.ScrollIdle)
	return nil
}

// export drives the "export to spreadsheet" action: select all rows via the
// master checkbox (four-method fallback chain), fall back to individual row
// checkboxes, trigger the export, and wait for the download to land.
func (e *Engine) export(ctx context.Context, page *rod.Page, downloadDir string, res *Result) error {
	sel := e.sel()

	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return err
	}
	if err := (proto.BrowserSetDownloadBehavior{
		Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath: downloadDir,
	}).Call(page); err != nil {
		log.Warn().Err(err).Msg("failed to set download behavior, export may prompt a save dialog")
	}

	if !e.checkMasterCheckbox(ctx, page, sel) {
		if !e.checkIndividualRows(ctx, page, sel) {
			return types.ErrExportCheckboxStuck
		}
	}

	exportBtn, err := page.Context(ctx).Timeout(e.cfg.NavTimeout).Element(sel.ListingExportButton)
	if err != nil {
		return fmt.Errorf("%w: export button not found", types.ErrExportCheckboxStuck)
	}
	if err := exportBtn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: clicking export button: %v", types.ErrExportCheckboxStuck, err)
	}

	path, err := waitForDownload(ctx, downloadDir, e.cfg.DownloadTimeout)
	if err != nil {
		return err
	}
	res.ArtifactPath = path
	return nil
}

// checkMasterCheckbox runs the documented four-method fallback chain: click
// the underlying input, click the surrounding cell, JS-click on the input,
// JS-click on the cell. The portal's material-design checkbox intercepts
// direct clicks inconsistently, so each method is tried before giving up.
func (e *Engine) checkMasterCheckbox(ctx context.Context, page *rod.Page, sel *selectors.Selectors) bool {
	if el, err := page.Context(ctx).Timeout(3 * time.Second).Element(sel.ListingMasterCheckboxInput); err == nil {
		if el.Click(proto.InputMouseButtonLeft, 1) == nil && isChecked(el) {
			return true
		}
	}
	if el, err := page.Context(ctx).Timeout(3 * time.Second).Element(sel.ListingMasterCheckboxCell); err == nil {
		if el.Click(proto.InputMouseButtonLeft, 1) == nil {
			if input, err := page.Context(ctx).Timeout(time.Second).Element(sel.ListingMasterCheckboxInput); err == nil && isChecked(input) {
				return true
			}
		}
	}
	if e.jsClick(ctx, page, sel.ListingMasterCheckboxInput) {
		if el, err := page.Context(ctx).Timeout(time.Second).Element(sel.ListingMasterCheckboxInput); err == nil && isChecked(el) {
			return true
		}
	}
	if e.jsClick(ctx, page, sel.ListingMasterCheckboxCell) {
		if el, err := page.Context(ctx).Timeout(time.Second).Element(sel.ListingMasterCheckboxInput); err == nil && isChecked(el) {
			return true
		}
	}
	return false
}

func (e *Engine) jsClick(ctx context.Context, page *rod.Page, selector string) bool {
	js := fmt.Sprintf(`() => { const el = document.querySelector(%s); if (el) { el.click(); return true; } return false; }`, strconv.Quote(selector))
	result, err := page.Context(ctx).Eval(js)
	return err == nil && result.Value.Bool()
}

func isChecked(el *rod.Element) bool {
	prop, err := el.Property("checked")
	if err != nil {
		return false
	}
	return prop.Bool()
}

// checkIndividualRows falls back to clicking up to maxRowCheckboxFallback
// row checkboxes one by one when the master checkbox never took.
func (e *Engine) checkIndividualRows(ctx context.Context, page *rod.Page, sel *selectors.Selectors) bool {
	rows, err := page.Context(ctx).Timeout(5 * time.Second).Elements(sel.ListingRowCheckbox)
	if err != nil || len(rows) == 0 {
		return false
	}
	checkedAny := false
	limit := len(rows)
	if limit > maxRowCheckboxFallback {
		limit = maxRowCheckboxFallback
	}
	for i := 0; i < limit; i++ {
		if err := rows[i].Click(proto.InputMouseButtonLeft, 1); err == nil {
			checkedAny = true
		}
	}
	return checkedAny
}

// waitForDownload polls downloadDir for a new file whose name has lost any
// .crdownload suffix and whose size is non-zero and stable.
func waitForDownload(ctx context.Context, dir string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var lastSize int64 = -1
	var candidate string

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: context canceled", types.ErrDownloadTimeout)
		}
		entries, err := os.ReadDir(dir)
		if err == nil {
			for _, entry := range entries {
				if entry.IsDir() || strings.HasSuffix(entry.Name(), ".crdownload") {
					continue
				}
				info, err := entry.Info()
				if err != nil || info.Size() == 0 {
					continue
				}
				path := filepath.Join(dir, entry.Name())
				if path == candidate && info.Size() == lastSize {
					return path, nil
				}
				candidate = path
				lastSize = info.Size()
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return "", types.ErrDownloadTimeout
}
