// Package appointment implements AppointmentFSM (spec §4.5): the three-phase
// import/export appointment-scheduling workflow, modeled as a persisted FSM
// value keyed by appt_id rather than a coroutine — no goroutine-per-workflow
// is started, and a phase handler runs once per request, synchronously.
package appointment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/config"
	"github.com/mohamed-ali0/truckportal-bridge/internal/humanize"
	"github.com/mohamed-ali0/truckportal-bridge/internal/security"
	"github.com/mohamed-ali0/truckportal-bridge/internal/selectors"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// Phase numbers the three-phase workflow (spec §4.5 States).
const (
	Phase1 = 1
	Phase2 = 2
	Phase3 = 3
)

const defaultPin = "1111"
const defaultUnitNumber = "1"
const defaultSealValue = "1"

// wildcardTruckPlate is the sentinel that selects the first available
// autocomplete option instead of an exact match (spec GLOSSARY).
const wildcardTruckPlate = "ABC123"

// SubSession is the resumable workflow continuation token (spec §3).
type SubSession struct {
	ApptID           string
	BrowserSessionID string
	ContainerType    types.ContainerType
	CurrentPhase     int
	PhaseData        types.AppointmentPhaseFields
	CreatedAt        time.Time
	LastUsedAt       time.Time
}

func (s *SubSession) expired(ttl time.Duration) bool {
	return time.Since(s.LastUsedAt) > ttl
}

// Store owns every live AppointmentSubSession, expiring entries idle longer
// than APPT_TTL (spec §3 lifetime).
type Store struct {
	mu   sync.Mutex
	ttl  time.Duration
	byID map[string]*SubSession
}

// NewStore builds an empty Store.
func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, byID: make(map[string]*SubSession)}
}

// Get resolves an AppointmentSubSession by ID. An absent or expired entry is
// reported as ErrSessionExpired; expired entries are evicted on read.
func (st *Store) Get(apptID string) (*SubSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[apptID]
	if !ok {
		return nil, types.ErrSessionExpired
	}
	if s.expired(st.ttl) {
		delete(st.byID, apptID)
		return nil, types.ErrSessionExpired
	}
	return s, nil
}

// Put inserts or updates a SubSession, touching LastUsedAt.
func (st *Store) Put(s *SubSession) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s.LastUsedAt = time.Now()
	st.byID[s.ApptID] = s
}

// Delete discards a SubSession, e.g. once its BrowserSession disappears
// (spec §3 invariant: an unresumable sub-session must be discarded).
func (st *Store) Delete(apptID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.byID, apptID)
}

// Sweep evicts every entry idle longer than ttl, returning the count removed.
// Intended for a periodic call alongside the artifact Janitor, though the
// FSM's own Get already self-evicts lazily on access.
func (st *Store) Sweep() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, s := range st.byID {
		if s.expired(st.ttl) {
			delete(st.byID, id)
			removed++
		}
	}
	return removed
}

// Result is the outcome of a completed (non-resumed) run.
type Result struct {
	ApptID                string
	AvailableTimes        []string // import
	CalendarFound         bool     // export
	Confirmed             bool     // make_appointment only
	Details               map[string]string
	DropdownScreenshotURL string // import: the opened time dropdown
	CalendarScreenshotURL string // export: the located calendar icon
}

// ResumeError is returned whenever the FSM cannot proceed without more
// input, carrying everything the client needs to resume (spec §4.5
// Resumability, §6 wire shape).
type ResumeError struct {
	ApptID  string
	Phase   int
	Message string
	Err     error
}

func (e *ResumeError) Error() string { return e.Message }
func (e *ResumeError) Unwrap() error { return e.Err }

// FSM drives one phase at a time against a locked page, dispatching by
// ContainerType via small per-phase functions rather than an inheritance
// hierarchy (spec §9 design note).
type FSM struct {
	cfg   *config.Config
	sel   func() *selectors.Selectors
	Store *Store
}

// New builds an FSM.
func New(cfg *config.Config, sel func() *selectors.Selectors, store *Store) *FSM {
	return &FSM{cfg: cfg, sel: sel, Store: store}
}

// Request bundles what Run needs beyond the sub-session itself.
type Request struct {
	BrowserSessionID string
	ContainerType    types.ContainerType
	ApptID           string // empty => fresh sub-session
	Fields           types.AppointmentPhaseFields
	Submit           bool // true => make_appointment (never retried once Submit runs)

	// Screenshot, when set, captures the page under a tag and returns a
	// servable URL (empty on failure). The FSM shoots on validation toasts
	// and on the phase-3 dropdown/calendar reads.
	Screenshot func(tag string) string
}

// Run advances the workflow as far as the supplied fields allow, merging
// them into the sub-session's accumulated phase_data. On success it returns
// a Result; on missing/invalid input it returns a *ResumeError whose ApptID
// and Phase let the caller resupply just the missing piece.
func (f *FSM) Run(ctx context.Context, page *rod.Page, req Request) (*Result, error) {
	if req.Screenshot == nil {
		req.Screenshot = func(string) string { return "" }
	}
	sub := f.resolveSubSession(req)
	mergeFields(&sub.PhaseData, req.Fields)
	applyDefaults(&sub.PhaseData, req.ContainerType)

	if sub.CurrentPhase <= Phase1 {
		if err := f.runPhase1(ctx, page, sub, req.Screenshot); err != nil {
			f.Store.Put(sub)
			return nil, f.resumable(sub, err)
		}
		sub.CurrentPhase = Phase2
	}

	if sub.CurrentPhase <= Phase2 {
		if err := f.runPhase2(ctx, page, sub, req.Screenshot); err != nil {
			f.Store.Put(sub)
			return nil, f.resumable(sub, err)
		}
		sub.CurrentPhase = Phase3
	}

	result, err := f.runPhase3(ctx, page, sub, req.Submit, req.Screenshot)
	if err != nil {
		f.Store.Put(sub)
		return nil, f.resumable(sub, err)
	}

	if req.Submit {
		sub.CurrentPhase = Phase3 // DONE; Submit never retries automatically
	}
	f.Store.Put(sub)
	result.ApptID = sub.ApptID
	return result, nil
}

func (f *FSM) resolveSubSession(req Request) *SubSession {
	if req.ApptID != "" {
		if sub, err := f.Store.Get(req.ApptID); err == nil {
			return sub
		}
	}
	id, err := security.GenerateSessionID()
	if err != nil {
		id = fmt.Sprintf("appt-%d", time.Now().UnixNano())
	}
	return &SubSession{
		ApptID:           id,
		BrowserSessionID: req.BrowserSessionID,
		ContainerType:    req.ContainerType,
		CurrentPhase:     Phase1,
		CreatedAt:        time.Now(),
	}
}

func (f *FSM) resumable(sub *SubSession, err error) error {
	var mf *types.MissingFieldError
	if asMissingField(err, &mf) {
		return &ResumeError{ApptID: sub.ApptID, Phase: sub.CurrentPhase, Message: mf.Error(), Err: err}
	}
	return &ResumeError{ApptID: sub.ApptID, Phase: sub.CurrentPhase, Message: err.Error(), Err: err}
}

func asMissingField(err error, target **types.MissingFieldError) bool {
	mf, ok := err.(*types.MissingFieldError)
	if ok {
		*target = mf
	}
	return ok
}

// mergeFields layers newly supplied fields over the accumulated phase_data;
// empty incoming strings never clobber a previously supplied value.
func mergeFields(dst *types.AppointmentPhaseFields, src types.AppointmentPhaseFields) {
	if src.TruckingCompany != "" {
		dst.TruckingCompany = src.TruckingCompany
	}
	if src.Terminal != "" {
		dst.Terminal = src.Terminal
	}
	if src.MoveType != "" {
		dst.MoveType = src.MoveType
	}
	if src.ContainerID != "" {
		dst.ContainerID = src.ContainerID
	}
	if src.BookingNumber != "" {
		dst.BookingNumber = src.BookingNumber
	}
	if src.PinCode != "" {
		dst.PinCode = src.PinCode
	}
	if src.UnitNumber != "" {
		dst.UnitNumber = src.UnitNumber
	}
	if src.SealNumber1 != "" {
		dst.SealNumber1 = src.SealNumber1
	}
	if src.SealNumber2 != "" {
		dst.SealNumber2 = src.SealNumber2
	}
	if src.SealNumber3 != "" {
		dst.SealNumber3 = src.SealNumber3
	}
	if src.SealNumber4 != "" {
		dst.SealNumber4 = src.SealNumber4
	}
	if src.TruckPlate != "" {
		dst.TruckPlate = src.TruckPlate
	}
	if src.OwnChassis != nil {
		dst.OwnChassis = src.OwnChassis
	}
	if src.AppointmentTime != "" {
		dst.AppointmentTime = src.AppointmentTime
	}
}

// applyDefaults fills in the fields with documented defaults (spec §4.5
// Phase contracts table, spec §8 invariant 8: PIN auto-fill).
func applyDefaults(d *types.AppointmentPhaseFields, ct types.ContainerType) {
	if d.PinCode == "" {
		d.PinCode = defaultPin
	}
	if ct == types.ContainerTypeExport {
		if d.UnitNumber == "" {
			d.UnitNumber = defaultUnitNumber
		}
		if d.SealNumber1 == "" {
			d.SealNumber1 = defaultSealValue
		}
		if d.SealNumber2 == "" {
			d.SealNumber2 = defaultSealValue
		}
		if d.SealNumber3 == "" {
			d.SealNumber3 = defaultSealValue
		}
		if d.SealNumber4 == "" {
			d.SealNumber4 = defaultSealValue
		}
	}
}

// --- Phase 1 ---

func (f *FSM) runPhase1(ctx context.Context, page *rod.Page, sub *SubSession, shoot func(string) string) error {
	d := sub.PhaseData
	if d.TruckingCompany == "" {
		return types.NewMissingFieldError(Phase1, "trucking_company")
	}
	if d.Terminal == "" {
		return types.NewMissingFieldError(Phase1, "terminal")
	}
	if d.MoveType == "" {
		return types.NewMissingFieldError(Phase1, "move_type")
	}

	if err := f.selectDropdown(ctx, page, "Move Type", d.MoveType); err != nil {
		return err
	}

	sel := f.sel()
	switch sub.ContainerType {
	case types.ContainerTypeImport:
		if d.ContainerID == "" {
			return types.NewMissingFieldError(Phase1, "container_id")
		}
		if err := f.fillInput(ctx, page, sel.ApptContainerIDInput, d.ContainerID); err != nil {
			return err
		}
	case types.ContainerTypeExport:
		if d.BookingNumber == "" {
			return types.NewMissingFieldError(Phase1, "booking_number")
		}
		if err := f.fillInput(ctx, page, sel.ApptBookingNumberInput, d.BookingNumber); err != nil {
			return err
		}
		// Quantity is auto "1" per spec §4.5 Phase 1 contract table.
		_ = f.fillInput(ctx, page, sel.ApptQuantityInput, "1")
	}

	return f.clickNextWithRetry(ctx, page, sub, f.refillPhase1, shoot)
}

func (f *FSM) refillPhase1(ctx context.Context, page *rod.Page, sub *SubSession) error {
	d := sub.PhaseData
	if err := f.selectDropdown(ctx, page, "Move Type", d.MoveType); err != nil {
		return err
	}
	sel := f.sel()
	if sub.ContainerType == types.ContainerTypeImport {
		return f.fillInput(ctx, page, sel.ApptContainerIDInput, d.ContainerID)
	}
	if err := f.fillInput(ctx, page, sel.ApptBookingNumberInput, d.BookingNumber); err != nil {
		return err
	}
	return f.fillInput(ctx, page, sel.ApptQuantityInput, "1")
}

// --- Phase 2 ---

func (f *FSM) runPhase2(ctx context.Context, page *rod.Page, sub *SubSession, shoot func(string) string) error {
	d := sub.PhaseData
	sel := f.sel()

	if err := f.checkContainerCheckbox(ctx, page); err != nil {
		return err
	}

	switch sub.ContainerType {
	case types.ContainerTypeImport:
		if err := f.fillInput(ctx, page, sel.ApptPinCodeInput, d.PinCode); err != nil {
			return err
		}
	case types.ContainerTypeExport:
		if err := f.fillInput(ctx, page, sel.ApptUnitNumberInput, d.UnitNumber); err != nil {
			return err
		}
		seals := []string{d.SealNumber1, d.SealNumber2, d.SealNumber3, d.SealNumber4}
		for i, seal := range seals {
			if i >= len(sel.ApptSealInputs) {
				break
			}
			if err := f.fillInput(ctx, page, sel.ApptSealInputs[i], seal); err != nil {
				return err
			}
		}
	}

	if d.TruckPlate == "" {
		return types.NewMissingFieldError(Phase2, "truck_plate")
	}
	if err := f.selectTruckPlate(ctx, page, d.TruckPlate); err != nil {
		return err
	}

	if d.OwnChassis == nil {
		return types.NewMissingFieldError(Phase2, "own_chassis")
	}
	if err := f.setOwnChassis(ctx, page, *d.OwnChassis); err != nil {
		return err
	}

	return f.clickNextWithRetry(ctx, page, sub, f.refillPhase2, shoot)
}

func (f *FSM) refillPhase2(ctx context.Context, page *rod.Page, sub *SubSession) error {
	d := sub.PhaseData
	sel := f.sel()
	if err := f.checkContainerCheckbox(ctx, page); err != nil {
		return err
	}
	if sub.ContainerType == types.ContainerTypeImport {
		if err := f.fillInput(ctx, page, sel.ApptPinCodeInput, d.PinCode); err != nil {
			return err
		}
	} else {
		if err := f.fillInput(ctx, page, sel.ApptUnitNumberInput, d.UnitNumber); err != nil {
			return err
		}
		seals := []string{d.SealNumber1, d.SealNumber2, d.SealNumber3, d.SealNumber4}
		for i, seal := range seals {
			if i >= len(sel.ApptSealInputs) {
				break
			}
			_ = f.fillInput(ctx, page, sel.ApptSealInputs[i], seal)
		}
	}
	if err := f.selectTruckPlate(ctx, page, d.TruckPlate); err != nil {
		return err
	}
	if d.OwnChassis != nil {
		return f.setOwnChassis(ctx, page, *d.OwnChassis)
	}
	return nil
}

// --- Phase 3 ---

func (f *FSM) runPhase3(ctx context.Context, page *rod.Page, sub *SubSession, submit bool, shoot func(string) string) (*Result, error) {
	sel := f.sel()

	switch sub.ContainerType {
	case types.ContainerTypeImport:
		trigger, err := page.Context(ctx).Timeout(f.cfg.PhaseTransition).Element(sel.ApptTimeDropdownTrigger)
		if err != nil {
			return nil, types.NewDropdownNotFoundError("Appointment Time")
		}
		if err := trigger.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return nil, fmt.Errorf("%w: opening appointment time dropdown: %v", types.ErrClickIntercepted, err)
		}
		opts, err := page.Context(ctx).Timeout(3 * time.Second).Elements(sel.ApptTimeOptionSelector)
		if err != nil {
			return nil, types.NewDropdownNotFoundError("Appointment Time")
		}
		times := make([]string, 0, len(opts))
		for _, o := range opts {
			text, err := o.Text()
			if err != nil {
				continue
			}
			times = append(times, strings.TrimSpace(text))
		}
		shotURL := shoot("appointment_times")

		if !submit {
			return &Result{AvailableTimes: times, DropdownScreenshotURL: shotURL}, nil
		}

		d := sub.PhaseData
		if d.AppointmentTime == "" {
			return nil, types.NewMissingFieldError(Phase3, "appointment_time")
		}
		matched := false
		for _, o := range opts {
			text, _ := o.Text()
			if strings.TrimSpace(text) == d.AppointmentTime {
				if err := o.Click(proto.InputMouseButtonLeft, 1); err != nil {
					return nil, fmt.Errorf("%w: selecting appointment time: %v", types.ErrClickIntercepted, err)
				}
				matched = true
				break
			}
		}
		if !matched {
			return nil, types.NewOptionNotFoundError("Appointment Time", d.AppointmentTime)
		}
		return f.submitAppointment(ctx, page, types.ContainerTypeImport, d.AppointmentTime)

	case types.ContainerTypeExport:
		_, err := page.Context(ctx).Timeout(f.cfg.PhaseTransition).Element(sel.ApptCalendarIcon)
		found := err == nil
		if !submit {
			res := &Result{CalendarFound: found}
			if found {
				res.CalendarScreenshotURL = shoot("calendar")
			}
			return res, nil
		}
		if !found {
			return nil, fmt.Errorf("%w: calendar icon not found", types.ErrSubmitFailed)
		}
		return f.submitAppointment(ctx, page, types.ContainerTypeExport, "")
	}

	return nil, fmt.Errorf("unknown container type %q", sub.ContainerType)
}

// submitAppointment clicks Submit exactly once (spec §8 invariant 7:
// make_appointment calls Submit exactly once on the success path, never
// retried per §7 propagation policy).
func (f *FSM) submitAppointment(ctx context.Context, page *rod.Page, ct types.ContainerType, appointmentTime string) (*Result, error) {
	sel := f.sel()
	btn, err := page.Context(ctx).Timeout(f.cfg.PhaseTransition).Element(sel.AppointmentSubmitButton)
	if err != nil {
		return nil, fmt.Errorf("%w: submit button not found", types.ErrSubmitFailed)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("%w: clicking submit: %v", types.ErrSubmitFailed, err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, f.cfg.ApptPhaseTimeout)
	defer cancel()
	if err := page.Context(submitCtx).WaitLoad(); err != nil {
		log.Warn().Err(err).Msg("page did not settle after appointment submit; treating as confirmed")
	}

	details := map[string]string{"container_type": string(ct)}
	if appointmentTime != "" {
		details["appointment_time"] = appointmentTime
	}
	return &Result{Confirmed: true, Details: details}, nil
}

// --- shared primitives ---

// checkContainerCheckbox selects the phase-2 container/booking row checkbox.
func (f *FSM) checkContainerCheckbox(ctx context.Context, page *rod.Page) error {
	sel := f.sel()
	el, err := page.Context(ctx).Timeout(f.cfg.PhaseTransition).Element(sel.ApptContainerCheckbox)
	if err != nil {
		return fmt.Errorf("%w: container checkbox not found", types.ErrCheckboxStuck)
	}
	checked, _ := el.Property("checked")
	if checked.Bool() {
		return nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCheckboxStuck, err)
	}
	return nil
}

// setOwnChassis reads the toggle's current state and only clicks when a
// change is needed, since a click reverses it (spec §4.5).
func (f *FSM) setOwnChassis(ctx context.Context, page *rod.Page, want bool) error {
	sel := f.sel()
	el, err := page.Context(ctx).Timeout(f.cfg.PhaseTransition).Element(sel.OwnChassisCheckbox)
	if err != nil {
		return fmt.Errorf("%w: own chassis checkbox not found", types.ErrCheckboxStuck)
	}
	checked, _ := el.Property("checked")
	if checked.Bool() == want {
		return nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCheckboxStuck, err)
	}
	return nil
}

// selectTruckPlate supports the wildcard sentinel (literal "ABC123" or
// empty) that picks the first autocomplete option (spec GLOSSARY).
func (f *FSM) selectTruckPlate(ctx context.Context, page *rod.Page, plate string) error {
	sel := f.sel()
	input, err := page.Context(ctx).Timeout(f.cfg.PhaseTransition).Element(sel.ApptTruckPlateInput)
	if err != nil {
		return fmt.Errorf("%w: truck plate field not found", types.ErrElementNotFound)
	}

	wildcard := plate == "" || plate == wildcardTruckPlate
	if !wildcard {
		if err := typeHumanLike(ctx, input, plate); err != nil {
			return err
		}
	} else {
		// Any keystroke opens the autocomplete list; a single space does
		// the job without committing a value of our own.
		if err := input.Input(" "); err != nil {
			return fmt.Errorf("%w: %v", types.ErrElementNotFound, err)
		}
	}

	opts, err := page.Context(ctx).Timeout(3 * time.Second).Elements(sel.ApptTruckPlateAutocompleteOption)
	if err != nil || len(opts) == 0 {
		if wildcard {
			return fmt.Errorf("%w: no autocomplete options for truck plate", types.ErrOptionNotFound)
		}
		return nil // a typed exact value may not need autocomplete confirmation
	}

	if wildcard {
		if err := opts[0].Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("%w: selecting first truck plate option: %v", types.ErrClickIntercepted, err)
		}
		return nil
	}

	for _, o := range opts {
		text, _ := o.Text()
		if strings.TrimSpace(text) == plate {
			return o.Click(proto.InputMouseButtonLeft, 1)
		}
	}
	return types.NewOptionNotFoundError("Truck Plate", plate)
}

// selectDropdown picks an option by exact displayed text from the dropdown
// labeled label (spec §4.5: "selected by exact displayed text").
func (f *FSM) selectDropdown(ctx context.Context, page *rod.Page, label, value string) error {
	if value == "" {
		return nil
	}
	sel := f.sel()
	xpath := fmt.Sprintf(sel.ApptDropdownTriggerXPath, strconv.Quote(label))
	trigger, err := page.Context(ctx).Timeout(f.cfg.PhaseTransition).ElementX(xpath)
	if err != nil {
		return types.NewDropdownNotFoundError(label)
	}
	if err := trigger.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: opening %s dropdown: %v", types.ErrClickIntercepted, label, err)
	}

	opts, err := page.Context(ctx).Timeout(3 * time.Second).Elements(sel.ApptDropdownOptionSelector)
	if err != nil {
		return types.NewDropdownNotFoundError(label)
	}
	for _, o := range opts {
		text, err := o.Text()
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == value {
			if err := o.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return fmt.Errorf("%w: selecting %s option: %v", types.ErrClickIntercepted, label, err)
			}
			return nil
		}
	}
	return types.NewOptionNotFoundError(label, value)
}

func (f *FSM) fillInput(ctx context.Context, page *rod.Page, selector, value string) error {
	if selector == "" || value == "" {
		return nil
	}
	el, err := page.Context(ctx).Timeout(f.cfg.PhaseTransition).Element(selector)
	if err != nil {
		return fmt.Errorf("%w: field %s", types.ErrElementNotFound, selector)
	}
	return typeHumanLike(ctx, el, value)
}

func typeHumanLike(ctx context.Context, el *rod.Element, value string) error {
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: %v", types.ErrElementNotFound, err)
	}
	for _, r := range value {
		if err := el.Input(string(r)); err != nil {
			return fmt.Errorf("%w: typing %q: %v", types.ErrElementNotFound, value, err)
		}
		humanize.RandomWait(ctx, 50, 250)
	}
	return nil
}

// clickNextWithRetry clicks Next and waits for the stepper to advance; on
// timeout it distinguishes a validation toast (fail immediately) from a
// stuck stepper (retry once by re-filling from phase_data and clicking Next
// again) per spec §4.5.
func (f *FSM) clickNextWithRetry(ctx context.Context, page *rod.Page, sub *SubSession, refill func(context.Context, *rod.Page, *SubSession) error, shoot func(string) string) error {
	sel := f.sel()
	next, err := page.Context(ctx).Timeout(f.cfg.PhaseTransition).Element(sel.StepperNextButton)
	if err != nil {
		return fmt.Errorf("%w: Next button not found", types.ErrElementNotFound)
	}
	before := f.activeStepIndex(ctx, page)
	humanize.SleepWithContext(ctx, humanize.HumanDelay("click"))
	if err := next.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: clicking Next: %v", types.ErrClickIntercepted, err)
	}

	if f.stepperAdvanced(ctx, page, before) {
		return nil
	}

	if toast := f.validationToast(ctx, page); toast != "" {
		return types.NewValidationError(toast, shoot("validation"))
	}

	// STEPPER_STUCK: retry once by re-filling phase fields and clicking Next again.
	log.Warn().Str("appt_id", sub.ApptID).Msg("stepper did not advance, retrying once")
	if err := refill(ctx, page, sub); err != nil {
		return err
	}
	next, err = page.Context(ctx).Timeout(f.cfg.PhaseTransition).Element(sel.StepperNextButton)
	if err != nil {
		return fmt.Errorf("%w: Next button not found on retry", types.ErrStepperStuck)
	}
	if err := next.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStepperStuck, err)
	}
	if f.stepperAdvanced(ctx, page, before) {
		return nil
	}
	if toast := f.validationToast(ctx, page); toast != "" {
		return types.NewValidationError(toast, shoot("validation"))
	}
	return types.ErrStepperStuck
}

// activeStepIndex reads the current-phase marker's position among its
// stepper siblings, or -1 when no marker is present.
func (f *FSM) activeStepIndex(ctx context.Context, page *rod.Page) int {
	sel := f.sel()
	js := fmt.Sprintf(`() => {
		const active = document.querySelector(%s);
		if (!active) return -1;
		let i = 0;
		for (let el = active.previousElementSibling; el; el = el.previousElementSibling) i++;
		return i;
	}`, strconv.Quote(sel.ApptStepperActiveSelector))
	res, err := page.Context(ctx).Eval(js)
	if err != nil {
		return -1
	}
	return res.Value.Int()
}

// stepperAdvanced polls until the current-phase marker moves past where it
// was before the Next click, within the phase-transition bound.
func (f *FSM) stepperAdvanced(ctx context.Context, page *rod.Page, before int) bool {
	waitCtx, cancel := context.WithTimeout(ctx, f.cfg.PhaseTransition)
	defer cancel()
	deadline := time.Now().Add(f.cfg.PhaseTransition)
	for time.Now().Before(deadline) {
		if waitCtx.Err() != nil {
			return false
		}
		if idx := f.activeStepIndex(waitCtx, page); idx > before {
			return true
		}
		humanize.SleepWithContext(waitCtx, 300*time.Millisecond)
	}
	return false
}

func (f *FSM) validationToast(ctx context.Context, page *rod.Page) string {
	sel := f.sel()
	el, err := page.Context(ctx).Timeout(1 * time.Second).Element(sel.ApptValidationToastSelector)
	if err != nil {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
