// Package selectors provides portal DOM-selector and pattern loading and
// management, so layout tweaks on the trucking portal don't require a binary
// rebuild.
package selectors

import (
	"embed"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectorsFS embed.FS

// Selectors contains every DOM selector and pattern the engines need to
// drive the portal. Fields are flat (not nested) so Manager can merge an
// external override against the embedded defaults field by field.
type Selectors struct {
	LoginUsernameInput string `yaml:"login_username_input"`
	LoginPasswordInput string `yaml:"login_password_input"`
	LoginSubmitButton  string `yaml:"login_submit_button"`

	CaptchaCheckbox     string `yaml:"captcha_checkbox"`
	CaptchaAudioButton  string `yaml:"captcha_audio_button"`
	CaptchaAudioSource  string `yaml:"captcha_audio_source"`
	CaptchaAnswerInput  string `yaml:"captcha_answer_input"`
	CaptchaSubmitButton string `yaml:"captcha_submit_button"`

	ContainerIDPattern string `yaml:"container_id_pattern"`
	ListingRowSelector string `yaml:"listing_row_selector"`
	ListingSearchInput string `yaml:"listing_search_input"`

	// ListingScrollContainers is tried in order when resolving the virtual
	// list's scroll target: the virtualized viewport first, the outer
	// results pane last (spec §4.3 step 1).
	ListingScrollContainers    []string `yaml:"listing_scroll_containers"`
	ListingResultsContainer    string   `yaml:"listing_results_container"`
	ListingMasterCheckboxInput string   `yaml:"listing_master_checkbox_input"`
	ListingMasterCheckboxCell  string   `yaml:"listing_master_checkbox_cell"`
	ListingRowCheckbox         string   `yaml:"listing_row_checkbox"`
	ListingExportButton        string   `yaml:"listing_export_button"`

	TimelineRowSelector   string `yaml:"timeline_row_selector"`
	PregateBadgeSelector  string `yaml:"pregate_badge_selector"`
	BookingNumberSelector string `yaml:"booking_number_selector"`

	AppointmentDropdownLabels []string `yaml:"appointment_dropdown_labels"`
	StepperNextButton         string   `yaml:"stepper_next_button"`
	AppointmentSubmitButton   string   `yaml:"appointment_submit_button"`
	OwnChassisCheckbox        string   `yaml:"own_chassis_checkbox"`

	// Appointment-phase fields (AppointmentFSM, spec §4.5). The dropdown
	// trigger/option pair is generic (label text -> trigger -> option list)
	// so one mechanism serves every labeled dropdown in AppointmentDropdownLabels.
	ApptDropdownTriggerXPath         string   `yaml:"appt_dropdown_trigger_xpath"`
	ApptDropdownOptionSelector       string   `yaml:"appt_dropdown_option_selector"`
	ApptStepperActiveSelector        string   `yaml:"appt_stepper_active_selector"`
	ApptValidationToastSelector      string   `yaml:"appt_validation_toast_selector"`
	ApptContainerCheckbox            string   `yaml:"appt_container_checkbox"`
	ApptContainerIDInput             string   `yaml:"appt_container_id_input"`
	ApptBookingNumberInput           string   `yaml:"appt_booking_number_input"`
	ApptQuantityInput                string   `yaml:"appt_quantity_input"`
	ApptPinCodeInput                 string   `yaml:"appt_pin_code_input"`
	ApptUnitNumberInput              string   `yaml:"appt_unit_number_input"`
	ApptSealInputs                   []string `yaml:"appt_seal_inputs"`
	ApptTruckPlateInput              string   `yaml:"appt_truck_plate_input"`
	ApptTruckPlateAutocompleteOption string   `yaml:"appt_truck_plate_autocomplete_option"`
	ApptTimeDropdownTrigger          string   `yaml:"appt_time_dropdown_trigger"`
	ApptTimeOptionSelector           string   `yaml:"appt_time_option_selector"`
	ApptCalendarIcon                 string   `yaml:"appt_calendar_icon"`

	// Detail-engine fields (ContainerDetailEngine, spec §4.4).
	DetailPregateCompletedClass string `yaml:"detail_pregate_completed_class"`
	DetailBookingLabelText      string `yaml:"detail_booking_label_text"`
}

var (
	instance *Selectors
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Selectors instance.
// Patterns are loaded from the embedded selectors.yaml file.
func Get() *Selectors {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load selectors, using defaults")
			instance = defaultSelectors()
		}
	})
	return instance
}

// load reads selectors from the embedded YAML file.
func load() (*Selectors, error) {
	data, err := defaultSelectorsFS.ReadFile("selectors.yaml")
	if err != nil {
		return nil, err
	}

	var s Selectors
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}

	log.Debug().
		Str("container_id_pattern", s.ContainerIDPattern).
		Int("appointment_dropdown_labels", len(s.AppointmentDropdownLabels)).
		Msg("Selectors loaded")

	return &s, nil
}

// defaultSelectors returns hardcoded fallback patterns, used only if the
// embedded YAML somehow fails to parse.
func defaultSelectors() *Selectors {
	return &Selectors{
		LoginUsernameInput: "#username",
		LoginPasswordInput: "#password",
		LoginSubmitButton:  "button[type='submit']",

		CaptchaCheckbox:     "input[type='checkbox']",
		CaptchaAudioButton:  ".captcha-audio-button",
		CaptchaAudioSource:  "audio#captcha-audio source",
		CaptchaAnswerInput:  "#captcha-answer",
		CaptchaSubmitButton: ".captcha-verify-button",

		ContainerIDPattern: `[A-Z]{4}\d{6,7}[A-Z]?`,
		ListingRowSelector: "table.containers-table tbody tr",
		ListingSearchInput: "#container-search",

		ListingScrollContainers: []string{
			".virtual-scroll-viewport",
			".cdk-virtual-scroll-viewport",
			".containers-table-wrapper",
			".results-pane",
		},
		ListingResultsContainer:    ".results-pane",
		ListingMasterCheckboxInput: "th.select-all input[type='checkbox']",
		ListingMasterCheckboxCell:  "th.select-all",
		ListingRowCheckbox:         "td.select-row input[type='checkbox']",
		ListingExportButton:        ".export-to-spreadsheet",

		TimelineRowSelector:   ".timeline-entry",
		PregateBadgeSelector:  ".pregate-status",
		BookingNumberSelector: ".booking-number",

		AppointmentDropdownLabels: []string{
			"Move Type", "Equipment Type", "Line", "Own Chassis",
		},
		StepperNextButton:       ".stepper-next",
		AppointmentSubmitButton: ".appointment-submit",
		OwnChassisCheckbox:      "#own-chassis",

		ApptDropdownTriggerXPath:         "//label[normalize-space(text())=%s]/following::div[contains(@class,'dropdown-trigger')][1]",
		ApptDropdownOptionSelector:       ".dropdown-menu .dropdown-item",
		ApptStepperActiveSelector:        ".stepper-step.active",
		ApptValidationToastSelector:      ".toast-error, .validation-message",
		ApptContainerCheckbox:            ".container-select input[type='checkbox']",
		ApptContainerIDInput:             "#containerId",
		ApptBookingNumberInput:           "#bookingNumber",
		ApptQuantityInput:                "#quantity",
		ApptPinCodeInput:                 "#pinCode",
		ApptUnitNumberInput:              "#unitNumber",
		ApptSealInputs:                   []string{"#seal1", "#seal2", "#seal3", "#seal4"},
		ApptTruckPlateInput:              "#truckPlate",
		ApptTruckPlateAutocompleteOption: ".autocomplete-options li",
		ApptTimeDropdownTrigger:          "#appointmentTime",
		ApptTimeOptionSelector:           ".time-options .option",
		ApptCalendarIcon:                 ".calendar-icon",

		DetailPregateCompletedClass: "pregate-complete",
		DetailBookingLabelText:      "Booking #",
	}
}
