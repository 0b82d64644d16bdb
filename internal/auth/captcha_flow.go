package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/metrics"
	"github.com/mohamed-ali0/truckportal-bridge/internal/selectors"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// captchaOutcome is what the checkbox click settles into after a bounded
// wait: the challenge solved itself, an audio affordance appeared, or the
// widget is stuck mid-verification.
type captchaOutcome int

const (
	outcomeUnknown captchaOutcome = iota
	outcomeSuccess
	outcomeAudioAffordance
	outcomeStuckSpinner
)

// solveCaptcha drives the full challenge: click the checkbox, branch on the
// outcome, and on the audio path submit the transcription through the
// solver chain. The visual image-grid challenge is never attempted.
func (a *Authenticator) solveCaptcha(ctx context.Context, page *rod.Page, sel *selectors.Selectors) error {
	checkbox, err := page.Context(ctx).Timeout(a.cfg.NavTimeout).Element(sel.CaptchaCheckbox)
	if err != nil {
		// No challenge widget on this login: some sessions skip it entirely.
		return nil
	}

	for attempt := 1; attempt <= stuckSpinnerRetries; attempt++ {
		if err := checkbox.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("%w: clicking captcha checkbox: %v", types.ErrCaptchaFailed, err)
		}

		outcome := a.awaitCaptchaOutcome(ctx, page, sel)
		switch outcome {
		case outcomeSuccess:
			metrics.RecordChallengeSolved("checkbox")
			return nil
		case outcomeAudioAffordance:
			err := a.solveAudioChallenge(ctx, page, sel)
			if err != nil {
				metrics.RecordChallengeFailed("audio")
			} else {
				metrics.RecordChallengeSolved("audio")
			}
			return err
		case outcomeStuckSpinner:
			log.Warn().Int("attempt", attempt).Msg("captcha checkbox stuck, retrying")
			humanizeWait(ctx, stuckSpinnerWait)
			continue
		default:
			// Timed out without a recognizable marker; treat as stuck and retry.
			continue
		}
	}

	metrics.RecordChallengeFailed("stuck_spinner")
	return types.ErrCaptchaFailed
}

// awaitCaptchaOutcome polls for one of the three documented markers within
// the configured nav timeout.
func (a *Authenticator) awaitCaptchaOutcome(ctx context.Context, page *rod.Page, sel *selectors.Selectors) captchaOutcome {
	deadline := time.Now().Add(a.cfg.NavTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return outcomeUnknown
		}

		if el, err := page.Timeout(200 * time.Millisecond).Element(sel.CaptchaAudioButton); err == nil && el != nil {
			visible, _ := el.Visible()
			if visible {
				return outcomeAudioAffordance
			}
		}

		checkJS := fmt.Sprintf(`() => {
			const cb = document.querySelector(%s);
			return !!(cb && (cb.getAttribute('aria-checked') === 'true' || cb.classList.contains('checked')));
		}`, strconv.Quote(sel.CaptchaCheckbox))
		res, err := page.Eval(checkJS)
		if err == nil && res.Value.Bool() {
			return outcomeSuccess
		}

		spinner, err := page.Timeout(200 * time.Millisecond).Element(".captcha-spinner, [aria-busy='true']")
		if err == nil && spinner != nil {
			visible, _ := spinner.Visible()
			if visible {
				humanizeWait(ctx, 500*time.Millisecond)
				continue
			}
		}

		humanizeWait(ctx, 300*time.Millisecond)
	}
	return outcomeStuckSpinner
}

// solveAudioChallenge switches the widget to audio mode, extracts the asset
// URL, submits it to the solver chain, types the transcription, and submits.
func (a *Authenticator) solveAudioChallenge(ctx context.Context, page *rod.Page, sel *selectors.Selectors) error {
	audioBtn, err := page.Context(ctx).Timeout(a.cfg.NavTimeout).Element(sel.CaptchaAudioButton)
	if err != nil {
		return fmt.Errorf("%w: audio affordance disappeared", types.ErrCaptchaFailed)
	}
	if err := audioBtn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: clicking audio button: %v", types.ErrCaptchaFailed, err)
	}

	sourceEl, err := page.Context(ctx).Timeout(a.cfg.NavTimeout).Element(sel.CaptchaAudioSource)
	if err != nil {
		return fmt.Errorf("%w: audio source not found", types.ErrCaptchaAudioNotFound)
	}
	audioURL, err := sourceEl.Attribute("src")
	if err != nil || audioURL == nil || *audioURL == "" {
		return fmt.Errorf("%w: audio source has no src", types.ErrCaptchaAudioNotFound)
	}

	if !a.chain.IsEnabled() || !a.chain.HasProviders() {
		return types.ErrCaptchaFailed
	}

	solveCtx, cancel := context.WithTimeout(ctx, a.cfg.CaptchaSolverTimeout)
	defer cancel()
	result, err := a.chain.Solve(solveCtx, *audioURL, "en")
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrCaptchaFailed, err)
	}

	answerEl, err := page.Context(ctx).Timeout(a.cfg.NavTimeout).Element(sel.CaptchaAnswerInput)
	if err != nil {
		return fmt.Errorf("%w: answer input not found", types.ErrCaptchaFailed)
	}
	if err := typeHumanLike(ctx, answerEl, result.Text); err != nil {
		return fmt.Errorf("%w: typing transcription: %v", types.ErrCaptchaFailed, err)
	}

	submitEl, err := page.Context(ctx).Timeout(a.cfg.NavTimeout).Element(sel.CaptchaSubmitButton)
	if err != nil {
		return fmt.Errorf("%w: captcha submit button not found", types.ErrCaptchaFailed)
	}
	if err := submitEl.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: clicking captcha submit: %v", types.ErrCaptchaFailed, err)
	}

	return nil
}

func humanizeWait(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
