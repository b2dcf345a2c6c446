// Package correction implements visual correction smoothing: the short-lived
// blend between the value an entity was showing before a rollback and the
// corrected value the replay produced. Only the rendered value is blended;
// the simulated component always holds the corrected value.
package correction

import (
	"fmt"

	"github.com/zeusync/prediction/internal/core/timeline"
)

// Correction tracks one component's in-flight blend. It exists from the
// moment the rollback preparer writes a corrected value until the blend
// window elapses.
type Correction struct {
	// OriginalPrediction is the visual value shown before the rollback.
	// Under back-to-back rollbacks this is the previous correction's
	// CurrentVisual, so the blend never jumps back to a stale prediction.
	OriginalPrediction any
	// OriginalTick is the tick the correction was created at.
	OriginalTick timeline.Tick
	// FinalTick is the tick at which the blend completes. Always strictly
	// after OriginalTick.
	FinalTick timeline.Tick
	// CurrentVisual is the eased value to render this frame.
	CurrentVisual any
	// CurrentCorrection is the corrected value the blend converges to.
	CurrentCorrection any
}

// New creates a correction blending from the pre-rollback visual toward the
// corrected value over window ticks. A window below one tick is treated as
// one tick so FinalTick stays strictly after OriginalTick.
func New(previousVisual, corrected any, now timeline.Tick, window int32) *Correction {
	if window < 1 {
		window = 1
	}
	return &Correction{
		OriginalPrediction: previousVisual,
		OriginalTick:       now,
		FinalTick:          now.Add(window),
		CurrentVisual:      previousVisual,
		CurrentCorrection:  corrected,
	}
}

// Progress returns the raw blend factor for the given tick, clamped to
// [0, 1].
func (c *Correction) Progress(now timeline.Tick) float64 {
	total := timeline.Delta(c.FinalTick, c.OriginalTick)
	if total <= 0 {
		panic(fmt.Sprintf("correction: non-positive blend window [%d, %d]", c.OriginalTick, c.FinalTick))
	}
	elapsed := timeline.Delta(now, c.OriginalTick)
	if elapsed <= 0 {
		return 0
	}
	if elapsed >= total {
		return 1
	}
	return float64(elapsed) / float64(total)
}

// Done reports whether the blend window has elapsed at the given tick.
func (c *Correction) Done(now timeline.Tick) bool {
	return timeline.Delta(now, c.FinalTick) >= 0
}

// BlendFunc interpolates between two component values, t in [0, 1].
type BlendFunc func(from, to any, t float64) any

// EaseFunc shapes the raw blend factor. Input and output are in [0, 1].
type EaseFunc func(t float64) float64

// Linear is the identity easing curve.
func Linear(t float64) float64 { return t }

// SmoothStep is the default easing curve: slow start, slow end.
func SmoothStep(t float64) float64 {
	return t * t * (3 - 2*t)
}

// EaseOutQuad decelerates toward the corrected value.
func EaseOutQuad(t float64) float64 {
	return t * (2 - t)
}

// Advance recomputes CurrentVisual for the given tick and reports whether
// the correction has completed. On completion CurrentVisual equals
// CurrentCorrection exactly, with no easing residue.
func (c *Correction) Advance(now timeline.Tick, blend BlendFunc, ease EaseFunc) (done bool) {
	t := c.Progress(now)
	if t >= 1 {
		c.CurrentVisual = c.CurrentCorrection
		return true
	}
	if ease != nil {
		t = ease(t)
	}
	if blend == nil {
		// No blend hook for this kind: snap immediately.
		c.CurrentVisual = c.CurrentCorrection
		return true
	}
	c.CurrentVisual = blend(c.OriginalPrediction, c.CurrentCorrection, t)
	return false
}
