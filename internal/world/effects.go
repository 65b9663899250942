package world

import (
	"time"
)

// SetTransparency applies a value immediately, cancelling any running fade
// on the part.
func (w *World) SetTransparency(part *Part, value float64) {
	w.stopTween(part)
	part.Transparency = value
}

// FadeTransparency tweens part linearly to target over d. The tween is
// driven by the scheduler's frames and replaces any fade already running on
// the part. Without a scheduler, or for d <= 0, it applies instantly.
func (w *World) FadeTransparency(part *Part, target float64, d time.Duration) {
	w.stopTween(part)
	if w.sched == nil || d <= 0 {
		part.Transparency = target
		return
	}

	start := part.Transparency
	var elapsed time.Duration
	w.tweens[part] = w.sched.OnFrame(func(dt time.Duration) {
		elapsed += dt
		if elapsed >= d {
			part.Transparency = target
			w.stopTween(part)
			return
		}
		alpha := float64(elapsed) / float64(d)
		part.Transparency = start + (target-start)*alpha
	})
}

// SetTrailEnabled toggles a trail.
func (w *World) SetTrailEnabled(trail *Trail, enabled bool) {
	if trail != nil {
		trail.Enabled = enabled
	}
}

// ActiveTweens returns the number of running fades.
func (w *World) ActiveTweens() int {
	return len(w.tweens)
}

func (w *World) stopTween(part *Part) {
	if t, ok := w.tweens[part]; ok {
		t.Stop()
		delete(w.tweens, part)
	}
}

func (w *World) cancelTweens(p *Projectile) {
	for _, part := range p.Parts {
		w.stopTween(part)
	}
}
