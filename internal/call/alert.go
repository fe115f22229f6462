package call

// Tone identifies the audible feedback for a call phase.
type Tone string

const (
	ToneDial Tone = "dial"
	ToneRing Tone = "ring"
	ToneEnd  Tone = "end"
)

// Alerter plays call progress tones. Implementations own the platform quirks
// (audio device setup, autoplay unlocking); Play replaces whatever tone is
// currently sounding, so at most one tone is ever active.
type Alerter interface {
	Play(Tone)
	Stop()
}

// NopAlerter is the silent default for headless processes and tests.
type NopAlerter struct{}

func (NopAlerter) Play(Tone) {}
func (NopAlerter) Stop()     {}
