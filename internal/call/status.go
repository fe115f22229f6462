package call

// Status is the local session state. It refines the persisted record status
// with the caller-side dialing phase, which is never written to the store.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusDialing   Status = "dialing"
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusEnded     Status = "ended"
)

// Final outcomes recorded on the call record at end-of-call.
const (
	FinalStatusEnded  = "ended"
	FinalStatusMissed = "missed"
)
