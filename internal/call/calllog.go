package call

import "fmt"

// logText renders the one-line call summary appended to the conversation.
// durationSeconds is whole seconds of connected time, zero when the call
// never connected.
func logText(finalStatus string, durationSeconds int) string {
	if finalStatus == FinalStatusMissed {
		return "Missed call"
	}
	return fmt.Sprintf("Call ended • %dm %ds", durationSeconds/60, durationSeconds%60)
}
