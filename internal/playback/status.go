package playback

// Status is the state of a playback run
type Status string

const (
	StatusIdle         Status = "IDLE"
	StatusInitializing Status = "INITIALIZING"
	StatusRunning      Status = "RUNNING"
	StatusZeroing      Status = "ZEROING"
	StatusClosed       Status = "CLOSED"
)

// Active reports whether the device may be open in this state
func (s Status) Active() bool {
	return s == StatusInitializing || s == StatusRunning || s == StatusZeroing
}
