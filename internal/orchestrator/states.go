package orchestrator

// State is the verification pipeline state. Terminal states are
// Authenticated and Locked; Failed is recoverable when the failure was
// a device problem.
type State int

const (
	StateIdle State = iota
	StateCredentialsSubmitted
	StateOtpPending
	StateOtpVerified
	StateCameraActive
	StateFaceDetecting
	StateCapturing
	StateVerifying
	StateAuthenticated
	StateFailed
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCredentialsSubmitted:
		return "credentials_submitted"
	case StateOtpPending:
		return "otp_pending"
	case StateOtpVerified:
		return "otp_verified"
	case StateCameraActive:
		return "camera_active"
	case StateFaceDetecting:
		return "face_detecting"
	case StateCapturing:
		return "capturing"
	case StateVerifying:
		return "verifying"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further factor attempts are possible.
func (s State) Terminal() bool {
	return s == StateAuthenticated || s == StateLocked
}
