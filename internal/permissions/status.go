package permissions

import "fmt"

// Status mirrors AVAuthorizationStatus.
type Status int

const (
	// PermissionNotRequired marks a device that was not checked, e.g. the
	// microphone with audio capture disabled.
	PermissionNotRequired Status = -1

	PermissionNotDetermined Status = 0
	PermissionRestricted    Status = 1
	PermissionDenied        Status = 2
	PermissionAuthorized    Status = 3
)

func (s Status) String() string {
	switch s {
	case PermissionNotRequired:
		return "not required"
	case PermissionNotDetermined:
		return "not determined"
	case PermissionRestricted:
		return "restricted"
	case PermissionDenied:
		return "denied"
	case PermissionAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Result holds the camera and microphone status separately.
type Result struct {
	Camera     Status
	Microphone Status
}

// MicrophoneDenied reports whether audio was wanted but not granted.
func (r Result) MicrophoneDenied() bool {
	return r.Microphone != PermissionNotRequired && r.Microphone != PermissionAuthorized
}

// Platform entry points, replaced in tests.
var (
	checkCamera       = platformCheckCamera
	checkMicrophone   = platformCheckMicrophone
	requestCamera     = platformRequestCamera
	requestMicrophone = platformRequestMicrophone
)

// EnsurePermissions checks the camera and, when audio is enabled, the
// microphone. Missing grants trigger the system prompt. Only a missing camera
// grant is an error; a missing microphone grant is reported in the Result so
// the caller can carry on without audio.
func EnsurePermissions(audio bool) (Result, error) {
	res := Result{Camera: checkCamera(), Microphone: PermissionNotRequired}

	if res.Camera != PermissionAuthorized {
		fmt.Println("⚠️  Camera permission required")
		fmt.Println("   Go to: System Settings → Privacy & Security → Camera")
		requestCamera()
		return res, fmt.Errorf("camera permission %s", res.Camera)
	}

	if audio {
		res.Microphone = checkMicrophone()
		if res.Microphone != PermissionAuthorized {
			fmt.Println("⚠️  Microphone permission required, continuing without audio")
			requestMicrophone()
		}
	}
	return res, nil
}
