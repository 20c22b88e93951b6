//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkPermission(int video) {
    AVMediaType media = video ? AVMediaTypeVideo : AVMediaTypeAudio;
    return (int)[AVCaptureDevice authorizationStatusForMediaType:media];
}

void requestPermission(int video) {
    AVMediaType media = video ? AVMediaTypeVideo : AVMediaTypeAudio;
    [AVCaptureDevice requestAccessForMediaType:media completionHandler:^(BOOL granted) {}];
}
*/
import "C"

// platformCheckCamera returns the current camera permission status
func platformCheckCamera() Status {
	return Status(C.checkPermission(1))
}

// platformCheckMicrophone returns the current microphone permission status
func platformCheckMicrophone() Status {
	return Status(C.checkPermission(0))
}

// platformRequestCamera triggers the system camera permission dialog
func platformRequestCamera() {
	C.requestPermission(1)
}

// platformRequestMicrophone triggers the system microphone permission dialog
func platformRequestMicrophone() {
	C.requestPermission(0)
}
