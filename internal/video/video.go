package video

import (
	"context"
	"errors"
	"image"
)

// ErrEndOfStream is returned by a Camera that has no more frames. io.EOF
// means the same thing.
var ErrEndOfStream = errors.New("end of video stream")

// Camera yields frames until it is closed or runs out.
type Camera interface {
	// Grab blocks for the next frame. The returned image is owned by the caller.
	Grab(ctx context.Context) (image.Image, error)
	Close() error
}

// Display is a surface frames are shown on.
type Display interface {
	Show(img image.Image)
	Visible() bool
	Dispose()
}

// Closable is implemented by displays the user can close. The preview loop
// ends once Closed is closed.
type Closable interface {
	Closed() <-chan struct{}
}
