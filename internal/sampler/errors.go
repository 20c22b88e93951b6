package sampler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is matched by every error New returns for bad parameters.
	ErrInvalidConfig = errors.New("invalid sampler config")

	// ErrDeviceUnavailable means the capture handle could not be opened or started.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrOddByteCount is a torn read: the byte count is not a whole number of samples.
	ErrOddByteCount = errors.New("byte count is not a multiple of the sample width")

	ErrCaptureRead    = errors.New("capture read failed")
	ErrAlreadyRunning = errors.New("sampler already running")
	ErrStopTimeout    = errors.New("timed out waiting for in-flight tick")
)

// ConfigError names the offending field.
type ConfigError struct {
	Field string
	Value any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s must be positive, got %v", ErrInvalidConfig, e.Field, e.Value)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// DeviceError wraps a failure of the capture handle's Open or Start.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDeviceUnavailable, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Is(target error) bool { return target == ErrDeviceUnavailable }

// ConversionError reports a torn read.
type ConversionError struct {
	Bytes int
	Width int
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s: %d bytes, width %d", ErrOddByteCount, e.Bytes, e.Width)
}

func (e *ConversionError) Is(target error) bool { return target == ErrOddByteCount }

// SinkError wraps a failure returned by Sink.Accept for block Seq.
type SinkError struct {
	Seq uint64
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink rejected block %d: %v", e.Seq, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
