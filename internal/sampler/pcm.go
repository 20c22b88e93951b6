package sampler

import "encoding/binary"

// BytesPerSample is the width of a signed 16-bit PCM sample.
const BytesPerSample = 2

// DecodeS16LE reinterprets little-endian bytes as signed 16-bit samples.
// An odd-length input yields a *ConversionError and no samples.
func DecodeS16LE(b []byte) ([]int16, error) {
	if len(b)%BytesPerSample != 0 {
		return nil, &ConversionError{Bytes: len(b), Width: BytesPerSample}
	}
	samples := make([]int16, len(b)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
	}
	return samples, nil
}

// EncodeS16LE is the inverse of DecodeS16LE.
func EncodeS16LE(samples []int16) []byte {
	b := make([]byte, len(samples)*BytesPerSample)
	PutS16LE(b, samples)
	return b
}

// PutS16LE writes samples into dst as little-endian bytes and returns the
// number of bytes written. dst must hold len(samples)*2 bytes.
func PutS16LE(dst []byte, samples []int16) int {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(s))
	}
	return len(samples) * BytesPerSample
}
