package domain

import "time"

// Frame is the sole published artifact: one decoded picture as interleaved
// 8-bit RGB, row-major, len(Pixels) == Width*Height*3. Pixels must not be
// modified after publication, the slice is shared by reference with every
// reader.
type Frame struct {
	Pixels    []byte
	Index     int
	Position  float64 // seconds into the source
	Width     int
	Height    int
	Timestamp time.Time
	Degraded  bool // decoder output was short and got zero-padded
}

// Request describes one extraction attempt. Immutable once built; a retry
// builds a fresh Request with Attempt incremented.
type Request struct {
	Source   Source
	Position float64
	Profile  Profile
	Attempt  int
}
