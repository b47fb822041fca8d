// Package moqtime implements the fixed-point timestamp used for frame
// timestamps (spec §3 "Time"), grounded on moq-lite's model/time.rs: a
// varint count of ticks in a configurable timescale, default milliseconds.
package moqtime

import "time"

// Scale is the number of ticks per second for a Timestamp. The spec
// default is 1ms resolution, i.e. Scale = 1000.
type Scale uint64

// Millisecond is the default timescale (spec §3).
const Millisecond Scale = 1000

// Microsecond is a higher-resolution alternative some broadcasts may use.
const Microsecond Scale = 1_000_000

// Timestamp is a tick count in some Scale. It is carried on the wire as a
// bare varint (spec §6); the scale itself is out-of-band, negotiated per
// broadcast/track rather than per frame.
type Timestamp uint64

// From converts a time.Duration since a track's epoch into a Timestamp at
// the given scale.
func From(d time.Duration, scale Scale) Timestamp {
	return Timestamp(uint64(d) * uint64(scale) / uint64(time.Second))
}

// Duration converts a Timestamp at the given scale back to a time.Duration.
func (t Timestamp) Duration(scale Scale) time.Duration {
	if scale == 0 {
		return 0
	}
	return time.Duration(uint64(t) * uint64(time.Second) / uint64(scale))
}

// Add returns t+d, both in the same scale.
func (t Timestamp) Add(d Timestamp) Timestamp {
	return t + d
}

// Sub returns t-d, both in the same scale. Saturates at 0 rather than
// wrapping, since Timestamp has no meaningful negative value.
func (t Timestamp) Sub(d Timestamp) Timestamp {
	if d > t {
		return 0
	}
	return t - d
}

// Rescale converts t from one scale to another.
func Rescale(t Timestamp, from, to Scale) Timestamp {
	if from == 0 || from == to {
		return t
	}
	return Timestamp(uint64(t) * uint64(to) / uint64(from))
}
