package relay

import "github.com/okdaichi/moqlite/model"

type Config struct {
	// Upstream server URL (optional)
	Upstream string

	// GroupCacheSize is the maximum number of group caches to keep.
	GroupCacheSize int

	// FrameCapacity is how many frames of a still-open group are kept for
	// late readers (model.TrackConfig.FrameBuffer); it counts frames, not
	// bytes.
	FrameCapacity int

	// HealthCheckAddr is the address the health/readiness HTTP endpoints
	// listen on, if separate from Addr.
	HealthCheckAddr string
}

// trackConfig translates the relay's buffer knobs into the model
// package's per-track buffer configuration (spec §9 open questions on
// group/frame buffer sizing).
func (c *Config) trackConfig() model.TrackConfig {
	return model.TrackConfig{
		GroupBuffer: c.GroupCacheSize,
		FrameBuffer: c.FrameCapacity,
	}
}
