package bwe

import "time"

// RateStatsConfig configures the sliding-window rate measurement.
type RateStatsConfig struct {
	// WindowSize is the duration of the sliding window for rate calculation.
	WindowSize time.Duration

	// MinWindowSize is the minimum amount of the window that must have
	// elapsed before Rate returns a measurement, and MinBuckets is the
	// minimum number of distinct 1ms buckets that must have been touched.
	// Both gates must pass.
	MinWindowSize time.Duration
	MinBuckets    int
}

// DefaultRateStatsConfig returns the default configuration.
func DefaultRateStatsConfig() RateStatsConfig {
	return RateStatsConfig{
		WindowSize:    time.Second,
		MinWindowSize: 500 * time.Millisecond,
		MinBuckets:    2,
	}
}

// RateStats tracks incoming bitrate over a sliding time window using
// 1-millisecond buckets, following the bucketed accumulator shape of
// libwebrtc's RateStatistics rather than a raw sample list: each Update
// adds to the bucket for its millisecond and evicts buckets that have
// fallen out of the window, so windowSize/1ms + 1 buckets (both ends of the
// window are inclusive) bound memory use regardless of packet rate.
type RateStats struct {
	config RateStatsConfig

	buckets    []int64 // bytes accumulated per 1ms bucket
	bucketTime []int64 // ms timestamp the bucket at this index was last touched, -1 if untouched
	totalBytes int64
	numActive  int

	firstMs int64 // ms timestamp of the oldest bucket still in the window
	lastMs  int64 // ms timestamp of the most recent Update call
	started bool
}

// NewRateStats creates a new rate statistics tracker with the given
// configuration.
func NewRateStats(config RateStatsConfig) *RateStats {
	if config.WindowSize <= 0 {
		config.WindowSize = time.Second
	}
	if config.MinWindowSize <= 0 {
		config.MinWindowSize = 500 * time.Millisecond
	}
	if config.MinBuckets <= 0 {
		config.MinBuckets = 2
	}
	numBuckets := int(config.WindowSize/time.Millisecond) + 1
	if numBuckets < 1 {
		numBuckets = 1
	}
	r := &RateStats{config: config}
	r.buckets = make([]int64, numBuckets)
	r.bucketTime = make([]int64, numBuckets)
	for i := range r.bucketTime {
		r.bucketTime[i] = -1
	}
	return r
}

// Update adds a byte-count sample at the given time. Call this for each
// received packet with the packet size.
func (r *RateStats) Update(bytes int64, now time.Time) {
	nowMs := now.UnixMilli()
	if !r.started {
		r.started = true
		r.firstMs = nowMs
	}
	r.evictOlderThan(nowMs)

	idx := r.bucketIndex(nowMs)
	if r.bucketTime[idx] != nowMs {
		// Bucket belongs to a different millisecond than last time it was
		// touched (or has never been touched): start it fresh.
		if r.bucketTime[idx] != -1 {
			r.totalBytes -= r.buckets[idx]
			r.numActive--
		}
		r.buckets[idx] = 0
		r.bucketTime[idx] = nowMs
		r.numActive++
	}
	r.buckets[idx] += bytes
	r.totalBytes += bytes
	r.lastMs = nowMs
}

// Rate returns the current bitrate in bits per second. Returns (rate, true)
// once at least MinWindowSize of the window has elapsed and at least
// MinBuckets distinct millisecond buckets have been populated; otherwise
// (0, false).
func (r *RateStats) Rate(now time.Time) (bitsPerSec int64, ok bool) {
	if !r.started {
		return 0, false
	}
	nowMs := now.UnixMilli()
	r.evictOlderThan(nowMs)

	if r.numActive < r.config.MinBuckets {
		return 0, false
	}

	elapsedMs := r.lastMs - r.firstMs
	if time.Duration(elapsedMs)*time.Millisecond < r.config.MinWindowSize {
		return 0, false
	}
	if elapsedMs <= 0 {
		return 0, false
	}

	rate := float64(r.totalBytes*8) / (float64(elapsedMs) / 1000)
	return int64(rate), true
}

// bucketIndex maps a millisecond timestamp to its ring-buffer slot.
func (r *RateStats) bucketIndex(ms int64) int {
	n := int64(len(r.buckets))
	idx := ms % n
	if idx < 0 {
		idx += n
	}
	return int(idx)
}

// evictOlderThan drops buckets older than the window (a bucket exactly one
// window old is kept) and sets firstMs to the oldest surviving bucket, or to
// nowMs when none survive.
func (r *RateStats) evictOlderThan(nowMs int64) {
	windowMs := int64(r.config.WindowSize / time.Millisecond)
	cutoff := nowMs - windowMs

	r.firstMs = nowMs
	for i, t := range r.bucketTime {
		if t == -1 {
			continue
		}
		if t >= cutoff {
			if t < r.firstMs {
				r.firstMs = t
			}
			continue
		}
		r.totalBytes -= r.buckets[i]
		r.buckets[i] = 0
		r.bucketTime[i] = -1
		r.numActive--
	}
}

// Reset clears all samples and accumulated state. Call this when switching
// streams or after extended silence.
func (r *RateStats) Reset() {
	for i := range r.buckets {
		r.buckets[i] = 0
		r.bucketTime[i] = -1
	}
	r.totalBytes = 0
	r.numActive = 0
	r.started = false
	r.firstMs = 0
	r.lastMs = 0
}
