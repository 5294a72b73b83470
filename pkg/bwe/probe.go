package bwe

const (
	// maxProbePackets bounds the probe backlog kept while waiting for
	// enough samples to form a cluster.
	maxProbePackets = 15

	// minClusterSize is the minimum number of probe packets a cluster must
	// contain before it's considered for bitrate estimation.
	minClusterSize = 4

	// expectedNumberOfProbes is how many clusters we expect a single probe
	// burst to produce; once we've seen that many without a usable result,
	// the probe backlog is cleared rather than kept around indefinitely.
	expectedNumberOfProbes = 3

	// minProbePacketSize is the payload-size floor below which a packet is
	// assumed not to have been deliberately paced as part of a probe.
	minProbePacketSize = 200

	// initialProbingIntervalMs bounds how long after the first packet we
	// keep accepting probe clusters when no valid estimate exists yet.
	initialProbingIntervalMs = 2000
)

// Probe is one packet received as part of a bandwidth probe burst.
type Probe struct {
	SendTimeMs  int64
	RecvTimeMs  int64
	PayloadSize int
	ClusterID   ProbeClusterID
}

// Cluster aggregates the probes that share a ProbeClusterID into mean
// send/receive deltas and a payload-size mean, from which send- and
// receive-side bitrates can be derived.
type Cluster struct {
	SendMeanMs      float64
	RecvMeanMs      float64
	MeanSize        int
	Count           int
	NumAboveMinDelta int
}

// SendBitrateBps returns the cluster's bitrate as measured by send-side
// timing.
func (c Cluster) SendBitrateBps() int64 {
	if c.SendMeanMs <= 0 {
		return 0
	}
	return int64(float64(c.MeanSize) * 8 * 1000 / c.SendMeanMs)
}

// RecvBitrateBps returns the cluster's bitrate as measured by receive-side
// timing.
func (c Cluster) RecvBitrateBps() int64 {
	if c.RecvMeanMs <= 0 {
		return 0
	}
	return int64(float64(c.MeanSize) * 8 * 1000 / c.RecvMeanMs)
}

// ProbeResult reports the outcome of processing the accumulated probe
// backlog.
type ProbeResult int

const (
	// ProbeNoUpdate means no cluster produced a usable bitrate.
	ProbeNoUpdate ProbeResult = iota
	// ProbeBitrateUpdated means a cluster produced a bitrate that was
	// accepted and seeded into the rate controller.
	ProbeBitrateUpdated
)

// ProbeAnalyzer accumulates probe packets and, once enough of them have
// arrived, clusters them by ProbeClusterID to estimate the bitrate the
// burst was sent and received at.
type ProbeAnalyzer struct {
	probes []Probe
}

// NewProbeAnalyzer creates an empty ProbeAnalyzer.
func NewProbeAnalyzer() *ProbeAnalyzer {
	return &ProbeAnalyzer{}
}

// ShouldTrack reports whether a packet with the given probe cluster ID,
// payload size, and current estimator validity should be tracked as part
// of a probe burst. Probing is only attempted while no valid estimate
// exists yet, or within initialProbingIntervalMs of the first packet.
func (p *ProbeAnalyzer) ShouldTrack(clusterID ProbeClusterID, payloadSize int, hasValidEstimate bool, msSinceFirstPacket int64) bool {
	if clusterID == NotAProbe {
		return false
	}
	if payloadSize <= minProbePacketSize {
		return false
	}
	if hasValidEstimate && msSinceFirstPacket >= initialProbingIntervalMs {
		return false
	}
	return len(p.probes) < maxProbePackets
}

// AddProbe records one probe packet.
func (p *ProbeAnalyzer) AddProbe(sendTimeMs, recvTimeMs int64, payloadSize int, clusterID ProbeClusterID) {
	p.probes = append(p.probes, Probe{
		SendTimeMs:  sendTimeMs,
		RecvTimeMs:  recvTimeMs,
		PayloadSize: payloadSize,
		ClusterID:   clusterID,
	})
}

// ComputeClusters groups the accumulated probes by consecutive ClusterID
// runs and averages each group's send/recv deltas and payload size.
// Clusters below minClusterSize are discarded.
func (p *ProbeAnalyzer) ComputeClusters() []Cluster {
	var clusters []Cluster
	var current Cluster
	prevSend, prevRecv := int64(-1), int64(-1)
	lastClusterID := ProbeClusterID(-2)

	for _, pr := range p.probes {
		if lastClusterID == -2 {
			lastClusterID = pr.ClusterID
		}
		if prevSend >= 0 {
			sendDelta := pr.SendTimeMs - prevSend
			recvDelta := pr.RecvTimeMs - prevRecv

			if sendDelta >= 1 && recvDelta >= 1 {
				current.NumAboveMinDelta++
			}
			if pr.ClusterID != lastClusterID {
				if current.Count >= minClusterSize {
					clusters = append(clusters, finalizeCluster(current))
				}
				current = Cluster{}
			}
			current.SendMeanMs += float64(sendDelta)
			current.RecvMeanMs += float64(recvDelta)
			current.MeanSize += pr.PayloadSize
			current.Count++
			lastClusterID = pr.ClusterID
		}
		prevSend = pr.SendTimeMs
		prevRecv = pr.RecvTimeMs
	}
	if current.Count >= minClusterSize {
		clusters = append(clusters, finalizeCluster(current))
	}
	return clusters
}

func finalizeCluster(c Cluster) Cluster {
	c.SendMeanMs /= float64(c.Count)
	c.RecvMeanMs /= float64(c.Count)
	c.MeanSize /= c.Count
	return c
}

// FindBestProbe scans clusters in arrival order and returns the
// highest-bitrate one that qualifies (more than half its probes above the
// minimum delta, and send/recv means within a few milliseconds of each
// other). The scan stops at the first cluster that fails to qualify rather
// than continuing past it — a deliberately preserved quirk of the original
// algorithm, which treats a disqualifying cluster as the end of a coherent
// probe burst.
func (p *ProbeAnalyzer) FindBestProbe(clusters []Cluster) (Cluster, bool) {
	var best Cluster
	var found bool
	highest := int64(0)

	for _, c := range clusters {
		if c.SendMeanMs == 0 || c.RecvMeanMs == 0 {
			continue
		}
		qualifies := c.NumAboveMinDelta > c.Count/2 &&
			c.RecvMeanMs-c.SendMeanMs <= 2.0 &&
			c.SendMeanMs-c.RecvMeanMs <= 5.0
		if !qualifies {
			break
		}
		probeBitrate := min64(c.SendBitrateBps(), c.RecvBitrateBps())
		if probeBitrate > highest {
			highest = probeBitrate
			best = c
			found = true
		}
	}
	return best, found
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// ProcessClusters computes clusters from the accumulated probes, selects
// the best one, and reports whether it represents an improving bitrate.
// When the backlog has grown past maxProbePackets with no usable cluster,
// the oldest probe is dropped; when expectedNumberOfProbes clusters have
// been seen with no accepted result, the whole backlog is cleared.
func (p *ProbeAnalyzer) ProcessClusters(currentEstimateValid bool, currentEstimateBps int64) (bitrateBps int64, result ProbeResult) {
	clusters := p.ComputeClusters()
	if len(clusters) == 0 {
		if len(p.probes) >= maxProbePackets {
			p.probes = p.probes[1:]
		}
		return 0, ProbeNoUpdate
	}

	best, found := p.FindBestProbe(clusters)
	if found {
		probeBitrate := min64(best.SendBitrateBps(), best.RecvBitrateBps())
		if isBitrateImproving(currentEstimateValid, currentEstimateBps, probeBitrate) {
			return probeBitrate, ProbeBitrateUpdated
		}
	}

	if len(clusters) >= expectedNumberOfProbes {
		p.probes = nil
	}
	return 0, ProbeNoUpdate
}

// isBitrateImproving reports whether newBitrateBps represents an improving
// signal: either no valid estimate exists yet and the probe produced a
// positive bitrate, or the probe bitrate exceeds the current estimate.
func isBitrateImproving(estimateValid bool, currentEstimateBps, newBitrateBps int64) bool {
	initialProbe := !estimateValid && newBitrateBps > 0
	aboveEstimate := estimateValid && newBitrateBps > currentEstimateBps
	return initialProbe || aboveEstimate
}

// Reset clears all accumulated probe state.
func (p *ProbeAnalyzer) Reset() {
	p.probes = nil
}
