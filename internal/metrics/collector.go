package metrics

import (
	"time"
)

// Collector periodically refreshes gauges that are not naturally updated
// on the hot path (uptime, view sizes snapshotted from a ViewSizer).
type Collector struct {
	startTime time.Time
	sizer     ViewSizer
}

// ViewSizer reports the current view sizes; satisfied by the Coordinator.
type ViewSizer interface {
	ActiveViewLen() int
	PassiveViewLen() int
	PartitionCount() int
}

// NewCollector creates a collector bound to the given view sizer.
func NewCollector(sizer ViewSizer) *Collector {
	return &Collector{
		startTime: time.Now(),
		sizer:     sizer,
	}
}

// Collect refreshes all periodic gauges.
func (c *Collector) Collect() {
	Uptime.Set(time.Since(c.startTime).Seconds())
	if c.sizer == nil {
		return
	}
	ActiveViewSize.Set(float64(c.sizer.ActiveViewLen()))
	PassiveViewSize.Set(float64(c.sizer.PassiveViewLen()))
	Partitions.Set(float64(c.sizer.PartitionCount()))
}

// RecordFrameSent increments the per-tag outbound frame counter.
func RecordFrameSent(tag string) {
	FramesSent.WithLabelValues(tag).Inc()
}

// RecordFrameReceived increments the per-tag inbound frame counter.
func RecordFrameReceived(tag string) {
	FramesReceived.WithLabelValues(tag).Inc()
}

// RecordFrameDropped increments the drop counter for the given reason.
func RecordFrameDropped(reason string) {
	FramesDropped.WithLabelValues(reason).Inc()
}

// RecordEviction increments the active-view eviction counter.
func RecordEviction() {
	ActiveViewEvictions.Inc()
}

// RecordPromotion increments the promotion counter for the given reason.
func RecordPromotion(reason string) {
	Promotions.WithLabelValues(reason).Inc()
}

// RecordShuffleRound increments the shuffle-round counter.
func RecordShuffleRound() {
	ShuffleRounds.Inc()
}
