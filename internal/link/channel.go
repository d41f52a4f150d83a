package link

import (
	"github.com/mailmindlin/MOEnet-2024/internal/codec"
	"github.com/mailmindlin/MOEnet-2024/internal/monitoring"
	"github.com/mailmindlin/MOEnet-2024/internal/nt"
)

// channel is one transform topic. Its direction comes from the current
// configuration; reads are deduplicated by source timestamp.
type channel[T any] struct {
	topic     string
	direction func(*NetworkTableConfig) TransformDirection
	sub       *nt.Subscriber[T]
	pub       *nt.Publisher[T]

	// lastTs is the server timestamp of the last accepted value, or never.
	lastTs int64
	// badTs is the timestamp of the last value that failed to decode, so the
	// same bad value is reported once.
	badTs int64
}

func newChannel[T any](t *nt.Table, topic string, c codec.Codec[T], dir func(*NetworkTableConfig) TransformDirection) *channel[T] {
	return &channel[T]{
		topic:     topic,
		direction: dir,
		sub:       nt.Subscribe[T](t, topic, c),
		pub:       nt.Publish[T](t, topic, c),
		lastTs:    never,
		badTs:     never,
	}
}

// read returns the newest value if this side subscribes to the channel and
// the value is newer than the last one accepted.
func (c *channel[T]) read(l *Link) (nt.Entry[T], bool) {
	var zero nt.Entry[T]
	_ = l.refreshConfigLocked() // logged
	dir := c.direction(l.ntConfigLocked())
	if dir != CamToRio {
		l.metrics.Read(c.topic, monitoring.ResultSkipped)
		return zero, false
	}

	e, ok, err := c.sub.GetAtomic()
	ts := e.Raw.Timestamp
	switch {
	case err != nil:
		if ts != c.badTs {
			c.badTs = ts
			monitoring.Warnf("%s: dropping %s: %v", l.name, c.topic, err)
		}
		l.metrics.Read(c.topic, monitoring.ResultError)
		return zero, false
	case !ok:
		l.metrics.Read(c.topic, monitoring.ResultEmpty)
		return zero, false
	case ts <= c.lastTs:
		l.metrics.Read(c.topic, monitoring.ResultStale)
		return zero, false
	}

	c.lastTs = ts
	l.record(c.sub.Key(), e.Raw)
	l.metrics.Read(c.topic, monitoring.ResultAccepted)
	return e, true
}

// write publishes v if a configuration is present and it makes this side the
// publisher. Otherwise v is dropped.
func (c *channel[T]) write(l *Link, v T) error {
	_ = l.refreshConfigLocked() // logged
	if l.config == nil || c.direction(&l.config.NT) != RioToCam {
		l.metrics.Write(c.topic, monitoring.ResultSkipped)
		return nil
	}
	if err := c.pub.Set(v); err != nil {
		l.metrics.Write(c.topic, monitoring.ResultError)
		return err
	}
	l.metrics.Write(c.topic, monitoring.ResultSent)
	return nil
}
