package linklayer

import (
	"time"

	"github.com/signalsfoundry/blesim/internal/frame"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const windowSpanName = "linklayer.TransmitWindow"

func (lm *LinkManager) windowAttrs(skipped bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("device", lm.Baseband().Address().String()),
		attribute.Int("manager", int(lm.id)),
		attribute.Int("link", int(lm.link)),
		attribute.String("role", lm.role.String()),
		attribute.Int("channel", int(lm.currentChannel)),
		attribute.Int("conn_event", int(lm.connEventCounter)),
		attribute.Bool("skipped", skipped),
	}
}

// startWindowSpan opens a span stamped with simulated time.
func (lm *LinkManager) startWindowSpan(now time.Time) {
	lm.endWindowSpan(now)
	_, lm.span = lm.net.tracer.Start(lm.ctx(), windowSpanName,
		trace.WithTimestamp(now),
		trace.WithAttributes(lm.windowAttrs(false)...),
	)
}

func (lm *LinkManager) endWindowSpan(now time.Time) {
	if lm.span == nil {
		return
	}
	lm.span.End(trace.WithTimestamp(now))
	lm.span = nil
}

func (lm *LinkManager) recordSkippedWindow(now time.Time, active *LinkManager) {
	attrs := append(lm.windowAttrs(true), attribute.Int("active_manager", int(active.id)))
	_, span := lm.net.tracer.Start(lm.ctx(), windowSpanName,
		trace.WithTimestamp(now),
		trace.WithAttributes(attrs...),
	)
	span.End(trace.WithTimestamp(now))
}

func (lm *LinkManager) addSpanEvent(name string, h frame.Header, resend bool) {
	if lm.span == nil {
		return
	}
	lm.span.AddEvent(name,
		trace.WithTimestamp(lm.now()),
		trace.WithAttributes(
			attribute.String("src", h.Src.String()),
			attribute.String("dst", h.Dst.String()),
			attribute.String("llid", h.LLID.String()),
			attribute.Bool("sn", h.SN),
			attribute.Bool("nesn", h.NESN),
			attribute.Bool("md", h.MD),
			attribute.Bool("retransmission", resend),
		),
	)
}
