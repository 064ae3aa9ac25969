package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "lobby"

var (
	bufferAppends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "buffer_appends_total",
		Help:      "Messages appended to room buffers.",
	})
	flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "flushes_total",
		Help:      "Room buffer flushes by result.",
	}, []string{"result"})
	flushedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "flushed_messages_total",
		Help:      "Messages moved from room buffers to the message store.",
	})
	flushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "flush_duration_seconds",
		Help:      "Time spent flushing a room buffer.",
		Buckets:   prometheus.DefBuckets,
	})
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "ws_connections",
		Help:      "Open websocket connections.",
	})
	inboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "ws_events_total",
		Help:      "Inbound websocket events by type and result.",
	}, []string{"type", "result"})
	droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "ws_dropped_events_total",
		Help:      "Websocket events dropped by reason.",
	}, []string{"reason"})
	notificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "notification_failures_total",
		Help:      "Notifications the sink failed to accept.",
	})
	blobDeleteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "blob_delete_failures_total",
		Help:      "Attachments left behind after their message was erased.",
	})
)
