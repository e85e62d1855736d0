package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/codecast/internal/collab"
	"github.com/rickgao/codecast/internal/recorder"
)

const metricsNamespace = "codecast"

var states = []collab.State{
	collab.StateIdle,
	collab.StateConnecting,
	collab.StateConnected,
	collab.StateDisconnected,
}

var _ collab.Observer = (*Observer)(nil)

// Observer records collab client events.
type Observer struct {
	eventsTotal         *prometheus.CounterVec
	state               *prometheus.GaugeVec
	reconnectsTotal     prometheus.Counter
	publishDroppedTotal prometheus.Counter
	fallbackTotal       prometheus.Counter
}

// New creates an Observer and registers its metrics.
func New(registry prometheus.Registerer) *Observer {
	o := &Observer{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "events_total",
			Help:      "Total number of client events by kind",
		}, []string{"kind"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "state",
			Help:      "Current connection state (1 for the active state)",
		}, []string{"state"}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts",
		}),
		publishDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "publish_dropped_total",
			Help:      "Total number of publishes dropped while not connected",
		}),
		fallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "fallback_messages_total",
			Help:      "Total number of non-JSON bodies delivered in a fallback envelope",
		}),
	}
	registry.MustRegister(
		o.eventsTotal,
		o.state,
		o.reconnectsTotal,
		o.publishDroppedTotal,
		o.fallbackTotal,
	)
	o.setState(collab.StateIdle)
	return o
}

// Observe implements collab.Observer.
func (o *Observer) Observe(ev collab.Event) {
	o.eventsTotal.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case collab.EventStateChanged:
		o.setState(ev.To)
	case collab.EventReconnectScheduled:
		o.reconnectsTotal.Inc()
	case collab.EventPublishDropped:
		o.publishDroppedTotal.Inc()
	case collab.EventUndecodable:
		o.fallbackTotal.Inc()
	}
}

func (o *Observer) setState(current collab.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		o.state.WithLabelValues(s.String()).Set(v)
	}
}

// RegisterRecorder exports a recorder's counters, read from stats on scrape.
func RegisterRecorder(registry prometheus.Registerer, stats func() recorder.Stats) {
	counter := func(name, help string, value func(recorder.Stats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "recorder",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(stats())) })
	}

	registry.MustRegister(
		counter("received_total", "Total number of messages handed to the recorder",
			func(s recorder.Stats) int64 { return s.Received }),
		counter("inserts_total", "Total number of rows inserted",
			func(s recorder.Stats) int64 { return s.Inserts }),
		counter("conflicts_total", "Total number of rows skipped as duplicates",
			func(s recorder.Stats) int64 { return s.Conflicts }),
		counter("flushes_total", "Total number of successful batch flushes",
			func(s recorder.Stats) int64 { return s.Flushes }),
		counter("errors_total", "Total number of failed batch flushes",
			func(s recorder.Stats) int64 { return s.Errors }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "recorder",
			Name:      "queue_length",
			Help:      "Messages waiting to be batched",
		}, func() float64 { return float64(stats().Queued) }),
	)
}
