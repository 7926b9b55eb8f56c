package call

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "peercall"

type metrics struct {
	messagesSent     prometheus.Counter
	messagesReceived prometheus.Counter
	framesDropped    prometheus.Counter
	decryptFailures  prometheus.Counter
	reconnects       prometheus.Counter
	gauges           []prometheus.GaugeFunc
}

func newMetrics(s *Session) *metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "call",
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string, value func(State) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "call",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return value(s.State())
		})
	}

	return &metrics{
		messagesSent:     counter("messages_sent_total", "chat messages sent"),
		messagesReceived: counter("messages_received_total", "chat messages received and decrypted"),
		framesDropped:    counter("frames_dropped_total", "inbound frames dropped as malformed or premature"),
		decryptFailures:  counter("decrypt_failures_total", "inbound messages that failed authentication"),
		reconnects:       counter("reconnects_total", "times the link dropped while connected"),
		gauges: []prometheus.GaugeFunc{
			gauge("phase", "lifecycle phase, 0 idle through 8 disconnected", func(st State) float64 {
				return float64(st.Phase)
			}),
			gauge("quality", "link quality, 0 unknown, 1 excellent through 4 poor", func(st State) float64 {
				return float64(st.Quality)
			}),
			gauge("reconnect_attempts", "attempts made by the running reconnect supervisor", func(st State) float64 {
				return float64(st.ReconnectAttempts)
			}),
			gauge("secured", "1 once the chat key is established", func(st State) float64 {
				if st.SecretEstablished {
					return 1
				}
				return 0
			}),
		},
	}
}

// RegisterMetrics exposes the session's counters and gauges on reg
func (s *Session) RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		s.metrics.messagesSent,
		s.metrics.messagesReceived,
		s.metrics.framesDropped,
		s.metrics.decryptFailures,
		s.metrics.reconnects,
	}
	for _, g := range s.metrics.gauges {
		collectors = append(collectors, g)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
