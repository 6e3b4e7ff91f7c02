// Package metrics exports Prometheus metrics for the session controller.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halef_registrations_total",
		Help: "Registration attempts by terminal outcome (registered, failed).",
	}, []string{"outcome"})

	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halef_calls_total",
		Help: "Calls by outcome (dialed, established, ended, rejected).",
	}, []string{"outcome"})

	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "halef_active_calls",
		Help: "Number of live call sessions (0 or 1).",
	})

	feedbackMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "halef_feedback_messages_total",
		Help: "Feedback messages delivered from the event channel.",
	})
)

func RegistrationOutcome(outcome string) {
	registrationsTotal.WithLabelValues(outcome).Inc()
}

func CallDialed() {
	callsTotal.WithLabelValues("dialed").Inc()
	activeCalls.Set(1)
}

func CallEstablished() {
	callsTotal.WithLabelValues("established").Inc()
}

func CallEnded() {
	callsTotal.WithLabelValues("ended").Inc()
	activeCalls.Set(0)
}

func CallRejected() {
	callsTotal.WithLabelValues("rejected").Inc()
}

func FeedbackMessage() {
	feedbackMessagesTotal.Inc()
}

// Serve exposes /metrics on addr. It blocks like http.ListenAndServe.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
