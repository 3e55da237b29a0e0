// Package metrics define las métricas Prometheus del provider. Paquete
// standalone para evitar ciclos de import entre flow y HTTP.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	flowBeginTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_begin_total",
		Help: "Invocaciones del paso begin por resultado",
	}, []string{"outcome"}) // outcome: excluded|challenge|error

	flowResumeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_resume_total",
		Help: "Invocaciones del paso resume por resultado",
	}, []string{"outcome"}) // outcome: success|challenge|cancelled|error

	challengesTriggeredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "challenges_triggered_total",
		Help: "Challenges emitidos por el servidor MFA, por tipo",
	}, []string{"type"})

	remoteRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remote_request_duration_seconds",
		Help:    "Latencia de las llamadas al servidor MFA",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// Register registra las métricas en el registry dado (o el default si es nil)
// y devuelve el handler para /metrics.
func Register(reg prometheus.Registerer) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		flowBeginTotal,
		flowResumeTotal,
		challengesTriggeredTotal,
		remoteRequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return promhttp.Handler(), nil
}

// FlowBegin cuenta un paso begin.
func FlowBegin(outcome string) {
	flowBeginTotal.WithLabelValues(outcome).Inc()
}

// FlowResume cuenta un paso resume.
func FlowResume(outcome string) {
	flowResumeTotal.WithLabelValues(outcome).Inc()
}

// ChallengeTriggered cuenta un challenge emitido, por tipo de token.
func ChallengeTriggered(tokenType string) {
	challengesTriggeredTotal.WithLabelValues(tokenType).Inc()
}

// ObserveRemote registra la duración de una llamada remota.
func ObserveRemote(op string, d time.Duration) {
	remoteRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}
