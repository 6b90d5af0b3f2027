package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	debatesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_debates_submitted_total",
		Help: "Debates accepted for execution, by mode.",
	}, []string{"mode"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_submissions_rate_limited_total",
		Help: "Submissions rejected by a quota or rate limit, by code.",
	}, []string{"code"})

	sseClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_sse_clients",
		Help: "Currently connected SSE stream clients.",
	})
)
