package comm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spectrolab",
		Subsystem: "comm",
		Name:      "transactions_total",
		Help:      "Number of command/response transactions with remote devices.",
	}, []string{"addr", "result"})

	latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spectrolab",
		Subsystem: "comm",
		Name:      "transaction_seconds",
		Help:      "Time from transmission of a command to receipt of its full response.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"addr"})
)

func init() {
	prometheus.MustRegister(transactions, latency)
}

func observe(addr string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	transactions.WithLabelValues(addr, result).Inc()
	latency.WithLabelValues(addr).Observe(time.Since(start).Seconds())
}
