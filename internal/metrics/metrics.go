// Package metrics содержит Prometheus-метрики сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal считает HTTP-запросы по методу, шаблону маршрута и коду ответа.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucherhub_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration измеряет длительность обработки HTTP-запросов.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voucherhub_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// VoucherUnitsTotal считает единицы ваучеров, прошедшие через операции передачи.
	VoucherUnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucherhub_voucher_units_total",
			Help: "Voucher units moved by stock transfer operations.",
		},
		[]string{"operation"},
	)
)

// Операции, по которым считаются единицы ваучеров.
const (
	OperationDistribute = "distribute"
	OperationSell       = "sell"
	OperationRedeem     = "redeem"
)
