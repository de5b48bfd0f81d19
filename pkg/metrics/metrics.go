package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "retail"

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	})
}

// Saga holds the counters for both sides of the stock adjustment flow.
type Saga struct {
	Orders       *prometheus.CounterVec
	StockPublish *prometheus.CounterVec
	StockMessage *prometheus.CounterVec
	StockDeltas  *prometheus.CounterVec
}

func NewSaga(reg prometheus.Registerer) *Saga {
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Order workflow operations by result.",
	}, []string{"operation", "result"})
	publish := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_publish_total",
		Help:      "Stock adjustment publishes by message kind and result.",
	}, []string{"kind", "result"})
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_messages_total",
		Help:      "Stock adjustment messages consumed by outcome.",
	}, []string{"outcome"})
	deltas := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_deltas_total",
		Help:      "Per-product stock deltas applied by result.",
	}, []string{"result"})

	reg.MustRegister(orders, publish, messages, deltas)

	return &Saga{
		Orders:       orders,
		StockPublish: publish,
		StockMessage: messages,
		StockDeltas:  deltas,
	}
}

type HTTP struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer, service string) *HTTP {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})

	reg.MustRegister(requests, latency)
	return &HTTP{Requests: requests, LatencyMS: latency}
}
