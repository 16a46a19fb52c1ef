package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi kasir.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	checkoutsTotal  *prometheus.CounterVec
	salesAmount     prometheus.Counter
	negativeStock   prometheus.Counter
}

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik checkout.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_pos_checkouts_total",
		Help: "Jumlah checkout berdasarkan hasil (paid, failed, duplicate).",
	}, []string{"outcome"})
	sales := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_pos_sales_amount_total",
		Help: "Total nilai penjualan yang dibayar, dalam satuan mata uang terkecil.",
	})
	negative := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_pos_negative_stock_total",
		Help: "Jumlah produk yang stoknya menjadi negatif setelah checkout.",
	})
	registry.MustRegister(requests, duration, checkouts, sales, negative)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		checkoutsTotal:  checkouts,
		salesAmount:     sales,
		negativeStock:   negative,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveCheckout mencatat hasil checkout beserta nilai penjualannya.
func (m *Metrics) ObserveCheckout(outcome string, total int64) {
	if m == nil {
		return
	}
	m.checkoutsTotal.WithLabelValues(outcome).Inc()
	if total > 0 {
		m.salesAmount.Add(float64(total))
	}
}

// ObserveNegativeStock mencatat produk yang stoknya negatif.
func (m *Metrics) ObserveNegativeStock(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.negativeStock.Add(float64(count))
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
