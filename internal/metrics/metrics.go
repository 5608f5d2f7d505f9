package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "motorcart"

// Metrics 业务与 HTTP 指标，nil 接收者上的方法均为空操作
type Metrics struct {
	registry *prometheus.Registry

	Requests      *prometheus.CounterVec
	LatencyMS     *prometheus.HistogramVec
	Reservations  *prometheus.CounterVec
	Expired       prometheus.Counter
	Checkouts     *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	PaymentEvents *prometheus.CounterVec
}

// New 创建独立注册表上的指标集合
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "reservations_total",
			Help:      "Inventory reservation operations by action and result.",
		}, []string{"action", "result"}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "reservations_expired_total",
			Help:      "Reservations reclaimed after their TTL elapsed.",
		}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "order",
			Name:      "checkouts_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "order",
			Name:      "status_transitions_total",
			Help:      "Applied order status transitions.",
		}, []string{"dimension", "to"}),
		PaymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "events_total",
			Help:      "Payment gateway events by type and result.",
		}, []string{"type", "result"}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.LatencyMS, m.Reservations, m.Expired, m.Checkouts, m.Transitions, m.PaymentEvents,
	)
	return m
}

// Handler 指标抓取端点
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest 记录 HTTP 请求
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))
}

// ObserveReservation 记录预占操作
func (m *Metrics) ObserveReservation(action, result string) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(action, result).Inc()
}

// AddExpired 累加过期回收数量
func (m *Metrics) AddExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.Expired.Add(float64(count))
}

// ObserveCheckout 记录结算结果
func (m *Metrics) ObserveCheckout(result string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
}

// ObserveTransition 记录状态流转
func (m *Metrics) ObserveTransition(dimension, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(dimension, to).Inc()
}

// ObservePaymentEvent 记录支付事件
func (m *Metrics) ObservePaymentEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.PaymentEvents.WithLabelValues(eventType, result).Inc()
}
