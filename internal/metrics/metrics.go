package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "instance_identity"

// Metrics holds the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	tokensIssued        *prometheus.CounterVec
	signDuration        prometheus.Histogram
	rotations           *prometheus.CounterVec
	persistenceFailures prometheus.Counter
	jwksKeys            prometheus.Gauge
	notifyFailures      prometheus.Counter
	directoryLookups    *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Identity tokens issued, by signing algorithm and result.",
		}, []string{"alg", "result"}),
		signDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_sign_duration_seconds",
			Help:      "Time spent signing a token.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "Signing key rotations, including the initial key.",
		}, []string{"alg"}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_persistence_failures_total",
			Help:      "Failed writes of the public key set to the state store.",
		}),
		jwksKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jwks_keys",
			Help:      "Public keys currently published in the JWKS.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotation_notify_failures_total",
			Help:      "Rotation events that could not be published.",
		}),
		directoryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_lookups_total",
			Help:      "Project name lookups, by source (cache or directory) and result.",
		}, []string{"source", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	for _, c := range []prometheus.Collector{
		m.tokensIssued, m.signDuration, m.rotations, m.persistenceFailures, m.jwksKeys,
		m.notifyFailures, m.directoryLookups, m.httpRequests, m.httpDuration,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) TokenIssued(alg string, d time.Duration) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(alg, "success").Inc()
	m.signDuration.Observe(d.Seconds())
}

func (m *Metrics) TokenFailed(alg string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(alg, "failure").Inc()
}

// KeyRotated records a rotation and the resulting size of the published key set.
func (m *Metrics) KeyRotated(alg string, keys int) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(alg).Inc()
	m.jwksKeys.Set(float64(keys))
}

func (m *Metrics) PersistenceFailed() {
	if m == nil {
		return
	}
	m.persistenceFailures.Inc()
}

func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) DirectoryLookup(source string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.directoryLookups.WithLabelValues(source, result).Inc()
}

// Middleware counts requests per route. Paths outside knownPaths are reported as "other".
func (m *Metrics) Middleware(knownPaths ...string) func(http.Handler) http.Handler {
	known := make(map[string]struct{}, len(knownPaths))
	for _, p := range knownPaths {
		known[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := "other"
			if _, ok := known[r.URL.Path]; ok {
				path = r.URL.Path
			}
			method := methodLabel(r.Method)
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			defer func() {
				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
				m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

var standardMethods = map[string]struct{}{
	http.MethodGet: {}, http.MethodHead: {}, http.MethodPost: {}, http.MethodPut: {},
	http.MethodPatch: {}, http.MethodDelete: {}, http.MethodConnect: {}, http.MethodOptions: {},
	http.MethodTrace: {},
}

// methodLabel keeps the method label bounded; clients may send any token as a method.
func methodLabel(method string) string {
	method = strings.ToUpper(method)
	if _, ok := standardMethods[method]; ok {
		return method
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
