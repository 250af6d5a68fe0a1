// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "battlezone"

// Metrics holds every collector of the engine. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	battles        *prometheus.CounterVec
	joins          *prometheus.CounterVec
	xpAwarded      prometheus.Counter
	levelUps       prometheus.Counter
	achievements   prometheus.Counter
	dailyClaims    prometheus.Counter
	notifyDropped  *prometheus.CounterVec
	notifyFailed   *prometheus.CounterVec
	jobRuns        *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	commandLimited prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry together
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		battles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battles_total",
			Help:      "Battle lifecycle transitions by resulting status.",
		}, []string{"status"}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battle_joins_total",
			Help:      "Join attempts by outcome.",
		}, []string{"outcome"}),
		xpAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "Experience points granted to players.",
		}),
		levelUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Levels gained by players.",
		}),
		achievements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_completed_total",
			Help:      "Achievements completed.",
		}),
		dailyClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_rewards_claimed_total",
			Help:      "Daily streak rewards claimed.",
		}),
		notifyDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications discarded before delivery.",
		}, []string{"type"}),
		notifyFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Notifications the sink failed to deliver.",
		}, []string{"type"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background job runs by job and result.",
		}, []string{"job", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Admin API requests.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Admin API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		commandLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_commands_rate_limited_total",
			Help:      "Bot commands rejected by the per-player rate limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.battles,
		m.joins,
		m.xpAwarded,
		m.levelUps,
		m.achievements,
		m.dailyClaims,
		m.notifyDropped,
		m.notifyFailed,
		m.jobRuns,
		m.httpRequests,
		m.httpDuration,
		m.commandLimited,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// BattleTransition counts a battle reaching status.
func (m *Metrics) BattleTransition(status string) {
	if m == nil {
		return
	}
	m.battles.WithLabelValues(status).Inc()
}

// JoinOutcome counts a join attempt. outcome is "ok" or a short error class.
func (m *Metrics) JoinOutcome(outcome string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(outcome).Inc()
}

// XPAwarded counts granted XP and levels gained.
func (m *Metrics) XPAwarded(amount int64, levels int) {
	if m == nil {
		return
	}
	if amount > 0 {
		m.xpAwarded.Add(float64(amount))
	}
	if levels > 0 {
		m.levelUps.Add(float64(levels))
	}
}

// AchievementCompleted counts one completed achievement.
func (m *Metrics) AchievementCompleted() {
	if m == nil {
		return
	}
	m.achievements.Inc()
}

// DailyRewardClaimed counts one daily claim.
func (m *Metrics) DailyRewardClaimed() {
	if m == nil {
		return
	}
	m.dailyClaims.Inc()
}

// NotificationDropped counts a discarded notification.
func (m *Metrics) NotificationDropped(eventType string) {
	if m == nil {
		return
	}
	m.notifyDropped.WithLabelValues(eventType).Inc()
}

// NotificationFailed counts a failed delivery.
func (m *Metrics) NotificationFailed(eventType string) {
	if m == nil {
		return
	}
	m.notifyFailed.WithLabelValues(eventType).Inc()
}

// JobRun counts one background job execution.
func (m *Metrics) JobRun(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

// CommandRateLimited counts one rejected bot command.
func (m *Metrics) CommandRateLimited() {
	if m == nil {
		return
	}
	m.commandLimited.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by chi route pattern,
// so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
