package metrics

import (
	"errors"
	"net/http"
	"time"

	"gilded/internal/economy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the bot's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gilded",
			Subsystem: "bot",
			Name:      "commands_total",
			Help:      "Chat commands handled, by command and outcome.",
		},
		[]string{"command", "outcome"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gilded",
			Subsystem: "bot",
			Name:      "command_duration_seconds",
			Help:      "Time spent handling a chat command.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"command"},
	)

	purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gilded",
			Subsystem: "market",
			Name:      "purchases_total",
			Help:      "Black market purchases, by item.",
		},
		[]string{"item"},
	)

	goldSpent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gilded",
			Subsystem: "market",
			Name:      "gold_spent_total",
			Help:      "Gold spent on the black market.",
		},
	)

	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gilded",
			Subsystem: "session",
			Name:      "runs_total",
			Help:      "Session runs, by outcome.",
		},
		[]string{"outcome"},
	)

	persistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gilded",
			Subsystem: "store",
			Name:      "write_failures_total",
			Help:      "Mutations aborted because the snapshot could not be saved.",
		},
	)

	throttled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gilded",
			Subsystem: "bot",
			Name:      "throttled_total",
			Help:      "Commands dropped by the per-player rate limiter.",
		},
	)
)

func init() {
	Registry.MustRegister(commands, commandDuration, purchases, goldSpent, sessions, persistFailures, throttled)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveCommand records one handled command. err classifies the outcome.
func ObserveCommand(command string, started time.Time, err error) {
	commands.WithLabelValues(command, Outcome(err)).Inc()
	commandDuration.WithLabelValues(command).Observe(time.Since(started).Seconds())
}

// ObserveStoreFailure counts one failed snapshot save. It is meant for
// economy.Bank.OnSaveFailure.
func ObserveStoreFailure(error) {
	persistFailures.Inc()
}

func ObservePurchase(item economy.MarketItem) {
	purchases.WithLabelValues(item.Name).Inc()
	goldSpent.Add(float64(item.Cost))
}

func ObserveSession(err error) {
	sessions.WithLabelValues(Outcome(err)).Inc()
}

func ObserveThrottled() {
	throttled.Inc()
}

// Outcome maps an error onto a small, fixed label set.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, economy.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, economy.ErrPersistenceWriteFailed):
		return "store_error"
	case errors.Is(err, economy.ErrAccountNotFound),
		errors.Is(err, economy.ErrUnknownSubscriptionPlan),
		errors.Is(err, economy.ErrInsufficientFunds),
		errors.Is(err, economy.ErrItemNotOffered),
		errors.Is(err, economy.ErrInvalidAmount),
		errors.Is(err, economy.ErrInvalidPlayer),
		errors.Is(err, economy.ErrNotSubscribed):
		return "rejected"
	default:
		return "error"
	}
}
