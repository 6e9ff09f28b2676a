package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	purchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_total",
			Help: "Purchase attempts by outcome",
		},
		[]string{"outcome"},
	)

	purchaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "purchase_duration_seconds",
			Help:    "End to end duration of the purchase workflow",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	paymentChargeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_charge_duration_seconds",
			Help:    "Duration of payment gateway charges",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"result"},
	)

	holdsReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "purchase_holds_released_total",
			Help: "Pending purchases cancelled by the hold sweeper",
		},
	)

	settlementsLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "purchase_settlements_lost_total",
			Help: "Successful charges whose settlement did not commit after every attempt",
		},
	)

	settlementsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "purchase_settlements_recovered_total",
			Help: "Charged pending purchases completed by the hold sweeper",
		},
	)
)

// outcome maps a workflow error to a low cardinality label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "paid"
	case errors.Is(err, ErrInvalidPurchase):
		return "invalid"
	case errors.Is(err, ErrCustomerNotFound):
		return "customer_not_found"
	case errors.Is(err, ErrTicketsNotFound):
		return "tickets_not_found"
	case errors.Is(err, ErrTicketsUnavailable):
		return "tickets_unavailable"
	case errors.Is(err, ErrPaymentDeclined):
		return "payment_declined"
	case errors.Is(err, ErrPaymentTimeout):
		return "payment_timeout"
	case errors.Is(err, ErrPaymentUnavailable):
		return "payment_unavailable"
	default:
		return "persistence_error"
	}
}

func observePurchase(err error, d time.Duration) {
	o := outcome(err)
	purchasesTotal.WithLabelValues(o).Inc()
	purchaseDuration.WithLabelValues(o).Observe(d.Seconds())
}

func observeCharge(err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	paymentChargeDuration.WithLabelValues(result).Observe(d.Seconds())
}
