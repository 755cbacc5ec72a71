package scheduling

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters for the scheduling core. A nil *Metrics is a
// valid no-op receiver so wiring stays optional in tests and tools.
type Metrics struct {
	bookingsTotal        *prometheus.CounterVec
	seriesInstancesTotal *prometheus.CounterVec
	claimsTotal          *prometheus.CounterVec
	remindersSentTotal   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"result"}),
		seriesInstancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "recurrence_instances_total",
			Help:      "Recurrence expansion instances by outcome",
		}, []string{"outcome"}),
		claimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "claims_total",
			Help:      "Claim handoffs by status",
		}, []string{"status"}),
		remindersSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "reminders_sent_total",
			Help:      "Reminders dispatched by channel",
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.seriesInstancesTotal, m.claimsTotal, m.remindersSentTotal)
	return m
}

func (m *Metrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSeriesInstance(outcome string) {
	if m == nil {
		return
	}
	m.seriesInstancesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveClaim(status string) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveReminder(channel ReminderChannel) {
	if m == nil {
		return
	}
	m.remindersSentTotal.WithLabelValues(string(channel)).Inc()
}
