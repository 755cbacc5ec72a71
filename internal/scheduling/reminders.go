package scheduling

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReminderScheduler drives reminder side effects. It owns one fire-once
// timer per appointment, keyed by appointment identity; re-scheduling always
// tears the previous timer down first so a moved or cancelled appointment
// can never produce a stale notification. It is not authoritative state:
// firing times are re-derived from the appointment whenever it changes.
type ReminderScheduler struct {
	dispatcher ReminderDispatcher
	clock      Clock
	metrics    *Metrics

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	gens   map[uuid.UUID]uint64
}

func NewReminderScheduler(dispatcher ReminderDispatcher, clock Clock, metrics *Metrics) *ReminderScheduler {
	if clock == nil {
		clock = SystemClock()
	}
	return &ReminderScheduler{
		dispatcher: dispatcher,
		clock:      clock,
		metrics:    metrics,
		timers:     make(map[uuid.UUID]*time.Timer),
		gens:       make(map[uuid.UUID]uint64),
	}
}

// FiringTimes derives the reminder instants for an appointment, earliest
// first, from its configured offsets.
func FiringTimes(appt *Appointment) []time.Time {
	if !appt.Reminders.Enabled {
		return nil
	}
	start := appt.StartAt()
	times := make([]time.Time, 0, len(appt.Reminders.OffsetsMinutes))
	for _, offset := range appt.Reminders.OffsetsMinutes {
		times = append(times, start.Add(-time.Duration(offset)*time.Minute))
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

// Schedule installs the appointment's reminder timer, replacing any timer
// already keyed to it.
func (r *ReminderScheduler) Schedule(appt *Appointment) {
	gen := r.invalidate(appt.ID)
	if r.dispatcher == nil {
		return
	}

	now := r.clock.Now()
	var pending []time.Time
	for _, at := range FiringTimes(appt) {
		if at.After(now) {
			pending = append(pending, at)
		}
	}
	if len(pending) == 0 {
		return
	}

	id := appt.ID
	channels := append([]ReminderChannel(nil), appt.Reminders.Channels...)
	r.arm(id, channels, pending, gen)
}

// Cancel tears down the appointment's timer if one is armed.
func (r *ReminderScheduler) Cancel(appointmentID uuid.UUID) {
	r.invalidate(appointmentID)
}

// invalidate stops any armed timer and bumps the appointment's generation
// so an in-flight firing cannot fire or re-arm on a stale schedule.
func (r *ReminderScheduler) invalidate(id uuid.UUID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	r.gens[id]++
	return r.gens[id]
}

// Stop tears down every armed timer. Used on shutdown.
func (r *ReminderScheduler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	for id := range r.gens {
		r.gens[id]++
	}
}

// arm installs a single timer for the earliest pending instant; when it
// fires, the next instant is armed, so there is never more than one live
// timer per appointment. The generation check makes a Cancel or Schedule
// that raced the firing win: the stale callback neither fires nor re-arms.
func (r *ReminderScheduler) arm(id uuid.UUID, channels []ReminderChannel, pending []time.Time, gen uint64) {
	delay := pending[0].Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[id] != gen {
		return
	}
	r.timers[id] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		live := r.gens[id] == gen
		if live {
			delete(r.timers, id)
		}
		r.mu.Unlock()
		if !live {
			return
		}

		r.fire(id, channels)

		if rest := pending[1:]; len(rest) > 0 {
			r.arm(id, channels, rest, gen)
		}
	})
}

func (r *ReminderScheduler) fire(id uuid.UUID, channels []ReminderChannel) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, ch := range channels {
		if err := r.dispatcher.SendReminder(ctx, id, ch); err != nil {
			log.Printf("reminder dispatch failed appointment=%s channel=%s: %v", id, ch, err)
			continue
		}
		r.metrics.ObserveReminder(ch)
	}
}
