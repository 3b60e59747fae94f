// Package recordingqueue implements RecordingQueue: admission control over
// the fixed RAM/CPU budget of the ghost recorder fleet. It tracks the count
// of active recordings, a strict FIFO wait list, and emits operator alerts
// under sustained pressure.
//
// The bounded, create/destroy-on-demand bookkeeping here follows the same
// single-mutex-over-a-small-map shape used elsewhere in this codebase for
// live in-memory registries; unlike that structure, entries here are
// ordered and renumbered rather than keyed by a stable id lookup alone.
package recordingqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/familyspace/callcore/internal/callstate"
)

// averageCallMinutes is the assumed average recording duration used for
// wait-time estimation. Advisory only.
const averageCallMinutes = 10

// ErrNotInQueue is returned by Position/CheckTurn/Leave for an unknown
// queue id.
var ErrNotInQueue = errors.New("recordingqueue: queue entry not found")

// ErrAtCapacity is never returned to callers as an error — admission at
// capacity is expressed via AdmitResult.NeedsQueue. No Queue method returns
// or logs it.
var ErrAtCapacity = errors.New("recordingqueue: at capacity")

// Notifier is the minimal capability RecordingQueue needs to alert
// operators on sustained pressure. internal/notifier's senders satisfy this
// structurally.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

// Config holds the tunables from SPEC_FULL.md §6.
type Config struct {
	MaxConcurrent   int
	QueueTimeout    time.Duration
	CleanupInterval time.Duration
	AlertCooldown   time.Duration
	AlertRecipient  string
}

// Entry is one QueueEntry: a caller waiting for a recorder slot.
type Entry struct {
	QueueID               string
	UserID                string
	GroupID               string
	Kind                  callstate.Kind
	IntendedParticipants  []string
	DisplayName           string
	Email                 string
	EnqueuedAt            time.Time
}

// Status is a snapshot of queue/capacity state.
type Status struct {
	Active         int
	Max            int
	QueueLen       int
	AvailableSlots int
	AtCapacity     bool
}

// AdmitResult is the outcome of Admit.
type AdmitResult struct {
	NeedsQueue           bool
	QueueID              string
	Position             int
	TotalInQueue         int
	EstimatedWaitMinutes int
}

// PositionSnapshot describes a queued entry's current standing.
type PositionSnapshot struct {
	QueueID              string
	Position             int
	TotalInQueue         int
	EstimatedWaitMinutes int
}

// Queue is the RecordingQueue. All state is guarded by one mutex; every
// operation is a small, bounded, non-suspending critical section, with any
// Notifier call made after the lock is released.
type Queue struct {
	mu           sync.Mutex
	active       int
	entries      []*Entry
	lastAlertAt  time.Time
	cfg          Config
	notifier     Notifier
	logger       *slog.Logger
}

// New creates a Queue. notifier may be nil, in which case alerts are
// skipped (logged at debug level).
func New(cfg Config, notifier Notifier, logger *slog.Logger) *Queue {
	return &Queue{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With("subsystem", "recording-queue"),
	}
}

// Status returns a snapshot of current capacity and queue length.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

func (q *Queue) statusLocked() Status {
	available := q.cfg.MaxConcurrent - q.active
	if available < 0 {
		available = 0
	}
	return Status{
		Active:         q.active,
		Max:            q.cfg.MaxConcurrent,
		QueueLen:       len(q.entries),
		AvailableSlots: available,
		AtCapacity:     q.active >= q.cfg.MaxConcurrent,
	}
}

// Admit attempts to admit a new recording request. If capacity is
// available and the queue is empty, it reports NeedsQueue=false (the
// caller may proceed directly to RecorderCoordinator.start). Otherwise it
// enqueues (or returns the caller's existing entry, deduplicated on
// (userID, kind)) and reports position/estimated wait.
func (q *Queue) Admit(ctx context.Context, userID, groupID string, kind callstate.Kind, intended []string, displayName, email string) (AdmitResult, error) {
	var (
		shouldAlert  bool
		alertSummary string
	)

	result := func() AdmitResult {
		q.mu.Lock()
		defer q.mu.Unlock()

		if existing, pos := q.findLocked(userID, kind); existing != nil {
			return AdmitResult{
				NeedsQueue:           true,
				QueueID:              existing.QueueID,
				Position:             pos,
				TotalInQueue:         len(q.entries),
				EstimatedWaitMinutes: estimateWait(pos, q.cfg.MaxConcurrent),
			}
		}

		if q.active < q.cfg.MaxConcurrent && len(q.entries) == 0 {
			q.active++
			return AdmitResult{NeedsQueue: false}
		}

		entry := &Entry{
			QueueID:              uuid.NewString(),
			UserID:               userID,
			GroupID:              groupID,
			Kind:                 kind,
			IntendedParticipants: intended,
			DisplayName:          displayName,
			Email:                email,
			EnqueuedAt:           time.Now(),
		}
		q.entries = append(q.entries, entry)
		pos := len(q.entries)

		if q.cfg.AlertRecipient != "" && time.Since(q.lastAlertAt) >= q.cfg.AlertCooldown {
			q.lastAlertAt = time.Now()
			shouldAlert = true
			alertSummary = fmt.Sprintf(
				"recording queue under pressure: user %s enqueued (kind=%s) at position %d/%d; %d/%d recorder slots in use",
				userID, kind, pos, len(q.entries), q.active, q.cfg.MaxConcurrent,
			)
		}

		return AdmitResult{
			NeedsQueue:           true,
			QueueID:              entry.QueueID,
			Position:             pos,
			TotalInQueue:         len(q.entries),
			EstimatedWaitMinutes: estimateWait(pos, q.cfg.MaxConcurrent),
		}
	}()

	if shouldAlert {
		q.sendAlert(ctx, alertSummary)
	}

	return result, nil
}

func (q *Queue) sendAlert(ctx context.Context, body string) {
	if q.notifier == nil {
		q.logger.Debug("queue pressure alert suppressed: no notifier configured", "body", body)
		return
	}
	if err := q.notifier.Notify(ctx, q.cfg.AlertRecipient, "recording queue at capacity", body); err != nil {
		q.logger.Error("failed to notify operator of queue pressure", "error", err)
	}
}

// findLocked returns the caller's existing entry and its 1-based position,
// or (nil, 0).
func (q *Queue) findLocked(userID string, kind callstate.Kind) (*Entry, int) {
	for i, e := range q.entries {
		if e.UserID == userID && e.Kind == kind {
			return e, i + 1
		}
	}
	return nil, 0
}

// Leave removes a queue entry by id and renumbers the remainder.
func (q *Queue) Leave(queueID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.QueueID == queueID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return ErrNotInQueue
}

// LeaveByUser removes the (userID, kind) entry, if any.
func (q *Queue) LeaveByUser(userID string, kind callstate.Kind) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.UserID == userID && e.Kind == kind {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return ErrNotInQueue
}

// Position returns a snapshot of the entry's wait state.
func (q *Queue) Position(queueID string) (PositionSnapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.QueueID == queueID {
			pos := i + 1
			return PositionSnapshot{
				QueueID:              queueID,
				Position:             pos,
				TotalInQueue:         len(q.entries),
				EstimatedWaitMinutes: estimateWait(pos, q.cfg.MaxConcurrent),
			}, nil
		}
	}
	return PositionSnapshot{}, ErrNotInQueue
}

// CheckTurn reports whether the entry is now first in line with an
// available slot.
func (q *Queue) CheckTurn(queueID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.QueueID == queueID {
			return i == 0 && q.active < q.cfg.MaxConcurrent, nil
		}
	}
	return false, ErrNotInQueue
}

// RecordingStarted increments the active count and removes the user's
// queue entry, if present. Invoked by RecorderCoordinator once a start is
// admitted.
func (q *Queue) RecordingStarted(userID string, kind callstate.Kind) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active++
	for i, e := range q.entries {
		if e.UserID == userID && e.Kind == kind {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
}

// RecordingEnded decrements the active count, clamped at zero.
func (q *Queue) RecordingEnded() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active > 0 {
		q.active--
	}
}

// SyncActive authoritatively resets the active count, e.g. on startup or
// periodic reconciliation against the RecorderBackend.
func (q *Queue) SyncActive(count int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if count < 0 {
		count = 0
	}
	q.active = count
}

// Sweep drops entries whose wait exceeds QueueTimeout. Positions are
// implicitly renumbered since position is derived from slice index.
func (q *Queue) Sweep(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := now.Add(-q.cfg.QueueTimeout)
	kept := q.entries[:0]
	dropped := 0
	for _, e := range q.entries {
		if e.EnqueuedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	if dropped > 0 {
		q.logger.Info("recording queue sweep dropped timed-out entries", "dropped", dropped)
	}
}

// StartSweeper runs Sweep on the configured cleanup interval until ctx is
// cancelled.
func (q *Queue) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(q.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.Sweep(time.Now())
			}
		}
	}()
}

func estimateWait(position, maxConcurrent int) int {
	if maxConcurrent <= 0 {
		return 0
	}
	return int(math.Ceil(float64(position) / float64(maxConcurrent) * averageCallMinutes))
}
