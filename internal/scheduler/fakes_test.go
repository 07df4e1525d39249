package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/reminders/internal/channel"
	"github.com/lalithlochan/reminders/internal/db"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testUser struct {
	Name, Email, Phone string
}

// memStore mirrors the SQL semantics of db.Repository.
type memStore struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*db.TaskNotification
	order     []uuid.UUID
	tasks     map[uuid.UUID]*db.Task
	users     map[uuid.UUID]testUser
	settings  map[uuid.UUID]*db.OrganizationSettings
	mutations map[uuid.UUID]int

	claimErr  error
	recordErr error
	onClaim   func()
}

func newMemStore() *memStore {
	return &memStore{
		rows:      make(map[uuid.UUID]*db.TaskNotification),
		tasks:     make(map[uuid.UUID]*db.Task),
		users:     make(map[uuid.UUID]testUser),
		settings:  make(map[uuid.UUID]*db.OrganizationSettings),
		mutations: make(map[uuid.UUID]int),
	}
}

func (m *memStore) addTask(t *db.Task) { m.tasks[t.ID] = t }

func (m *memStore) InsertPendingNotifications(_ context.Context, notifs []*db.TaskNotification) ([]*db.TaskNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var created []*db.TaskNotification
	for _, n := range notifs {
		if m.pendingExists(n.TaskID, n.OffsetHours) {
			continue
		}
		cp := *n
		m.rows[cp.ID] = &cp
		m.order = append(m.order, cp.ID)
		created = append(created, n)
	}
	return created, nil
}

func (m *memStore) pendingExists(taskID uuid.UUID, offset int) bool {
	for _, r := range m.rows {
		if r.TaskID == taskID && r.OffsetHours == offset && r.Status == db.StatusPending {
			return true
		}
	}
	return false
}

func (m *memStore) ClaimDueNotifications(_ context.Context, now time.Time, limit int) ([]*db.DueNotification, error) {
	if m.onClaim != nil {
		m.onClaim()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claimErr != nil {
		return nil, m.claimErr
	}

	var out []*db.DueNotification
	for _, id := range m.order {
		if len(out) == limit {
			break
		}
		r := m.rows[id]
		if r.Status != db.StatusPending || r.ScheduledFor.After(now) {
			continue
		}
		task := m.tasks[r.TaskID]
		if task == nil || task.Completed || task.DeletedAt != nil {
			continue
		}

		claimed := now
		r.Status = db.StatusProcessing
		r.ClaimedAt = &claimed
		m.mutations[id]++

		u := m.users[r.UserID]
		due := r.ScheduledFor.Add(time.Duration(r.OffsetHours) * time.Hour)
		if task.DueDate != nil {
			due = *task.DueDate
		}
		out = append(out, &db.DueNotification{
			TaskNotification: *r,
			TaskTitle:        task.Title,
			DueDate:          due,
			RecipientName:    u.Name,
			RecipientEmail:   u.Email,
			RecipientPhone:   u.Phone,
		})
	}
	return out, nil
}

func (m *memStore) RecordDeliveryOutcome(_ context.Context, id uuid.UUID, o db.DeliveryOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recordErr != nil {
		return m.recordErr
	}
	r, ok := m.rows[id]
	if !ok || r.Status != db.StatusProcessing {
		return fmt.Errorf("notification %s: %w", id, db.ErrNotFound)
	}
	r.Status = o.Status
	r.EmailSent = o.EmailSent
	r.SMSSent = o.SMSSent
	r.RealtimeSent = o.RealtimeSent
	r.FailureReason = o.FailureReason
	r.SentAt = o.SentAt
	r.ClaimedAt = nil
	m.mutations[id]++
	return nil
}

func (m *memStore) CancelPendingForTask(_ context.Context, taskID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, r := range m.rows {
		if r.TaskID == taskID && r.Status == db.StatusPending {
			r.Status = db.StatusCancelled
			m.mutations[id]++
			n++
		}
	}
	return n, nil
}

func (m *memStore) ReclaimStaleClaims(_ context.Context, before time.Time) (db.ReclaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res db.ReclaimResult
	// Newest first, so the newest stale row per slot is the one requeued.
	for i := len(m.order) - 1; i >= 0; i-- {
		id := m.order[i]
		r := m.rows[id]
		if r.Status != db.StatusProcessing || r.ClaimedAt == nil || !r.ClaimedAt.Before(before) {
			continue
		}
		task := m.tasks[r.TaskID]
		closed := task == nil || task.Completed || task.DeletedAt != nil

		r.ClaimedAt = nil
		m.mutations[id]++
		if closed || m.pendingExists(r.TaskID, r.OffsetHours) {
			r.Status = db.StatusCancelled
			res.Cancelled++
			continue
		}
		r.Status = db.StatusPending
		res.Requeued++
	}
	return res, m.checkPendingUnique()
}

// checkPendingUnique enforces task_notifications_pending_uniq.
func (m *memStore) checkPendingUnique() error {
	type slot struct {
		task   uuid.UUID
		offset int
	}
	seen := map[slot]bool{}
	for _, r := range m.rows {
		if r.Status != db.StatusPending {
			continue
		}
		k := slot{r.TaskID, r.OffsetHours}
		if seen[k] {
			return fmt.Errorf("duplicate key value violates unique constraint \"task_notifications_pending_uniq\": task %s offset %d", r.TaskID, r.OffsetHours)
		}
		seen[k] = true
	}
	return nil
}

func (m *memStore) GetTask(_ context.Context, id uuid.UUID) (*db.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, db.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) GetOrganizationSettings(_ context.Context, orgID uuid.UUID) (*db.OrganizationSettings, error) {
	s, ok := m.settings[orgID]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", orgID, db.ErrNotFound)
	}
	return s, nil
}

func (m *memStore) byTask(taskID uuid.UUID) []*db.TaskNotification {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*db.TaskNotification
	for _, r := range m.rows {
		if r.TaskID == taskID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OffsetHours > out[j].OffsetHours })
	return out
}

func (m *memStore) withStatus(taskID uuid.UUID, status string) []*db.TaskNotification {
	var out []*db.TaskNotification
	for _, r := range m.byTask(taskID) {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func (m *memStore) row(id uuid.UUID) db.TaskNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

type recordingEmail struct {
	mu   sync.Mutex
	sent []channel.EmailMessage
	err  error
}

func (e *recordingEmail) SendEmail(_ context.Context, msg channel.EmailMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, msg)
	return e.err
}

func (e *recordingEmail) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

type recordingSMS struct {
	mu    sync.Mutex
	sent  []channel.SMSMessage
	creds []channel.SMSCredentials
	err   error
}

func (s *recordingSMS) SendSMS(_ context.Context, msg channel.SMSMessage, creds channel.SMSCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	s.creds = append(s.creds, creds)
	return s.err
}

func (s *recordingSMS) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordingPush struct {
	mu     sync.Mutex
	events []channel.PushEvent
	err    error
}

func (p *recordingPush) Push(_ context.Context, e channel.PushEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPush) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

var errProviderDown = errors.New("provider down")
