// Package timer implements the Scheduler behind SPEC_FULL.md C.4/A.5's timer
// semantics: relative work item deadlines ordered by a monotonic min-heap, and
// wall-clock-aligned escalation policies driven by a cron scheduler, both
// feeding one channel of due (caseID, workItemID) pairs that the engine facade
// consumes exactly like a work item completion, under the case lock. Grounded
// on internal/application/trigger/cron_scheduler.go's cron.Cron wrapping and
// entry-ID bookkeeping, generalized from workflow-level triggers to
// per-work-item deadlines plus an added relative-deadline heap the teacher has
// no need for (its triggers are all wall-clock or fixed-interval).
package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Event reports that a scheduled timer has come due, to be handled like a work
// item completion under the owning case's lock (A.5).
type Event struct {
	CaseID     string
	WorkItemID string
	DueAt      time.Time
}

type dueEntry struct {
	caseID     string
	workItemID string
	dueAt      time.Time
	index      int
}

// dueHeap is a container/heap min-heap ordered by DueAt, the stdlib fallback
// named in DESIGN.md: no third-party priority-queue library appears anywhere
// in the example pack.
type dueHeap []*dueEntry

func (h dueHeap) Len() int            { return len(h) }
func (h dueHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h dueHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *dueHeap) Push(x any)         { e := x.(*dueEntry); e.index = len(*h); *h = append(*h, e) }
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler owns both halves of the timer mechanism: a relative-deadline heap
// polled on Run's tick, and a cron.Cron for wall-clock-aligned policies.
// Entries of both kinds emit onto the same Events channel.
type Scheduler struct {
	mu      sync.Mutex
	heap    dueHeap
	byKey   map[string]*dueEntry // "caseID/workItemID" -> heap entry, for Cancel
	cron    *cron.Cron
	entries map[string]cron.EntryID // "caseID/workItemID" -> cron entry, for Cancel

	events chan Event
	clock  func() time.Time
}

// NewScheduler builds a Scheduler. clock lets tests control relative-deadline
// firing without sleeping.
func NewScheduler(clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		byKey:   make(map[string]*dueEntry),
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		entries: make(map[string]cron.EntryID),
		events:  make(chan Event, 64),
		clock:   clock,
	}
}

// Events returns the channel of due timers. The engine facade (or cmd/server
// on its behalf) should range over this and feed each Event into the engine's
// timer-completion path.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

func key(caseID, workItemID string) string { return caseID + "/" + workItemID }

// ScheduleDeadline arms a simple relative deadline ("expire in 30m"), fired the
// next time Run's tick notices the heap's minimum has come due.
func (s *Scheduler) ScheduleDeadline(caseID, workItemID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(caseID, workItemID)
	if existing, ok := s.byKey[k]; ok {
		existing.dueAt = at
		heap.Fix(&s.heap, existing.index)
		return
	}
	e := &dueEntry{caseID: caseID, workItemID: workItemID, dueAt: at}
	heap.Push(&s.heap, e)
	s.byKey[k] = e
}

// ScheduleCron arms a wall-clock-aligned escalation policy ("escalate at 09:00
// next business day"), expressed as a standard 6-field cron expression (seconds
// included, matching the teacher's own parser configuration). All entries share
// this Scheduler's single cron.Cron, which runs in UTC; a deployment needing
// per-entry timezones would need a dedicated Scheduler per timezone, since
// robfig/cron/v3 resolves "now" against the Cron instance's own location, not
// per-schedule.
func (s *Scheduler) ScheduleCron(caseID, workItemID, expr string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(caseID, workItemID)
	if entryID, ok := s.entries[k]; ok {
		s.cron.Remove(entryID)
	}
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.events <- Event{CaseID: caseID, WorkItemID: workItemID, DueAt: s.clock()}
	}))
	s.entries[k] = entryID
	return nil
}

// Cancel removes any scheduled timer (of either kind) for (caseID, workItemID),
// called once the work item reaches a terminal state before its deadline.
func (s *Scheduler) Cancel(caseID, workItemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(caseID, workItemID)
	if e, ok := s.byKey[k]; ok {
		heap.Remove(&s.heap, e.index)
		delete(s.byKey, k)
	}
	if entryID, ok := s.entries[k]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, k)
	}
}

// Run starts the cron half and polls the relative-deadline heap on the given
// resolution until ctx is cancelled (C.4's "external ticker").
func (s *Scheduler) Run(ctx context.Context, resolution time.Duration) {
	s.cron.Start()
	defer func() { <-s.cron.Stop().Done() }()

	ticker := time.NewTicker(resolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollDeadlines()
		}
	}
}

func (s *Scheduler) pollDeadlines() {
	now := s.clock()
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 || s.heap[0].dueAt.After(now) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.heap).(*dueEntry)
		delete(s.byKey, key(e.caseID, e.workItemID))
		s.mu.Unlock()
		s.events <- Event{CaseID: e.caseID, WorkItemID: e.workItemID, DueAt: e.dueAt}
	}
}
