package jobsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eveshi/bitranslator/internal/backend"
)

type fakeClient struct {
	mu       sync.Mutex
	statuses []backend.Status
	errs     []error
	progress []backend.Progress
	i        int
	pi       int
}

func (f *fakeClient) ProjectStatus(ctx context.Context, projectID string) (backend.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.i
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.i++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return backend.Status{}, f.errs[idx]
	}
	return f.statuses[idx], nil
}

func (f *fakeClient) GetProgress(ctx context.Context, projectID string) (backend.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.progress) == 0 {
		return backend.Progress{}, errors.New("no progress")
	}
	idx := f.pi
	if idx >= len(f.progress) {
		idx = len(f.progress) - 1
	}
	f.pi++
	return f.progress[idx], nil
}

type recordingHandler struct {
	mu       sync.Mutex
	snaps    []Snapshot
	settled  []backend.Status
	settledC chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{settledC: make(chan struct{}, 8)}
}

func (h *recordingHandler) OnProgress(ctx context.Context, projectID string, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snaps = append(h.snaps, snap)
}

func (h *recordingHandler) OnPhaseSettled(ctx context.Context, projectID string, status backend.Status) {
	h.mu.Lock()
	h.settled = append(h.settled, status)
	h.mu.Unlock()
	h.settledC <- struct{}{}
}

func waitSettled(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.settledC:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never settled")
	}
}

func TestPollerSettlesExactlyOnce(t *testing.T) {
	client := &fakeClient{statuses: []backend.Status{
		{Status: "analyzing"},
		{Status: "analyzing"},
		{Status: "analyzed"},
		{Status: "analyzed"},
	}}
	h := newRecordingHandler()
	p := NewPoller(client, h, 2*time.Millisecond)
	p.Start(context.Background(), "prj_1")
	waitSettled(t, h)

	// Give a stray extra tick a chance to fire, then verify it didn't.
	time.Sleep(20 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.settled) != 1 {
		t.Fatalf("settled %d times, want 1", len(h.settled))
	}
	if h.settled[0].Status != "analyzed" {
		t.Errorf("settled with %q, want analyzed", h.settled[0].Status)
	}
	if _, active := p.Active(); active {
		t.Error("poller still active after settling")
	}
}

func TestPollerToleratesTransientFailures(t *testing.T) {
	client := &fakeClient{
		statuses: []backend.Status{{}, {Status: "generating_strategy"}, {}, {Status: "strategy_generated"}},
		errs:     []error{errors.New("connection refused"), nil, errors.New("timeout"), nil},
	}
	h := newRecordingHandler()
	p := NewPoller(client, h, 2*time.Millisecond)
	p.Start(context.Background(), "prj_1")
	waitSettled(t, h)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.settled[0].Status != "strategy_generated" {
		t.Errorf("settled with %q, want strategy_generated", h.settled[0].Status)
	}
}

func TestPollerIgnoresUnknownStatus(t *testing.T) {
	client := &fakeClient{statuses: []backend.Status{
		{Status: "defragmenting"},
		{Status: "completed"},
	}}
	h := newRecordingHandler()
	p := NewPoller(client, h, 2*time.Millisecond)
	p.Start(context.Background(), "prj_1")
	waitSettled(t, h)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.snaps {
		if s.Phase == "" {
			t.Error("unknown status reached the handler")
		}
	}
}

func TestPollerStartReplacesActiveLoop(t *testing.T) {
	slow := &fakeClient{statuses: []backend.Status{{Status: "translating"}}}
	hOld := newRecordingHandler()
	p := NewPoller(slow, hOld, 2*time.Millisecond)
	p.Start(context.Background(), "prj_old")
	time.Sleep(10 * time.Millisecond)

	p.client = &fakeClient{statuses: []backend.Status{{Status: "completed"}}}
	p.handler = newRecordingHandler()
	p.Start(context.Background(), "prj_new")

	if id, _ := p.Active(); id != "prj_new" {
		t.Fatalf("active project = %q, want prj_new", id)
	}
	waitSettled(t, p.handler.(*recordingHandler))

	hOld.mu.Lock()
	defer hOld.mu.Unlock()
	if len(hOld.settled) != 0 {
		t.Error("replaced loop still delivered a settle")
	}
}

func TestStaleLoopCannotClearFreshStart(t *testing.T) {
	client := &fakeClient{statuses: []backend.Status{{Status: "translating"}}}
	h := newRecordingHandler()
	// An hour-long interval keeps the loops idle; the settle path's
	// clear is driven by hand.
	p := NewPoller(client, h, time.Hour)
	p.Start(context.Background(), "prj_1")
	p.mu.Lock()
	stale := p.run
	p.mu.Unlock()

	// A restart for the same project installs a fresh cancel func.
	p.Start(context.Background(), "prj_1")

	// The first loop settles late and clears; the restart's
	// registration must survive so Stop can still cancel it.
	p.clear(stale)
	if id, active := p.Active(); !active || id != "prj_1" {
		t.Fatalf("registration wiped by a stale run: (%q, %v)", id, active)
	}
	p.mu.Lock()
	cancellable := p.cancel != nil
	p.mu.Unlock()
	if !cancellable {
		t.Fatal("fresh loop lost its cancel func to a stale clear")
	}
	p.Stop()
	if _, active := p.Active(); active {
		t.Error("poller active after Stop")
	}
}

func TestPollerStop(t *testing.T) {
	client := &fakeClient{statuses: []backend.Status{{Status: "translating"}}}
	h := newRecordingHandler()
	p := NewPoller(client, h, 2*time.Millisecond)
	p.Start(context.Background(), "prj_1")
	time.Sleep(10 * time.Millisecond)
	p.Stop()
	if _, active := p.Active(); active {
		t.Error("poller active after Stop")
	}
}

func TestBlendedProgressMonotone(t *testing.T) {
	client := &fakeClient{
		statuses: []backend.Status{
			{Status: "translating"},
			{Status: "translating"},
			{Status: "translating"},
			{Status: "completed", ChapterCount: 4, TranslatedCount: 4},
		},
		progress: []backend.Progress{
			{TotalChapters: 4, TranslatedChapters: 1, ChunkDone: 2, ChunkTotal: 4},
			// Backend briefly reports a lower chunk count between chapters.
			{TotalChapters: 4, TranslatedChapters: 1, ChunkDone: 0, ChunkTotal: 0},
			{TotalChapters: 4, TranslatedChapters: 2, ChunkDone: 1, ChunkTotal: 2},
		},
	}
	h := newRecordingHandler()
	p := NewPoller(client, h, 2*time.Millisecond)
	p.Start(context.Background(), "prj_1")
	waitSettled(t, h)

	h.mu.Lock()
	defer h.mu.Unlock()
	last := 0.0
	for i, s := range h.snaps {
		if s.Fraction < last {
			t.Errorf("snapshot %d: fraction %f dropped below %f", i, s.Fraction, last)
		}
		if s.Fraction > 1 {
			t.Errorf("snapshot %d: fraction %f exceeds 1", i, s.Fraction)
		}
		last = s.Fraction
	}
	if last != 1 {
		t.Errorf("final fraction = %f, want 1", last)
	}
}

func TestBlendClamps(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		last float64
		want float64
	}{
		{"zero total keeps last", Snapshot{}, 0.25, 0.25},
		{"half chapter in flight", Snapshot{TotalChapters: 4, TranslatedChapters: 1, ChunkDone: 1, ChunkTotal: 2}, 0, 0.375},
		{"chunk overshoot capped", Snapshot{TotalChapters: 2, TranslatedChapters: 1, ChunkDone: 9, ChunkTotal: 2}, 0, 1},
		{"never regresses", Snapshot{TotalChapters: 4, TranslatedChapters: 1}, 0.5, 0.5},
	}
	for _, tc := range tests {
		if got := blend(tc.snap, tc.last); got != tc.want {
			t.Errorf("%s: blend = %f, want %f", tc.name, got, tc.want)
		}
	}
}
