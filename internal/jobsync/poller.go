// Package jobsync keeps project state aligned with the Job Backend by
// polling it on a fixed interval while a pipeline step runs. One poll
// loop is active per process; starting a new one replaces the old.
package jobsync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/eveshi/bitranslator/internal/backend"
	"github.com/eveshi/bitranslator/internal/pipeline"
)

// Snapshot is one tick's view of a running project, with the blended
// progress fraction already computed.
type Snapshot struct {
	Phase              pipeline.Phase
	TotalChapters      int
	TranslatedChapters int
	CurrentChapter     string
	ChunkDone          int
	ChunkTotal         int
	Fraction           float64
}

// backendClient is the slice of the Job Backend client the poller needs.
type backendClient interface {
	ProjectStatus(ctx context.Context, projectID string) (backend.Status, error)
	GetProgress(ctx context.Context, projectID string) (backend.Progress, error)
}

// Handler receives poll results. OnPhaseSettled fires exactly once per
// poll run, when the backend reaches a phase that no longer needs
// polling; the loop stops afterwards.
type Handler interface {
	OnProgress(ctx context.Context, projectID string, snap Snapshot)
	OnPhaseSettled(ctx context.Context, projectID string, status backend.Status)
}

type Poller struct {
	client   backendClient
	handler  Handler
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	project string
	// run distinguishes loops; a settled loop may only clear its own
	// registration, never one a later Start installed for the same
	// project.
	run uint64
}

func NewPoller(client backendClient, handler Handler, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{client: client, handler: handler, interval: interval}
}

// Start begins polling the given project. Any loop already running, for
// this project or another, is cancelled first; its pending results are
// discarded, never delivered late.
func (p *Poller) Start(ctx context.Context, projectID string) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.project = projectID
	p.run++
	run := p.run
	client, handler := p.client, p.handler
	p.mu.Unlock()

	go p.loop(loopCtx, projectID, run, client, handler)
}

// Stop cancels the active loop, if any.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.project = ""
	}
}

// Active reports which project is currently being polled.
func (p *Poller) Active() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.project, p.project != ""
}

func (p *Poller) loop(ctx context.Context, projectID string, run uint64, client backendClient, handler Handler) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	lastFraction := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := client.ProjectStatus(ctx, projectID)
		if err != nil {
			// A single failed poll is noise; the next tick retries.
			log.Printf("jobsync: poll %s: %v", projectID, err)
			continue
		}

		phase, err := pipeline.Parse(status.Status)
		if err != nil {
			log.Printf("jobsync: poll %s: %v", projectID, err)
			continue
		}

		snap := Snapshot{
			Phase:              phase,
			TotalChapters:      status.ChapterCount,
			TranslatedChapters: status.TranslatedCount,
		}
		if phase == pipeline.PhaseTranslating || phase == pipeline.PhaseTranslatingSample {
			if prog, err := client.GetProgress(ctx, projectID); err == nil {
				snap.TotalChapters = prog.TotalChapters
				snap.TranslatedChapters = prog.TranslatedChapters
				snap.CurrentChapter = prog.CurrentChapter
				snap.ChunkDone = prog.ChunkDone
				snap.ChunkTotal = prog.ChunkTotal
			} else {
				log.Printf("jobsync: progress %s: %v", projectID, err)
			}
		}
		snap.Fraction = blend(snap, lastFraction)
		lastFraction = snap.Fraction

		if ctx.Err() != nil {
			return
		}
		handler.OnProgress(ctx, projectID, snap)

		if !phase.RequiresPolling() {
			if ctx.Err() != nil {
				return
			}
			handler.OnPhaseSettled(ctx, projectID, status)
			p.clear(run)
			return
		}
	}
}

// clear drops the active-project record if it still belongs to this run.
// Matching on the run number rather than the project ID keeps a settling
// loop from wiping the registration of a fresh Start for the same project.
func (p *Poller) clear(run uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == run {
		p.cancel = nil
		p.project = ""
	}
}

// blend folds the current chapter's chunk progress into the whole-range
// fraction. The result never decreases within one run and never credits
// more than the chapter actually in flight.
func blend(s Snapshot, last float64) float64 {
	if s.TotalChapters <= 0 {
		return last
	}
	inFlight := 0.0
	if s.ChunkTotal > 0 {
		inFlight = float64(s.ChunkDone) / float64(s.ChunkTotal)
		if inFlight > 1 {
			inFlight = 1
		}
	}
	f := (float64(s.TranslatedChapters) + inFlight) / float64(s.TotalChapters)
	if f > 1 {
		f = 1
	}
	if f < last {
		return last
	}
	return f
}
