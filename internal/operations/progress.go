package operations

import (
	"fmt"
	"sync"
	"time"
)

// OverallProgress composes stage progress with equal weights: with three stages a
// finished first stage is 33.3, a finished second 66.7. Skipped stages add nothing.
func OverallProgress(stages []StageSnapshot) float64 {
	if len(stages) == 0 {
		return 0
	}
	var total float64
	for _, s := range stages {
		switch s.Status {
		case StageStatusCompleted:
			total += 100
		default:
			total += clampProgress(s.Progress)
		}
	}
	return total / float64(len(stages))
}

// Stage metadata keys written by ProgressTracker
const (
	MetadataItemsDone   = "items_done"
	MetadataItemsTotal  = "items_total"
	MetadataETASeconds  = "eta_seconds"
	MetadataItemsPerSec = "items_per_second"
)

// ProgressTracker maps "done of total" callbacks from long loops (subjects
// cleaned, schools computed) onto a [from, to] slice of a stage's progress and
// keeps counts and the remaining-time estimate on the stage metadata.
type ProgressTracker struct {
	mu       sync.Mutex
	stage    *StageState
	report   ProgressFunc
	from, to float64
	start    time.Time
	now      func() time.Time
}

// NewProgressTracker starts tracking now. stage may be nil, in which case only
// progress is reported.
func NewProgressTracker(stage *StageState, report ProgressFunc, from, to float64) *ProgressTracker {
	return newProgressTracker(stage, report, from, to, time.Now)
}

func newProgressTracker(stage *StageState, report ProgressFunc, from, to float64, now func() time.Time) *ProgressTracker {
	return &ProgressTracker{stage: stage, report: report, from: from, to: to, start: now(), now: now}
}

// Observe records that done of total items finished; label names the last one
func (p *ProgressTracker) Observe(done, total int, label string) {
	if total <= 0 {
		return
	}
	p.mu.Lock()
	eta, rate := p.estimate(done, total)
	p.mu.Unlock()

	if p.stage != nil {
		p.stage.SetMetadata(MetadataItemsDone, done)
		p.stage.SetMetadata(MetadataItemsTotal, total)
		p.stage.SetMetadata(MetadataItemsPerSec, rate)
		p.stage.SetMetadata(MetadataETASeconds, eta.Seconds())
	}
	progress := p.from + float64(done)/float64(total)*(p.to-p.from)
	p.report(progress, fmt.Sprintf("%s (%d/%d)", label, done, total))
}

// estimate extrapolates the observed rate over the remaining items. Until the
// first item is done there is nothing to extrapolate from and the ETA is zero.
func (p *ProgressTracker) estimate(done, total int) (time.Duration, float64) {
	elapsed := p.now().Sub(p.start)
	if done <= 0 || elapsed <= 0 {
		return 0, 0
	}
	rate := float64(done) / elapsed.Seconds()
	remaining := max(total-done, 0)
	return time.Duration(float64(remaining) / rate * float64(time.Second)), rate
}
