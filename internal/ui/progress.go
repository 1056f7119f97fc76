package ui

import (
	"sync"
	"time"
)

// ProgressTracker holds the current stage and counts. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu          sync.RWMutex
	stage       Stage
	current     int
	total       int
	currentFile string
	stageStart  time.Time
	errors      int
	warnings    int
	lastETA     time.Duration
}

// ProgressStats is a snapshot of a ProgressTracker.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentFile string
	ErrorCount  int
	WarnCount   int
}

// NewProgressTracker starts in StageScanning.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{stage: StageScanning, stageStart: time.Now()}
}

// SetStage moves to stage and resets the counts.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.stageStart = time.Now()
	p.lastETA = 0
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(current int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	if file != "" {
		p.currentFile = file
	}
}

// AddError counts an error or warning.
func (p *ProgressTracker) AddError(ev ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		CurrentFile: p.currentFile,
		ErrorCount:  p.errors,
		WarnCount:   p.warnings,
	}
	if p.total > 0 {
		st.Progress = min(float64(p.current)/float64(p.total), 1)
	}
	st.ETA = p.eta()
	return st
}

// eta extrapolates the stage's elapsed time, smoothed so it does not jump
// between refreshes. Callers hold p.mu.
func (p *ProgressTracker) eta() time.Duration {
	if p.total <= 0 || p.current <= 0 || p.current >= p.total {
		return 0
	}
	elapsed := time.Since(p.stageStart)
	raw := time.Duration(float64(elapsed) / float64(p.current) * float64(p.total-p.current))
	if p.lastETA > 0 {
		raw = time.Duration(0.3*float64(raw) + 0.7*float64(p.lastETA))
	}
	p.lastETA = raw
	return raw
}
