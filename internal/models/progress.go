package models

import (
	"sync"
)

type TaskPhase string

const (
	PhaseRunning   TaskPhase = "Running"
	PhaseCompleted TaskPhase = "Completed"
	PhaseFailed    TaskPhase = "Failed"
)

// ProgressEvent is one (percent, message, phase, result) report.
type ProgressEvent struct {
	Percent float64   `json:"percent"`
	Message string    `json:"message,omitempty"`
	Phase   TaskPhase `json:"phase"`
	Result  string    `json:"result,omitempty"`
}

type ProgressTracker struct {
	mu       sync.RWMutex
	Percent  float64
	Status   string
	Phase    TaskPhase
	Result   string
	Finished bool
	subs     []chan ProgressEvent
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		Status: "Initializing...",
		Phase:  PhaseRunning,
	}
}

// Subscribe returns a buffered channel receiving every later event. Reporting
// never blocks: events are dropped for subscribers that fall behind.
func (p *ProgressTracker) Subscribe(buffer int) <-chan ProgressEvent {
	ch := make(chan ProgressEvent, max(buffer, 1))
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Finished {
		// late subscribers get the final event and a closed channel
		ch <- p.event()
		close(ch)
		return ch
	}
	p.subs = append(p.subs, ch)
	return ch
}

// Update moves progress to percent (clamped to 0..100). Progress never goes backwards.
func (p *ProgressTracker) Update(percent float64, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > p.Percent {
		p.Percent = percent
	}
	if status != "" {
		p.Status = status
	}
	p.publish()
}

func (p *ProgressTracker) SetStatus(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = status
	p.publish()
}

func (p *ProgressTracker) Get() (int, string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int(p.Percent), p.Status, p.Finished
}

func (p *ProgressTracker) Snapshot() ProgressEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.event()
}

func (p *ProgressTracker) Finish(result string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Percent = 100
	p.Finished = true
	p.Status = "Complete"
	p.Phase = PhaseCompleted
	p.Result = result
	p.closeSubs()
}

func (p *ProgressTracker) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Finished = true
	p.Phase = PhaseFailed
	if err != nil {
		p.Status = err.Error()
	}
	p.closeSubs()
}

func (p *ProgressTracker) event() ProgressEvent {
	return ProgressEvent{Percent: p.Percent, Message: p.Status, Phase: p.Phase, Result: p.Result}
}

// publish must be called with mu held.
func (p *ProgressTracker) publish() {
	ev := p.event()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeSubs delivers the terminal event to every subscriber and closes it. A
// full subscriber loses its oldest pending event instead of the terminal one.
func (p *ProgressTracker) closeSubs() {
	ev := p.event()
	for _, ch := range p.subs {
		for sent := false; !sent; {
			select {
			case ch <- ev:
				sent = true
			default:
				select {
				case <-ch:
				default:
				}
			}
		}
		close(ch)
	}
	p.subs = nil
}
