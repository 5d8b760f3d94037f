package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// PathStat is the per-route summary served by the ops dashboard.
type PathStat struct {
	Path        string  `json:"path"`
	Count       int64   `json:"count"`
	Success     int64   `json:"success"`
	Error       int64   `json:"error"`
	AvgMs       int64   `json:"avgMs"`
	MinMs       int64   `json:"minMs"`
	MaxMs       int64   `json:"maxMs"`
	SuccessRate float64 `json:"successRate"`
}

type pathCounter struct {
	count, success, failed int64
	totalMs, minMs, maxMs  int64
}

// PathStats keeps in-process request counters per route. Statuses below 400 count as success.
type PathStats struct {
	mu    sync.Mutex
	paths map[string]*pathCounter
}

func NewPathStats() *PathStats {
	return &PathStats{paths: map[string]*pathCounter{}}
}

// Record adds one completed request.
func (p *PathStats) Record(path string, status int, elapsed time.Duration) {
	if p == nil {
		return
	}
	path = normalizeLabel(path)
	ms := elapsed.Milliseconds()

	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.paths[path]
	if !ok {
		c = &pathCounter{minMs: math.MaxInt64}
		p.paths[path] = c
	}
	c.count++
	c.totalMs += ms
	c.minMs = min(c.minMs, ms)
	c.maxMs = max(c.maxMs, ms)
	if status >= 200 && status < 400 {
		c.success++
	} else {
		c.failed++
	}
}

// Snapshot returns the current stats sorted by path.
func (p *PathStats) Snapshot() []PathStat {
	if p == nil {
		return []PathStat{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PathStat, 0, len(p.paths))
	for path, c := range p.paths {
		stat := PathStat{Path: path, Count: c.count, Success: c.success, Error: c.failed, MaxMs: c.maxMs}
		if c.count > 0 {
			stat.AvgMs = int64(math.Round(float64(c.totalMs) / float64(c.count)))
			stat.MinMs = c.minMs
			stat.SuccessRate = math.Round(float64(c.success)/float64(c.count)*10000) / 100
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
