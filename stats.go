package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// turnRecord is one resolved turn as seen from the input loop.
type turnRecord struct {
	Mode     string // "voice" or "text"
	Fallback bool
	TotalMs  float64
}

type turnStats struct {
	mu      sync.Mutex
	records []turnRecord
}

func (s *turnStats) Add(r turnRecord) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
}

func (s *turnStats) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// percentiles returns min, p50, p90, p95, max of vals. vals is sorted in place.
func percentiles(vals []float64) [5]float64 {
	if len(vals) == 0 {
		return [5]float64{}
	}
	sort.Float64s(vals)
	at := func(p float64) float64 {
		return vals[int(float64(len(vals)-1)*p)]
	}
	return [5]float64{vals[0], at(0.50), at(0.90), at(0.95), vals[len(vals)-1]}
}

// Table renders latency percentiles per input mode, or "" before the first turn.
func (s *turnStats) Table() string {
	s.mu.Lock()
	byMode := map[string][]float64{}
	fallbacks := 0
	for _, r := range s.records {
		byMode[r.Mode] = append(byMode[r.Mode], r.TotalMs)
		if r.Fallback {
			fallbacks++
		}
	}
	n := len(s.records)
	s.mu.Unlock()

	if n == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "        %5s %5s %5s %5s %5s", "min", "p50", "p90", "p95", "max")
	for _, mode := range []string{"voice", "text"} {
		vals := byMode[mode]
		if len(vals) == 0 {
			continue
		}
		p := percentiles(vals)
		fmt.Fprintf(&b, "\n%-7s %5.0f %5.0f %5.0f %5.0f %5.0f", mode, p[0], p[1], p[2], p[3], p[4])
	}
	fmt.Fprintf(&b, "\nturns %d, fallback %d", n, fallbacks)
	return b.String()
}
