package main

import (
	"strings"
	"testing"
)

func TestPercentiles(t *testing.T) {
	vals := []float64{5, 1, 4, 2, 3, 10, 9, 8, 7, 6}
	got := percentiles(vals)
	want := [5]float64{1, 5, 9, 9, 10}
	if got != want {
		t.Errorf("percentiles = %v, want %v", got, want)
	}
	if got := percentiles(nil); got != [5]float64{} {
		t.Errorf("empty = %v", got)
	}
}

func TestTurnStatsTable(t *testing.T) {
	var s turnStats
	if s.Table() != "" {
		t.Error("table before any turn should be empty")
	}
	s.Add(turnRecord{Mode: "voice", TotalMs: 900})
	s.Add(turnRecord{Mode: "voice", TotalMs: 1200, Fallback: true})

	table := s.Table()
	if !strings.Contains(table, "voice") {
		t.Errorf("missing voice row:\n%s", table)
	}
	if strings.Contains(table, "text ") {
		t.Errorf("text row without text turns:\n%s", table)
	}
	if !strings.Contains(table, "turns 2, fallback 1") {
		t.Errorf("missing totals:\n%s", table)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d", s.Len())
	}
}
