package main

import (
	"strings"
	"testing"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"xinchao/conversation"
)

func TestWrapText(t *testing.T) {
	for _, tt := range []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"empty", "", 10, []string{""}},
		{"fits", "xin chào", 10, []string{"xin chào"}},
		{"at space", "xin chào bạn", 8, []string{"xin chào", "bạn"}},
		{"long word", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newlines", "một\nhai", 10, []string{"một", "hai"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapText(tt.text, tt.width)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

func TestWrapTextCountsRunes(t *testing.T) {
	text := strings.Repeat("ữ", 25)
	for _, line := range wrapText(text, 10) {
		if n := utf8.RuneCountInString(line); n > 10 {
			t.Errorf("line has %d runes: %q", n, line)
		}
		if !utf8.ValidString(line) {
			t.Errorf("split inside a rune: %q", line)
		}
	}
}

func TestRenderTurns(t *testing.T) {
	conf := 0.9
	turns := []conversation.Turn{
		{Seq: 1, Speaker: conversation.User, Text: "xin chào", Accent: "south", Confidence: &conf},
		{Seq: 2, Speaker: conversation.Assistant, Text: "Chào bạn!", Corrections: []string{"chào, not chao"}, CulturalContext: "Greetings vary by region."},
	}
	out := renderTurns(turns, 60)
	for _, want := range []string{"#1", "south", "90%", "Chào bạn!", "chào, not chao", "Greetings vary"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestEnterWhileBusyKeepsInput(t *testing.T) {
	m := newTUIModel(tuiActions{submit: func(string) error {
		t.Error("submit called while busy")
		return nil
	}})
	m.busy = true
	m.input.SetValue("hai")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("no command expected while busy")
	}
	got := next.(tuiModel)
	if got.input.Value() != "hai" {
		t.Errorf("input = %q, want it kept", got.input.Value())
	}
	if got.status == "" {
		t.Error("expected a busy notice")
	}
}

func TestEnterSubmits(t *testing.T) {
	var sent string
	m := newTUIModel(tuiActions{submit: func(text string) error {
		sent = text
		return nil
	}})
	m.input.SetValue("  cảm ơn  ")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected submit command")
	}
	if msg := cmd(); msg != (submitDoneMsg{}) {
		t.Errorf("msg = %#v", msg)
	}
	if sent != "cảm ơn" {
		t.Errorf("sent %q", sent)
	}
	got := next.(tuiModel)
	if got.input.Value() != "" || !got.busy {
		t.Errorf("input=%q busy=%v", got.input.Value(), got.busy)
	}
}

func TestTurnMsgAppends(t *testing.T) {
	m := newTUIModel(tuiActions{})
	next, _ := m.Update(TurnMsg{Turn: conversation.Turn{Seq: 1, Speaker: conversation.Assistant, Text: "Xin lỗi", Fallback: true}})
	if got := next.(tuiModel); len(got.turns) != 1 {
		t.Errorf("turns = %d", len(got.turns))
	}
}
