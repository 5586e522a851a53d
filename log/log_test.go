package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("XINCHAO_LOG_PATH", "/tmp/xinchao-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/xinchao-env-log" {
		t.Errorf("got %q, want /tmp/xinchao-env-log", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("XINCHAO_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Error("expected non-empty default directory")
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"diagnostics_log.txt", "conversation_log.txt"} {
		path := filepath.Join(tmp, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestTurn(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	Turn(1, "user", "xin chào")
	Turn(2, "assistant", "Chào bạn!")

	data, err := os.ReadFile(filepath.Join(tmp, "conversation_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), data)
	}
	// format: "2006-01-02 15:04:05\t[pid]\t#seq\tspeaker\ttext"
	fields := strings.Split(lines[0], "\t")
	if len(fields) != 5 {
		t.Fatalf("expected 5 tab-separated fields, got %q", lines[0])
	}
	if fields[2] != "#1" || fields[3] != "user" || fields[4] != "xin chào" {
		t.Errorf("unexpected fields %q", fields)
	}
}

func TestDiagnosticsWritten(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	TurnResolved("voice", "timeout", 3, 4, 0)
	SessionEnd(4)

	data, err := os.ReadFile(filepath.Join(tmp, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"result=timeout", "turns=4"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("diagnostics missing %q: %s", want, data)
		}
	}
}

func TestRequestMetricsCarryNetwork(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	n := Network{RequestID: "req-42", ConnReused: true, TTFBMs: 120, OtherMs: 3.5, TotalMs: 130}
	DialogueMetrics(Metrics{Network: n}, 12, 1)
	PronunciationMetrics(Metrics{AudioLengthS: 1.5, Network: Network{TotalMs: 80}}, 82.5)

	data, err := os.ReadFile(filepath.Join(tmp, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"conn=reused", "request_id=req-42", "ttfb_ms=120", "other_ms=3.5", "corrections=1",
		"conn=new", "score=82.5", "pronunciation",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("diagnostics missing %q: %s", want, data)
		}
	}
}

func TestNoopBeforeInit(t *testing.T) {
	Turn(1, "user", "ignored")
	Info("ignored")
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
