package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	convFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

type Metrics struct {
	AudioLengthS  float64
	RawSizeKB     float64
	UploadSizeKB  float64
	EncodeTimeMs  float64
	MemoryAllocMB float64
	MemoryPeakMB  float64

	Network Network
}

// Network is the per-phase timing of one HTTP round trip. OtherMs is the
// part of TotalMs not covered by any phase.
type Network struct {
	RequestID    string
	ConnReused   bool
	TLSProtocol  string
	ConnWaitMs   float64
	DNSMs        float64
	TCPMs        float64
	TLSMs        float64
	ReqHeadersMs float64
	ReqBodyMs    float64
	TTFBMs       float64
	DownloadMs   float64
	OtherMs      float64
	TotalMs      float64
}

func (n Network) fields(ev *zerolog.Event) *zerolog.Event {
	conn := "new"
	if n.ConnReused {
		conn = "reused"
	}
	ev = ev.Str("conn", conn)
	if n.TLSProtocol != "" {
		ev = ev.Str("tls_proto", n.TLSProtocol)
	}
	if n.RequestID != "" {
		ev = ev.Str("request_id", n.RequestID)
	}
	return ev.
		Float64("conn_wait_ms", n.ConnWaitMs).
		Float64("dns_ms", n.DNSMs).
		Float64("tcp_ms", n.TCPMs).
		Float64("tls_ms", n.TLSMs).
		Float64("req_headers_ms", n.ReqHeadersMs).
		Float64("req_body_ms", n.ReqBodyMs).
		Float64("ttfb_ms", n.TTFBMs).
		Float64("download_ms", n.DownloadMs).
		Float64("other_ms", n.OtherMs).
		Float64("total_ms", n.TotalMs)
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: XINCHAO_LOG_PATH environment variable
	envPath := os.Getenv("XINCHAO_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	convPath := filepath.Join(dir, "conversation_log.txt")
	convFile, err = os.OpenFile(convPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if convFile != nil {
		convFile.Close()
		convFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func TranscriptionMetrics(m Metrics, format, accent string, confidence float64) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Str("format", format).
		Str("accent", accent).
		Float64("confidence", confidence)
	m.Network.fields(ev).
		Float64("audio_s", m.AudioLengthS).
		Float64("raw_kb", m.RawSizeKB).
		Float64("upload_kb", m.UploadSizeKB).
		Float64("encode_ms", m.EncodeTimeMs).
		Float64("mem_mb", m.MemoryAllocMB).
		Float64("peak_mb", m.MemoryPeakMB).
		Msg("transcription")
}

// PronunciationMetrics records one pronunciation scoring request.
func PronunciationMetrics(m Metrics, score float64) {
	if !logReady {
		return
	}
	ev := diagLog.Info().Float64("score", score)
	m.Network.fields(ev).
		Float64("audio_s", m.AudioLengthS).
		Float64("upload_kb", m.UploadSizeKB).
		Msg("pronunciation")
}

func DialogueMetrics(m Metrics, replyLen, corrections int) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Int("reply_chars", replyLen).
		Int("corrections", corrections)
	m.Network.fields(ev).Msg("dialogue")
}

// TurnResolved records how a turn ended. kind is "ok" or an error label.
func TurnResolved(mode, kind string, userSeq, assistantSeq int, elapsed time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("mode", mode).
		Str("result", kind).
		Int("user_seq", userSeq).
		Int("assistant_seq", assistantSeq).
		Float64("elapsed_ms", float64(elapsed.Microseconds())/1000).
		Msg("turn")
}

// Turn appends one line to conversation_log.txt.
func Turn(seq int, speaker, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t#%d\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, seq, speaker, text)
	convFile.WriteString(line)
}

func SessionStart(sender, mode, format string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("sender", sender).
		Str("mode", mode).
		Str("format", format).
		Msg("session_start")
}

func SessionEnd(turns int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("turns", turns).
		Msg("session_end")
}
