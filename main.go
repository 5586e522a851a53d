package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"xinchao/audio"
	"xinchao/config"
	"xinchao/dialogue"
	"xinchao/doctor"
	"xinchao/encoder"
	"xinchao/hotkey"
	"xinchao/log"
	"xinchao/shutdown"
	"xinchao/speech"
	"xinchao/transcriber"
)

var version = "dev"

var deviceSelectChan = make(chan struct{}, 1)
var uiRecordChan = make(chan struct{}, 1)
var uiStopMu sync.Mutex
var uiStopChan chan struct{}

var (
	shutdownOnce sync.Once
	active       *pipeline
)

func gracefulShutdown() {
	shutdownOnce.Do(func() {
		if active != nil {
			log.SessionEnd(active.orch.Log().Len())
			active.close()
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		os.Exit(0)
	})
}

// initCrashLog routes runtime crash output to crash_log.txt in the log
// directory. Only XINCHAO_LOG_PATH is honored here since flags are not parsed yet.
func initCrashLog() {
	dir, err := log.ResolveDir("")
	if err != nil {
		return
	}
	log.SetDir(dir)
	if err := log.EnsureDir(); err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "crash_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(f, debug.CrashOptions{})
}

func newUIStop() <-chan struct{} {
	uiStopMu.Lock()
	uiStopChan = make(chan struct{}, 1)
	ch := uiStopChan
	uiStopMu.Unlock()
	return ch
}

// fireUIStop ends a recording started from the TUI. It reports false when
// no such recording is waiting for a stop.
func fireUIStop() bool {
	uiStopMu.Lock()
	defer uiStopMu.Unlock()
	if uiStopChan == nil {
		return false
	}
	select {
	case uiStopChan <- struct{}{}:
	default:
	}
	uiStopChan = nil
	return true
}

func clearUIStop() {
	uiStopMu.Lock()
	uiStopChan = nil
	uiStopMu.Unlock()
}

// mergeStop returns a channel that closes when any source fires.
func mergeStop(sources ...<-chan struct{}) chan struct{} {
	out := make(chan struct{})
	var once sync.Once
	for _, s := range sources {
		if s == nil {
			continue
		}
		go func(ch <-chan struct{}) {
			select {
			case <-ch:
				once.Do(func() { close(out) })
			case <-out:
			}
		}(s)
	}
	return out
}

// drain discards a pending signal left over from an earlier recording.
func drain(ch <-chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

func run() {
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	formatFlag := flag.String("format", "", "Upload format: wav or flac (default from AUDIO_FORMAT)")
	langFlag := flag.String("lang", "", "Language hint for transcription (default from LANGUAGE)")
	muteFlag := flag.Bool("mute", false, "Start with spoken replies muted")
	envFlag := flag.String("env", "", "Load settings from this .env file instead of ./.env")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven)")
	hybridFlag := flag.Bool("hybrid", false, "Enable hybrid tap+hold recording mode")
	longPressFlag := flag.Duration("longpress", 350*time.Millisecond, "Long-press threshold for PTT vs tap (e.g., 350ms)")
	hotkeyFlag := flag.String("hotkey", hotkey.Default.String(), "Record hotkey, e.g. ctrl+shift+space or ctrl+f9")
	silenceFlag := flag.Duration("silence", defaultSilenceAutoClose, "Discard a tapped recording after this much silence")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("xinchao %s\n", version)
		os.Exit(0)
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	var cfg config.Config
	if *envFlag != "" {
		cfg, err = config.LoadFiles(*envFlag)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *formatFlag != "" {
		cfg.AudioFormat = *formatFlag
	}
	if *langFlag != "" {
		cfg.Language = *langFlag
	}
	cfg.Muted = cfg.Muted || *muteFlag
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	binding, err := hotkey.ParseBinding(*hotkeyFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *doctorFlag {
		os.Exit(doctor.Run(cfg, binding))
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	stt, err := transcriber.New(transcriber.Config{
		URL:     cfg.TranscribeURL,
		Format:  cfg.AudioFormat,
		Lang:    cfg.Language,
		Timeout: cfg.RequestTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	engine, err := dialogue.New(dialogue.Config{
		URL:     cfg.DialogueURL,
		Sender:  cfg.Sender,
		Timeout: cfg.RequestTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	stt.Warm()
	engine.Warm()

	var synth speech.Synthesizer
	if cfg.SpeechEnabled() {
		synth = speech.NewDeepgram(cfg.DeepgramKey, cfg.DeepgramVoice, encoder.SampleRate)
	}

	mode := "ptt"
	if *hybridFlag {
		mode = "hybrid"
	}
	log.SessionStart(cfg.Sender, mode, cfg.AudioFormat)

	captureConfig := audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	}

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: xinchao -test <wav-file>")
			os.Exit(1)
		}
		runTestMode(args[0], captureConfig, stt, engine, cfg.Muted)
		return
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer actx.Close()

	var selectedDevice *audio.DeviceInfo
	if *deviceFlag != "" {
		selectedDevice, err = audio.FindDevice(actx, *deviceFlag)
		if err != nil {
			log.Warnf("device lookup: %v", err)
			fmt.Printf("Warning: %v, using the default microphone\n", err)
		}
	} else if *setupFlag {
		selectedDevice, err = audio.SelectDevice(actx, "")
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	captureDevice, err := actx.NewCapture(selectedDevice, captureConfig)
	if err != nil {
		log.Errorf("capture device init error: %v", err)
		fmt.Printf("Error initializing capture device: %v\n", err)
		os.Exit(1)
	}
	player, err := actx.NewPlayer(captureConfig)
	if err != nil {
		log.Warnf("playback unavailable: %v", err)
		player = nil
	}

	p, err := newPipeline(actx, captureDevice, selectedDevice, captureConfig, stt, engine, synth, player)
	if err != nil {
		log.Errorf("pipeline init error: %v", err)
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	p.silenceClose = *silenceFlag
	p.orch.SetMuted(cfg.Muted)
	active = p

	if !*tuiFlag {
		tuiReadyOnce.Do(func() { close(tuiReady) })
	} else {
		tuiMu.Lock()
		tuiProgram = NewTUIProgram(tuiActions{
			submit:       p.submitText,
			toggleRecord: toggleUIRecording,
			toggleMute:   func() { p.setMuted(!p.orch.Muted()) },
			selectDevice: func() {
				select {
				case deviceSelectChan <- struct{}{}:
				default:
				}
			},
		})
		tuiMu.Unlock()

		go func() {
			if _, err := tuiProgram.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
				os.Exit(1)
			}
			gracefulShutdown()
		}()

		<-tuiReady
	}

	// preferredDevice remembers the user's choice so we can auto-reconnect
	preferredDevice := ""
	if selectedDevice != nil {
		preferredDevice = selectedDevice.Name
	}

	// Poll for device changes (hotplug)
	go func() {
		var last []string
		ticker := time.NewTicker(3 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			devices, err := actx.Devices()
			if err != nil {
				continue
			}
			names := make([]string, len(devices))
			for i := range devices {
				names[i] = devices[i].Name
			}
			if slices.Equal(last, names) {
				continue
			}
			last = names
			selName := ""
			if sel := p.selectedDevice(); sel != nil {
				selName = sel.Name
			}
			if selName != "" && !slices.Contains(names, selName) {
				log.Info("device_disconnected: " + selName)
				if err := p.switchDevice(nil); err != nil {
					log.Warnf("fallback to default device: %v", err)
				}
			} else if selName == "" && preferredDevice != "" && slices.Contains(names, preferredDevice) {
				log.Info("device_reconnected: " + preferredDevice)
				p.switchDeviceByName(preferredDevice)
			}
		}
	}()

	stopSignals := shutdown.OnSignal(func(sig os.Signal) {
		log.Info("signal: " + sig.String())
		gracefulShutdown()
	})
	defer stopSignals()

	hk := hotkey.New(binding)
	if err := hk.Register(); err != nil {
		log.Errorf("hotkey register error: %v", err)
		fmt.Printf("Error registering hotkey: %v\n", err)
		os.Exit(1)
	}
	defer hk.Unregister()

	tuiSend(ModeLineMsg{Text: modeLineText(cfg)})
	tuiSend(DeviceLineMsg{Text: deviceLineText(selectedDevice)})
	tuiSend(BluetoothWarningMsg{IsBT: selectedDevice != nil && audio.IsBluetooth(selectedDevice.Name)})
	tuiSend(HelpMsg{Hotkey: binding.String(), Hybrid: *hybridFlag})
	tuiSend(MuteMsg{Muted: p.orch.Muted(), Enabled: p.speech.Enabled()})

	startUIRecording := func() {
		log.Info("ui_record_start")
		stop := newUIStop()
		_, err := p.handleRecording(stop, func() bool { return true }, clearUIStop)
		clearUIStop()
		if err != nil {
			log.Warnf("recording: %v", err)
		}
	}

	if *hybridFlag {
		hy := hotkey.NewHybrid(hk, *longPressFlag)
		for {
			select {
			case ev := <-hy.Start():
				log.Info("hotkey_start_" + string(ev.Mode))
				drain(hy.StopChan())
				stop := mergeStop(hy.StopChan(), newUIStop())
				_, err := p.handleRecording(stop, hy.IsToggle, hy.Cancel)
				clearUIStop()
				if err != nil {
					log.Warnf("recording: %v", err)
					if errors.Is(err, errNotStarted) {
						abandonHybrid(hy, *longPressFlag)
					}
				}

			case <-uiRecordChan:
				startUIRecording()

			case <-deviceSelectChan:
				handleDeviceSwitch(p)
			}
		}
	} else {
		for {
			select {
			case <-hk.Keydown():
				log.Info("hotkey_down")
				stop := mergeStop(hk.Keyup(), newUIStop())
				_, err := p.handleRecording(stop, nil, nil)
				clearUIStop()
				if err != nil {
					log.Warnf("recording: %v", err)
					if errors.Is(err, errNotStarted) {
						// Swallow the release that belongs to the rejected press.
						<-hk.Keyup()
					}
				}

			case <-uiRecordChan:
				startUIRecording()

			case <-deviceSelectChan:
				handleDeviceSwitch(p)
			}
		}
	}
}

// abandonHybrid returns the hybrid state machine to idle after a press that
// could not start a recording. A tap would otherwise leave it in toggle mode.
func abandonHybrid(hy *hotkey.Hybrid, longPress time.Duration) {
	timer := time.NewTimer(longPress + 50*time.Millisecond)
	defer timer.Stop()
	select {
	case <-hy.StopChan():
	case <-timer.C:
		if hy.IsToggle() {
			hy.Cancel()
		}
	}
}

// toggleUIRecording starts a recording from the TUI, or stops the one it started.
func toggleUIRecording() {
	if fireUIStop() {
		return
	}
	select {
	case uiRecordChan <- struct{}{}:
	default:
	}
}

func handleDeviceSwitch(p *pipeline) {
	tuiMu.Lock()
	prog := tuiProgram
	tuiMu.Unlock()
	if prog != nil {
		prog.ReleaseTerminal()
	}
	current := ""
	if sel := p.selectedDevice(); sel != nil {
		current = sel.Name
	}
	dev, err := audio.SelectDevice(p.actx, current)
	if prog != nil {
		prog.RestoreTerminal()
	}
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		return
	}
	if dev == nil {
		return
	}
	if err := p.switchDevice(dev); err != nil {
		logToTUI("device switch failed: %v", err)
	}
}

func modeLineText(cfg config.Config) string {
	voice := "speech off"
	if cfg.SpeechEnabled() {
		voice = cfg.DeepgramVoice
	}
	return fmt.Sprintf("[%s | %s | %s]", cfg.AudioFormat, cfg.Language, voice)
}
