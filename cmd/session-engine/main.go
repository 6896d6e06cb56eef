package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pandaviolin/coach-engine/internal/audiograph"
	"github.com/pandaviolin/coach-engine/internal/bus"
	"github.com/pandaviolin/coach-engine/internal/config"
	"github.com/pandaviolin/coach-engine/internal/contracts"
	"github.com/pandaviolin/coach-engine/internal/metrics"
	"github.com/pandaviolin/coach-engine/internal/policy"
	"github.com/pandaviolin/coach-engine/internal/session"
	"github.com/pandaviolin/coach-engine/internal/store"
	"github.com/pandaviolin/coach-engine/internal/worker"
)

// #region main
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()

	events := bus.New()
	events.SetRecorder(st)
	subscribeEventPrinters(events)

	engine := policy.NewEngine(st)
	engine.Hydrate(ctx)

	profile := metrics.NewProfile(st, metrics.Options{
		QualityWindow:   cfg.QualityWindow,
		PersistInterval: cfg.ProfilePersistInterval,
	})

	device := audiograph.NewScriptedDevice(demoFrames(), cfg.FrameInterval, true)

	runtime := session.New(session.Deps{
		Engine:  engine,
		Profile: profile,
		Bus:     events,
		Prefs:   st,
		Quality: st,
		Device:  device,
		WorkerConfig: worker.Config{
			EvaluateTimeout: cfg.EvaluateTimeout,
			PresetTimeout:   cfg.PresetTimeout,
		},
		Config: session.Config{StateThrottle: cfg.StateThrottle},
	})
	runtime.Init(ctx)

	fmt.Println("Coach Engine ready.")
	fmt.Printf("  DB: %s | preset: %s\n", cfg.DBPath, engine.Snapshot().Preset)
	fmt.Println("Commands: start, stop, pause, resume, preset <gentle|standard|challenge>, view <id>, state, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]
		arg := ""
		if len(fields) > 1 {
			arg = fields[1]
		}

		switch cmd {
		case "quit", "exit":
			runtime.StopSession(ctx, "manual-stop")
			return
		case "start":
			runtime.StartSession(ctx)
		case "stop":
			runtime.StopSession(ctx, "manual-stop")
		case "pause":
			runtime.PauseSession(ctx, "manual-pause")
		case "resume":
			runtime.ResumeSession(ctx)
		case "preset":
			next := runtime.SetParentPreset(ctx, contracts.Preset(arg), "parent-zone")
			fmt.Printf("preset=%s\n", next)
		case "view":
			runtime.HandleViewChange(ctx, arg)
		case "state":
			printState(runtime.SessionState())
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

// #endregion main

// #region event-printers

func subscribeEventPrinters(events *bus.Bus) {
	events.Subscribe(contracts.EventCue, func(payload contracts.Payload) {
		cue, ok := payload.(contracts.Cue)
		if !ok {
			return
		}
		urgent := ""
		if cue.Urgent {
			urgent = " (urgent)"
		}
		fmt.Printf("\n  [cue] %s%s: %s\n", cue.State, urgent, cue.Message)
	})
	events.Subscribe(contracts.EventFallback, func(payload contracts.Payload) {
		fb, ok := payload.(contracts.Fallback)
		if !ok {
			return
		}
		fmt.Printf("\n  [fallback] reason=%s mode=%s\n", fb.Reason, fb.Mode)
	})
	events.Subscribe(contracts.EventQuality, func(payload contracts.Payload) {
		q, ok := payload.(contracts.Quality)
		if !ok {
			return
		}
		fmt.Printf("\n  [quality] p95=%.0fms falseCorrections=%.3f fallbacks=%.3f samples=%d\n",
			q.P95CueLatencyMs, q.FalseCorrectionRate, q.FallbackRate, q.SampleCount)
	})
}

func printState(snap session.Snapshot) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Printf("marshal state: %v", err)
		return
	}
	fmt.Println(string(data))
}

// #endregion event-printers

// #region demo-frames

// demoFrames scripts a short practice arc: quiet start, sharp intonation,
// late bowing, then a settled in-tune stretch.
func demoFrames() []contracts.FeatureFrame {
	frames := make([]contracts.FeatureFrame, 0, 64)
	add := func(n int, f contracts.FeatureFrame) {
		for i := 0; i < n; i++ {
			frames = append(frames, f)
		}
	}

	add(8, contracts.FeatureFrame{Note: "--", Confidence: 0.2})
	add(12, contracts.FeatureFrame{
		Frequency: 452, Note: "A4", Cents: 18, TempoBPM: 92,
		Confidence: 0.85, HasSignal: true,
	})
	add(12, contracts.FeatureFrame{
		Frequency: 440, Note: "A4", Cents: 2, TempoBPM: 92,
		Confidence: 0.8, RhythmOffsetMs: 120, Onset: true, HasSignal: true,
	})
	add(20, contracts.FeatureFrame{
		Frequency: 440, Note: "A4", Cents: 1, TempoBPM: 92,
		Confidence: 0.9, RhythmOffsetMs: 5, HasSignal: true,
	})
	return frames
}

// #endregion demo-frames
