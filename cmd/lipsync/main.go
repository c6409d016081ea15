// cortex-lipsync drives avatar mouth shapes from live or recorded audio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/avatar"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/config"
	"github.com/normanking/cortexlipsync/internal/frame"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/logging"
	"github.com/normanking/cortexlipsync/internal/morph"
	"github.com/normanking/cortexlipsync/internal/server"
)

const sourceMic = "mic"

type flags struct {
	ConfigPath   string
	ModelPath    string
	WAVPath      string
	Mic          bool
	Listen       string
	TestSequence bool
	FPS          int
	Watch        bool
	ListDevices  bool
}

func main() {
	if err := run(parseFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "cortex-lipsync: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.ConfigPath, "config", "", "Config file (default: ~/.cortexlipsync/config.yaml)")
	flag.StringVar(&f.ModelPath, "model", "", "Avatar model (.gltf, .glb or .vrm)")
	flag.StringVar(&f.WAVPath, "wav", "", "Play a WAV file as the audio source")
	flag.BoolVar(&f.Mic, "mic", false, "Capture from the default microphone")
	flag.StringVar(&f.Listen, "listen", "", "Control server address (overrides config)")
	flag.BoolVar(&f.TestSequence, "test-sequence", false, "Run the vowel test sequence and exit")
	flag.IntVar(&f.FPS, "fps", 0, "Frame rate of the update loop (overrides config)")
	flag.BoolVar(&f.Watch, "watch", true, "Reload lip-sync settings when the config file changes")
	flag.BoolVar(&f.ListDevices, "list-devices", false, "List capture devices and exit")
	flag.Parse()
	return f
}

func run(f flags) error {
	if f.ListDevices {
		names, err := audio.CaptureDevices()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.ModelPath != "" {
		cfg.Avatar.ModelPath = f.ModelPath
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	if f.FPS > 0 {
		cfg.Avatar.FPS = f.FPS
	}

	logs, err := logging.New(logging.Config{
		Dir:     cfg.Log.Dir,
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File:    cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer logs.Close()
	log := logs.Component("main")

	log.Info().
		Str("model", cfg.Avatar.ModelPath).
		Int("fps", cfg.Avatar.FPS).
		Str("listen", cfg.Server.Listen).
		Str("log", logs.LogPath()).
		Msg("Starting cortex-lipsync")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := frame.NewTicker(cfg.Avatar.FPS)
	defer ticker.Close()

	events := bus.NewEventBus()
	resolver := morph.NewResolver(
		morph.WithHeuristic(cfg.Resolver.Keywords, cfg.Resolver.Attenuation),
		morph.WithLogger(logs.Component("morph")),
	)

	engine, err := lipsync.NewEngine(lipsync.Options{
		Config:    cfg.LipSync,
		Analyzer:  cfg.Analyzer,
		Resolver:  resolver,
		Scheduler: ticker,
		Bus:       events,
		Logger:    logs.Component("lipsync"),
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	if cfg.Avatar.ModelPath != "" {
		model, err := avatar.Load(cfg.Avatar.ModelPath)
		if err != nil {
			return err
		}
		engine.BindAvatar(model)
		log.Info().
			Str("avatar", model.ID).
			Str("format", string(model.Format)).
			Int("meshes", len(model.Meshes())).
			Strs("channels", engine.Channels()).
			Msg("Avatar bound")
	} else {
		log.Warn().Msg("No avatar model configured; frames are analyzed but not applied")
	}

	if f.Watch {
		if w := watchConfig(f.ConfigPath, cfg, engine, log); w != nil {
			defer w.Close()
		}
	}

	sources := newSourceFactory(cfg, f, logs.Component("audio"))

	if f.TestSequence {
		log.Info().Msg("Running vowel test sequence")
		if err := engine.RunTestSequence(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	if f.WAVPath != "" || f.Mic {
		src, err := sources(sourceName(f))
		if err != nil {
			return err
		}
		if err := engine.Start(ctx, src); err != nil {
			return err
		}
		if buf, ok := src.(*audio.BufferSource); ok && !cfg.Audio.Loop && cfg.Server.Listen == "" {
			select {
			case <-buf.Done():
				log.Info().Msg("Playback finished")
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	}

	if cfg.Server.Listen == "" {
		if !engine.Status().IsActive {
			return errors.New("nothing to do: pass -wav, -mic, -test-sequence or enable the control server")
		}
		<-ctx.Done()
		return nil
	}

	srv := server.New(server.Options{
		Controller: engine,
		Sources:    sources,
		Bus:        events,
		Logger:     logs.Component("server"),
		SendQueue:  cfg.Server.SendQueue,
	})
	if err := srv.ListenAndServe(ctx, cfg.Server.Listen); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info().Msg("Shut down")
	return nil
}

func sourceName(f flags) string {
	if f.Mic {
		return sourceMic
	}
	return f.WAVPath
}

// newSourceFactory resolves "mic" to the capture device and anything else to
// a WAV file. The empty name picks whichever the command line asked for.
func newSourceFactory(cfg *config.Config, f flags, logger zerolog.Logger) server.SourceFactory {
	var (
		mu      sync.Mutex
		capture *audio.CaptureSource
		clips   = make(map[string]*audio.BufferSource)
	)

	return func(name string) (audio.Source, error) {
		if name == "" {
			name = sourceName(f)
		}
		switch name {
		case "":
			return nil, errors.New("no default audio source; pass -wav or -mic")
		case sourceMic:
			mu.Lock()
			defer mu.Unlock()
			if capture == nil {
				capture = audio.NewCaptureSource(cfg.Audio.Capture, logger)
			}
			return capture, nil
		}

		abs, err := filepath.Abs(name)
		if err != nil {
			abs = name
		}

		mu.Lock()
		defer mu.Unlock()
		// one source per file; the audio graph restarts it once it has ended
		if src, ok := clips[abs]; ok {
			return src, nil
		}
		clip, err := audio.LoadWAV(abs)
		if err != nil {
			return nil, err
		}
		src := audio.NewBufferSource("file:"+abs, clip, audio.BufferOptions{
			ChunkFrames: cfg.Audio.ChunkFrames,
			Loop:        cfg.Audio.Loop,
		})
		clips[abs] = src
		return src, nil
	}
}

// watchConfig hot-applies lip-sync settings. Other sections need a restart.
func watchConfig(path string, current *config.Config, engine *lipsync.Engine, log zerolog.Logger) *config.Watcher {
	if path == "" {
		dir, err := config.GetConfigDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(dir, "config.yaml")
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	var mu sync.Mutex
	applied := current.LipSync

	w, err := config.Watch(path, func(next *config.Config) {
		mu.Lock()
		defer mu.Unlock()

		update := applied.Diff(next.LipSync)
		if update.Empty() {
			return
		}
		if err := engine.UpdateConfig(update); err != nil {
			log.Warn().Err(err).Msg("Ignoring reloaded lip-sync config")
			return
		}
		applied = next.LipSync
		log.Info().Interface("config", applied).Msg("Lip-sync config reloaded")
	}, log)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Config watch disabled")
		return nil
	}
	return w
}
