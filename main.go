// ABOUTME: Entry point for the playd daemon
// ABOUTME: Loads configuration, wires the decoder, player and outputs, and serves the HTTP API
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/playd/internal/config"
	"github.com/Resonate-Protocol/playd/internal/discovery"
	"github.com/Resonate-Protocol/playd/internal/idle"
	"github.com/Resonate-Protocol/playd/internal/metrics"
	"github.com/Resonate-Protocol/playd/internal/queue"
	"github.com/Resonate-Protocol/playd/internal/server"
	"github.com/Resonate-Protocol/playd/internal/ui"
	"github.com/Resonate-Protocol/playd/internal/version"
	"github.com/Resonate-Protocol/playd/pkg/audio/decode"
	"github.com/Resonate-Protocol/playd/pkg/audio/output"
	"github.com/Resonate-Protocol/playd/pkg/outputs"
	"github.com/Resonate-Protocol/playd/pkg/player"
	"github.com/Resonate-Protocol/playd/pkg/song"
)

var (
	configFile  = flag.String("config", "playd.yaml", "Configuration file")
	envFile     = flag.String("env", ".env", "Dotenv file with PLAYD_* overrides")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	name        = flag.String("name", "", "Instance name (default: hostname-playd)")
	musicDir    = flag.String("music-dir", "", "Directory for relative song paths")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFile     = flag.String("log-file", "", "Log file path")
	useTUI      = flag.Bool("tui", false, "Show the status screen")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	discover    = flag.Bool("discover", false, "List playd instances on the network and exit")
	saveConfig  = flag.Bool("save-config", false, "Write the effective configuration to -config and exit")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *discover {
		if err := runDiscover(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if *saveConfig {
		if err := config.Save(*configFile, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, flag.Args()); err != nil {
		log.Error().Err(err).Msg("playd failed")
		closeLog()
		os.Exit(1)
	}
}

// loadConfig layers the file, the environment and the flags given explicitly
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}

	vars, err := config.LoadEnvFiles(*envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(config.EnvLookup(vars)); err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.HTTP.Listen = *listen
		case "name":
			cfg.Zeroconf.Name = *name
		case "music-dir":
			cfg.MusicDirectory = *musicDir
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-file":
			cfg.Log.File = *logFile
		case "tui":
			cfg.TUI = *useTUI
		case "no-mdns":
			cfg.Zeroconf.Enabled = !*noMDNS
		}
	})

	if cfg.Zeroconf.Name == "" || cfg.Zeroconf.Name == "playd" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Zeroconf.Name = fmt.Sprintf("%s-playd", hostname)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging configures the global zerolog logger. With the TUI on, logs
// go only to the file since the screen belongs to the TUI.
func setupLogging(cfg *config.Config) (func(), error) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	path := cfg.Log.File
	if path == "" && cfg.TUI {
		path = "playd.log"
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	if path == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}

	var w io.Writer = f
	if !cfg.TUI {
		w = io.MultiWriter(console, f)
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return func() { _ = f.Close() }, nil
}

func runDiscover() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	found, err := discovery.Browse(ctx, 3*time.Second)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("no instances found")
		return nil
	}
	for _, inst := range found {
		fmt.Printf("%s\t%s:%d\t%s", inst.Name, inst.Host, inst.Port, inst.ID)
		if len(inst.Streams) > 0 {
			fmt.Printf("\tstreams=%s", strings.Join(inst.Streams, ","))
		}
		fmt.Println()
	}
	return nil
}

// buildOutputs creates every configured device and its control
func buildOutputs(cfg *config.Config) (*outputs.MultipleOutputs, []string, error) {
	_, rg, err := cfg.ReplayGainSettings()
	if err != nil {
		return nil, nil, err
	}

	var controls []*outputs.Control
	var streams []string
	for _, o := range cfg.Outputs {
		dev, err := output.New(o.Type, o.Name, output.Params(o.Params))
		if err != nil {
			return nil, nil, fmt.Errorf("output %q: %w", o.Name, err)
		}
		oc, err := o.OutputControl(dev, rg)
		if err != nil {
			return nil, nil, fmt.Errorf("output %q: %w", o.Name, err)
		}
		controls = append(controls, outputs.NewControl(oc))
		if _, ok := dev.(*output.Stream); ok {
			streams = append(streams, o.Name)
		}
		log.Info().Str("output", o.Name).Str("type", o.Type).Bool("enabled", o.IsEnabled()).Msg("configured output")
	}
	if len(controls) == 0 {
		return nil, nil, fmt.Errorf("no audio outputs configured")
	}
	return outputs.New(controls), streams, nil
}

func run(cfg *config.Config, args []string) error {
	log.Info().Str("version", version.Version).Str("name", cfg.Zeroconf.Name).Msg("starting playd")

	outs, streams, err := buildOutputs(cfg)
	if err != nil {
		return err
	}

	format, err := cfg.AudioFormat()
	if err != nil {
		return err
	}
	rgMode, rg, err := cfg.ReplayGainSettings()
	if err != nil {
		return err
	}

	id := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(cfg.Zeroconf.Name)).String()
	hub := idle.NewHub(id, cfg.Zeroconf.Name)
	q := queue.New(hub.Broadcast)

	pc := player.New(player.Listeners{q, hub}, outs, player.Config{
		BufferChunks:       cfg.Audio.BufferChunks,
		BufferedBeforePlay: cfg.Audio.BufferedBeforePlay,
		ConfiguredFormat:   format,
		ReplayGain:         rg,
		ReplayGainMode:     rgMode,
		CrossFade:          cfg.CrossFadeSettings(),
		Registry:           decode.DefaultRegistry(),
	})
	outs.SetClient(pc)
	q.Attach(pc)

	collector := metrics.NewCollector(pc, outs, pc.Buffer())
	metricsHandler, err := metrics.Handler(collector)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	srv := server.New(server.Config{Listen: cfg.HTTP.Listen, MusicDirectory: cfg.MusicDirectory},
		pc, q, outs, hub, metricsHandler)
	srv.SetReplayGainMode(rgMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return q.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	if cfg.Zeroconf.Enabled {
		port := listenPort(cfg.HTTP.Listen)
		mdns := discovery.NewManager(discovery.Config{
			InstanceName: cfg.Zeroconf.Name,
			ID:           id,
			Port:         port,
			Streams:      streams,
		})
		if err := mdns.Advertise(); err != nil {
			log.Warn().Err(err).Msg("failed to start mDNS advertisement")
		} else {
			defer mdns.Stop()
		}
	}

	d := &daemon{player: pc, queue: q, outputs: outs}
	if cfg.TUI {
		prog := ui.Run(cfg.Zeroconf.Name, d.status, d)
		g.Go(func() error {
			_, err := prog.Run()
			// quitting the TUI stops the daemon
			stop()
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			prog.Quit()
			return nil
		})
	}

	if len(args) > 0 {
		for _, a := range args {
			q.Add(song.New(a))
		}
		if err := q.Play(0); err != nil {
			log.Error().Err(err).Msg("failed to start playback")
		}
	}

	err = g.Wait()

	log.Info().Msg("shutting down")
	pc.Kill()
	outs.Kill()
	log.Info().Msg("playd stopped")
	return err
}

func listenPort(addr string) int {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return 0
	}
	var port int
	fmt.Sscanf(addr[i+1:], "%d", &port)
	return port
}
