package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/l1jgo/modbus/internal/config"
	"github.com/l1jgo/modbus/internal/console"
	"github.com/l1jgo/modbus/internal/core/event"
	coresys "github.com/l1jgo/modbus/internal/core/system"
	"github.com/l1jgo/modbus/internal/data"
	"github.com/l1jgo/modbus/internal/diag"
	"github.com/l1jgo/modbus/internal/persist"
	"github.com/l1jgo/modbus/internal/scripting"
	"github.com/l1jgo/modbus/internal/system"
	"github.com/l1jgo/modbus/internal/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Host lifecycle events. Fired with no listeners they are cached, so a mod
// loaded later still sees OnModsLoaded.
const (
	hostMod          = "modbus"
	eventModsLoaded  = "OnModsLoaded"
	eventModsReload  = "OnModsReloaded"
	eventHostStopped = "OnShutdown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/modbus.toml"
	if p := os.Getenv("MODBUS_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger, teed into the diagnostic buffer when persistence is on
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	var diagBuf *diag.Buffer
	if cfg.Diagnostics.Enabled {
		level, err := zapcore.ParseLevel(cfg.Diagnostics.Level)
		if err != nil {
			return fmt.Errorf("diagnostics level: %w", err)
		}
		diagBuf = diag.NewBuffer(cfg.Diagnostics.BufferSize)
		diagCore := diag.NewCore(diagBuf, level)
		log = log.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, diagCore)
		}))
	}

	printBanner(cfg.Server.Name, cfg.Mods.Dir)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 3. Tracing and diagnostic storage
	printSection("Telemetry")
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		printOK("OTLP tracing → " + cfg.Tracing.Endpoint)
	} else {
		printOK("tracing disabled")
	}

	var store persist.DiagnosticStore
	if cfg.Diagnostics.Enabled {
		store, err = persist.OpenDiagnosticStore(ctx, cfg.Diagnostics, log)
		if err != nil {
			return fmt.Errorf("diagnostic store: %w", err)
		}
		defer store.Close()
		printOK(fmt.Sprintf("diagnostics → %s (migrations applied)", cfg.Diagnostics.Driver))
	} else {
		printOK("diagnostics persistence disabled")
	}
	fmt.Println()

	// 4. Event bus on the loop-driven timer
	timers := system.NewTimerSystem(log)
	bus := event.NewBus(log.Named("bus"), event.WithScheduler(timers))
	bus.Init()
	bus.RegisterEvent(eventModsLoaded, hostMod, "all mods have been loaded", []string{"count"})
	bus.RegisterEvent(eventModsReload, hostMod, "mods changed on disk were reloaded", []string{"names"})
	bus.RegisterEvent(eventHostStopped, hostMod, "the host is shutting down", nil)

	// 5. Load mods
	printSection("Mods")
	table, err := data.LoadModTable(cfg.Mods.Dir)
	if err != nil {
		return fmt.Errorf("load mods: %w", err)
	}
	engine := scripting.NewEngine(bus, log.Named("lua"))
	defer engine.Close()

	loaded := engine.LoadMods(table)
	for _, m := range engine.Mods() {
		if m.Err != nil {
			printFail(fmt.Sprintf("%s: %v", m.Name, m.Err))
			continue
		}
		printStat(m.Name+" "+m.Version, m.Scripts)
	}
	printStat("Mods loaded", loaded)
	printStat("Events declared", len(bus.Events()))
	fmt.Println()
	bus.FireEvent(eventModsLoaded, loaded)

	reload := func() ([]string, error) {
		table, err := data.LoadModTable(cfg.Mods.Dir)
		if err != nil {
			return nil, err
		}
		names := engine.Reload(table)
		if len(names) > 0 {
			log.Info("mods reloaded", zap.Strings("mods", names))
			bus.FireEvent(eventModsReload, names)
		}
		return names, nil
	}

	// 6. Systems
	var (
		quitOnce sync.Once
		quitCh   = make(chan struct{})
	)
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	var out io.Writer = os.Stdout
	var rl *lineReader
	if cfg.Console.Enabled {
		rl, err = newLineReader(cfg.Console)
		if err != nil {
			return fmt.Errorf("console: %w", err)
		}
		defer rl.Close()
		out = rl.Stdout()
	}

	con := console.New(console.Deps{
		Bus:    bus,
		Mods:   engine,
		Reload: reload,
		Diag:   store,
		Quit:   quit,
		Log:    log.Named("console"),
	}, out)

	runner := coresys.NewRunner()
	cmdSys := system.NewCommandSystem(con.Execute, 64, 8, log)
	runner.Register(cmdSys)
	runner.Register(timers)

	if cfg.Mods.Watch {
		watcher, err := scripting.NewWatcher(cfg.Mods.Dir, log.Named("watch"))
		if err != nil {
			return fmt.Errorf("mod watcher: %w", err)
		}
		watcher.Start(runCtx)
		runner.Register(system.NewReloadSystem(watcher.Changed(), func() {
			if _, err := reload(); err != nil {
				log.Error("mod reload failed", zap.Error(err))
			}
		}))
	}

	var persistSys *system.PersistSystem
	if store != nil {
		persistSys = system.NewPersistSystem(diagBuf, store, log, cfg.Diagnostics.FlushInterval)
		runner.Register(persistSys)
	}

	// 7. Start loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Loop.TickRate)
	defer ticker.Stop()

	printSection("Ready")
	printReady(fmt.Sprintf("loop started (tick: %s, systems: %d)", cfg.Loop.TickRate, runner.Len()))
	if rl != nil {
		printReady("console ready, type help")
		go rl.Run(runCtx, cmdSys.Submit, quit)
	}
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Loop.TickRate)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			shutdown(bus, persistSys, log)
			return nil
		case <-quitCh:
			shutdown(bus, persistSys, log)
			return nil
		}
	}
}

func shutdown(bus *event.Bus, persistSys *system.PersistSystem, log *zap.Logger) {
	r := bus.FireEvent(eventHostStopped)
	log.Info("shutdown event delivered", zap.Int("listeners", len(r.Outcomes)), zap.Int("failures", r.Failures()))
	if persistSys != nil {
		persistSys.Flush()
	}
	log.Info("modbus stopped")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
