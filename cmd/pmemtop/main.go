//go:build linux

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/load"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srodi/pmemtop/pkg/config"
	"github.com/srodi/pmemtop/pkg/export"
	"github.com/srodi/pmemtop/pkg/procfs"
	"github.com/srodi/pmemtop/pkg/report"
	"github.com/srodi/pmemtop/pkg/sampler"
	"github.com/srodi/pmemtop/pkg/types"
	"github.com/srodi/pmemtop/pkg/ui"
)

type runConfig struct {
	opts    config.Options
	debug   bool
	oneShot bool
}

func parseConfig() (runConfig, error) {
	defaults := config.Default()
	configPath := flag.String("config", defaultConfigPath(), "YAML file with option defaults")
	groupBy := flag.String("group-by", defaults.GroupBy, "grouping method: exe, cmd, or pid")
	sortBy := flag.String("sort-by", defaults.SortBy, "row ordering: mem, cpu, or name")
	minDelta := flag.Int64("min-delta-kb", 0, "tier-2 threshold in KB; <=0 triggers on change in either direction (default 100 for KB units, else 1000)")
	loopSecs := flag.Int("loop", defaults.LoopSecs, "loop interval in seconds; <=0 runs once")
	cmdLen := flag.Int("cmd-len", defaults.CmdLen, "max shown command length")
	topPct := flag.Int("top-pct", defaults.TopPct, "report groups contributing to this percent of ptotal")
	units := flag.String("units", defaults.Units, "memory units: KB, MB, mB, or human")
	others := flag.Bool("others", defaults.CollapseOther, "collapse shSYSV, shOth, stack, text into one other column")
	noCPU := flag.Bool("no-cpu", false, "do not report percent CPU")
	numbers := flag.Bool("numbers", defaults.Numbers, "show line numbers in the report")
	search := flag.String("search", defaults.Search, "show only groups whose label contains this string")
	listen := flag.String("listen", defaults.Listen, "serve Prometheus metrics on this address (empty disables)")
	logLevel := flag.String("log-level", defaults.LogLevel, "log level: debug, info, warn, or error")
	logFile := flag.String("log-file", defaults.LogFile, "write diagnostics to this file instead of stderr")
	debug := flag.Bool("debug", false, "include the pss column and debug diagnostics")
	flag.Parse()

	opts, err := config.Load(*configPath)
	if err != nil {
		return runConfig{}, err
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["group-by"] {
		opts.GroupBy = *groupBy
	}
	if set["sort-by"] {
		opts.SortBy = *sortBy
	}
	if set["min-delta-kb"] {
		opts.MinDeltaKB = minDelta
	}
	if set["loop"] {
		opts.LoopSecs = *loopSecs
	}
	if set["cmd-len"] {
		opts.CmdLen = *cmdLen
	}
	if set["top-pct"] {
		opts.TopPct = *topPct
	}
	if set["units"] {
		opts.Units = *units
	}
	if set["others"] {
		opts.CollapseOther = *others
	}
	if set["no-cpu"] {
		showCPU := !*noCPU
		opts.ShowCPU = &showCPU
	}
	if set["numbers"] {
		opts.Numbers = *numbers
	}
	if set["search"] {
		opts.Search = *search
	}
	if set["listen"] {
		opts.Listen = *listen
	}
	if set["log-level"] {
		opts.LogLevel = *logLevel
	}
	if set["log-file"] {
		opts.LogFile = *logFile
	}
	if args := flag.Args(); len(args) > 0 {
		opts.PIDFilter = args
	}
	if err := opts.Validate(); err != nil {
		return runConfig{}, err
	}
	return runConfig{opts: opts, debug: *debug, oneShot: opts.LoopSecs <= 0}, nil
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/pmemtop.yaml"
	}
	return ""
}

func configureLogging(cfg runConfig) {
	level := log.WarnLevel
	switch cfg.opts.LogLevel {
	case "debug":
		level = log.DebugLevel
	case "info":
		level = log.InfoLevel
	case "error":
		level = log.ErrorLevel
	}
	if cfg.debug {
		level = log.DebugLevel
	}
	var writer log.Writer = &log.IOWriter{Writer: os.Stderr}
	if cfg.opts.LogFile != "" {
		writer = &log.FileWriter{
			Filename:   cfg.opts.LogFile,
			MaxSize:    10 * 1024 * 1024,
			MaxBackups: 2,
			LocalTime:  true,
		}
	}
	log.DefaultLogger = log.Logger{
		Level:  level,
		Writer: writer,
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pmemtop: %v\n", err)
		os.Exit(2)
	}
	configureLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	showCPU := cfg.opts.ShowCPU == nil || *cfg.opts.ShowCPU
	s := sampler.New(procfs.NewOSFS(), sampler.Options{
		GroupBy:    types.GroupMode(cfg.opts.GroupBy),
		SortBy:     types.SortMode(cfg.opts.SortBy),
		MinDeltaKB: cfg.opts.EffectiveMinDelta(),
		CmdLen:     cfg.opts.CmdLen,
		TopPct:     cfg.opts.TopPct,
		PIDFilter:  cfg.opts.PIDFilter,
		ShowCPU:    showCPU,
		Search:     cfg.opts.Search,
	})
	formatter := report.New(report.Config{
		Units:         types.Units(cfg.opts.Units),
		ShowCPU:       showCPU,
		CollapseOther: cfg.opts.CollapseOther,
		Numbers:       cfg.opts.Numbers,
		Debug:         cfg.debug,
		GroupBy:       types.GroupMode(cfg.opts.GroupBy),
		SortBy:        types.SortMode(cfg.opts.SortBy),
	})

	var exporter *export.Collector
	if cfg.opts.Listen != "" {
		exporter = export.NewCollector()
		registry := prometheus.NewRegistry()
		registry.MustRegister(exporter)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.opts.Listen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	interactive := !cfg.oneShot && term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		cleanupTerminal := enableSingleView()
		defer cleanupTerminal()
	}

	interval := time.Duration(cfg.opts.LoopSecs) * time.Second
	for {
		tickStart := time.Now()
		rep, err := s.Tick(tickStart)
		if err != nil {
			if cfg.oneShot {
				fmt.Fprintf(os.Stderr, "pmemtop: %v\n", err)
				os.Exit(1)
			}
			log.Error().Err(err).Msg("tick failed")
		} else {
			if avg, err := load.Avg(); err == nil {
				rep.LoadAvg = avg.Load1
				rep.HaveLoad = true
			}
			if exporter != nil {
				exporter.Publish(rep)
			}
			printReport(formatter, rep, interactive)
			if rep.Grand.Number == 0 {
				fmt.Fprintln(os.Stderr, "DONE: no pids to report")
				return
			}
		}
		if cfg.oneShot {
			return
		}

		deadline := tickStart.Add(interval)
		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func printReport(formatter *report.Formatter, rep *types.Report, interactive bool) {
	var buf bytes.Buffer
	if interactive {
		buf.WriteString(ui.Banner())
		fmt.Fprintf(&buf, "pmemtop (press Ctrl+C to exit)\n\n")
	} else {
		buf.WriteString("\n")
	}
	buf.WriteString(formatter.Render(rep))
	if interactive {
		clearScreen()
	}
	fmt.Print(buf.String())
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}

func enableSingleView() func() {
	stdoutFD := int(os.Stdout.Fd())
	stdinFD := int(os.Stdin.Fd())
	if !term.IsTerminal(stdoutFD) {
		return func() {}
	}

	fmt.Print("\033[?1049h") // switch to alternate buffer
	fmt.Print("\033[?25l")   // hide cursor

	var restore []func()
	if term.IsTerminal(stdinFD) {
		if undoEcho, err := disableInputEcho(stdinFD); err != nil {
			log.Warn().Err(err).Msg("unable to suppress stdin echo")
		} else if undoEcho != nil {
			restore = append(restore, undoEcho)
		}
	}

	return func() {
		for i := len(restore) - 1; i >= 0; i-- {
			restore[i]()
		}
		fmt.Print("\033[?25h")   // show cursor
		fmt.Print("\033[?1049l") // restore main buffer
	}
}

// disableInputEcho turns off stdin echo so the alternate-screen view stays clean.
func disableInputEcho(fd int) (func(), error) {
	termState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}

	updated := *termState
	updated.Lflag &^= unix.ECHO

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &updated); err != nil {
		return nil, err
	}

	return func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, termState)
	}, nil
}
