// memlock inspects, locks and watches the memory mappings of Linux processes.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"memlock/internal/config"
	"memlock/internal/filter"
	"memlock/internal/locker"
	"memlock/internal/lockset"
	"memlock/internal/memcall"
	"memlock/internal/otel"
	"memlock/internal/output"
	"memlock/internal/smaps"
	"memlock/internal/watch"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// setupOTEL initializes the OTEL provider and returns a tracer and cleanup function.
func setupOTEL() (trace.Tracer, func(), error) {
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}

	tp, err := otel.InitProvider(otelCfg, fmt.Sprintf("%s (%s)", version, commit))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(tp, shutdownCtx); err != nil {
			log.Printf("Error shutting down OTEL provider: %v", err)
		}
	}

	return tp.Tracer("memlock"), cleanup, nil
}

// compileFilter compiles the configured filter expression, if any.
func compileFilter(cfg *config.Config) (*filter.Evaluator, error) {
	if cfg.Filter == "" {
		return nil, nil
	}
	return filter.New(cfg.Filter)
}

// runInspect prints the (filtered) mappings of the target process.
func runInspect(cfg *config.Config, eval *filter.Evaluator) error {
	mappings, err := smaps.Snapshot(cfg.PID)
	if err != nil {
		return err
	}

	selected := mappings[:0]
	for i := range mappings {
		matched, err := eval.Match(&mappings[i])
		if err != nil {
			return err
		}
		if matched {
			selected = append(selected, mappings[i])
		}
	}

	return output.PrintMappings(os.Stdout, selected)
}

// runLock locks the matching mappings of the current process, verifies the
// result via smaps and reports each region.
func runLock(cfg *config.Config, eval *filter.Evaluator, tracer trace.Tracer) error {
	otelFormatter, err := output.NewOTELFormatter(tracer, cfg.TraceID)
	if err != nil {
		return err
	}
	handler := output.NewTee(output.NewTextFormatter(os.Stdout), otelFormatter)

	set := lockset.New()
	l := locker.New(memcall.Sys{}, set, eval, handler, nil, cfg.OnFault)

	otelFormatter.Begin("memlock pass")
	defer otelFormatter.End()

	if err := l.Run(); err != nil {
		return err
	}

	fmt.Printf("%d regions locked, %d bytes\n", set.Len(), set.TotalBytes())
	return nil
}

// runWatch polls a process's mappings for lock-state changes until a signal
// arrives or the launched command exits.
func runWatch(cfg *config.Config, tracer trace.Tracer) error {
	otelFormatter, err := output.NewOTELFormatter(tracer, cfg.TraceID)
	if err != nil {
		return err
	}

	pid := cfg.PID
	var childDone chan error

	var cmd *exec.Cmd
	if cfg.Command != "" {
		//nolint:gosec // Launching the given command is the tool's purpose
		cmd = exec.Command(cfg.Command, cfg.Args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("starting command: %w", err)
		}
		pid = cmd.Process.Pid
		fmt.Printf("Watching mappings of PID %d...\n", pid)

		childDone = make(chan error, 1)
		go func() {
			childDone <- cmd.Wait()
		}()
	}

	otelFormatter.Begin("memlock watch")
	defer otelFormatter.End()

	// Events go to stdout and to the watch span.
	text := output.NewTextFormatter(os.Stdout)
	handler := watchTee{text, otelFormatter}

	stream := watch.New(watch.NewProcSource(pid), handler, cfg.Watch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := stream.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := stream.Stop(); err != nil {
			log.Printf("Error stopping stream: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Println("Received signal, terminating...")
		if cmd != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM) //nolint:errcheck // Best-effort graceful shutdown; Kill() follows
			time.Sleep(100 * time.Millisecond)
			_ = cmd.Process.Kill() //nolint:errcheck // Best-effort cleanup during shutdown
		}
	case err := <-childDone:
		if err != nil {
			log.Printf("Child process exited with error: %v", err)
		}
	}

	// Let a final poll catch changes made just before exit.
	time.Sleep(cfg.Watch)

	return nil
}

// watchTee dispatches mapping events to both formatters.
type watchTee struct {
	text *output.TextFormatter
	otel *output.OTELFormatter
}

func (t watchTee) HandleMappingEvent(event *watch.Event) error {
	if err := t.text.HandleMappingEvent(event); err != nil {
		return err
	}
	return t.otel.HandleMappingEvent(event)
}

func run() error {
	cfg, err := config.ParseArgs(os.Args)
	if err != nil {
		return err
	}

	eval, err := compileFilter(cfg)
	if err != nil {
		return err
	}

	// Inspect mode needs no tracing backend.
	if !cfg.Lock && cfg.Watch == 0 {
		return runInspect(cfg, eval)
	}

	log.Printf("Starting memlock %s (commit: %s)", version, commit)

	tracer, cleanupOTEL, err := setupOTEL()
	if err != nil {
		return err
	}
	defer cleanupOTEL()

	if cfg.Lock {
		return runLock(cfg, eval, tracer)
	}
	return runWatch(cfg, tracer)
}
