package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Config holds the parsed command-line configuration.
type Config struct {
	// PID is the process whose mappings are inspected or watched.
	// Zero means the current process.
	PID int
	// Filter is an expression selecting which mappings to act on.
	Filter string
	// Lock requests locking the matching mappings of the current process.
	Lock bool
	// OnFault requests MLOCK_ONFAULT semantics for lock operations.
	OnFault bool
	// Watch is the smaps polling interval; zero disables watch mode.
	Watch time.Duration
	// TraceID is the OpenTelemetry trace ID (32 hex chars).
	TraceID string
	// Command is an optional executable to launch and watch.
	Command string
	// Args are the arguments to pass to the command.
	Args []string
}

// ParseArgs parses command-line arguments and returns a Config.
// Expected format:
//
//	memlock [--pid <pid>] [--filter <expr>] [--lock] [--onfault]
//	        [--watch <interval>] [--trace-id <id>] [-- <command> [args...]]
func ParseArgs(args []string) (*Config, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}

	cfg := &Config{}
	cmdStart := -1

	for i := 1; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			cmdStart = i + 1
			break
		}

		switch arg {
		case "--pid", "-p":
			value, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			pid, err := strconv.Atoi(value)
			if err != nil || pid < 0 {
				return nil, fmt.Errorf("--pid must be a non-negative integer, got %q", value)
			}
			cfg.PID = pid
		case "--filter", "-f":
			value, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			cfg.Filter = value
		case "--watch", "-w":
			value, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			interval, err := time.ParseDuration(value)
			if err != nil || interval <= 0 {
				return nil, fmt.Errorf("--watch must be a positive duration, got %q", value)
			}
			cfg.Watch = interval
		case "--trace-id", "-t":
			value, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			cfg.TraceID = value
		case "--lock":
			cfg.Lock = true
		case "--onfault":
			cfg.OnFault = true
		default:
			return nil, fmt.Errorf("unknown flag %q\n%s", arg, usage(args[0]))
		}
	}

	if cmdStart != -1 {
		if cmdStart >= len(args) {
			return nil, fmt.Errorf("no command given after --\n%s", usage(args[0]))
		}
		cmdArgs := args[cmdStart:]
		cfg.Command = cmdArgs[0]
		cfg.Args = cmdArgs[1:]
	}

	if cfg.Lock && cfg.PID != 0 {
		return nil, fmt.Errorf("--lock applies to the current process only and cannot be combined with --pid")
	}
	if cfg.Command != "" && cfg.PID != 0 {
		return nil, fmt.Errorf("--pid cannot be combined with a command; the command's PID is watched")
	}
	if cfg.Command != "" && cfg.Watch == 0 {
		// Launching a command implies watching it.
		cfg.Watch = time.Second
	}

	// Validate or generate trace ID
	if cfg.TraceID != "" {
		if len(cfg.TraceID) != 32 {
			return nil, fmt.Errorf("trace ID must be 32 hex characters, got %d", len(cfg.TraceID))
		}
		if _, err := hex.DecodeString(cfg.TraceID); err != nil {
			return nil, fmt.Errorf("trace ID must be valid hex: %v", err)
		}
	} else {
		traceID, err := generateTraceID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate trace ID: %v", err)
		}
		cfg.TraceID = traceID
	}

	return cfg, nil
}

// flagValue returns the value following the flag at *i, advancing *i past it.
func flagValue(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", fmt.Errorf("%s requires a value", args[*i])
	}
	*i++
	return args[*i], nil
}

func usage(programName string) string {
	return fmt.Sprintf("Usage: %s [--pid <pid>] [--filter <expr>] [--lock] [--onfault] [--watch <interval>] [-- <command> [args...]]\nExample: %s --filter 'path contains \"libc\"' --lock",
		programName, programName)
}

// generateTraceID generates a random 128-bit trace ID as 32 hex chars.
func generateTraceID() (string, error) {
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
