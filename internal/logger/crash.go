package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// CrashLogDir is the directory for crash logs relative to the data directory.
	CrashLogDir = "crash_logs"

	// MaxCrashLogs is the maximum number of crash logs to keep.
	MaxCrashLogs = 10
)

// CrashContext stores context for crash logging.
type CrashContext struct {
	mu       sync.RWMutex
	command  string
	args     string
	version  string
	basePath string
}

var globalContext = &CrashContext{}

// SetBasePath sets the directory crash logs are written under.
func SetBasePath(path string) {
	globalContext.mu.Lock()
	defer globalContext.mu.Unlock()
	globalContext.basePath = path
}

// SetVersion sets the binary version recorded in crash logs.
func SetVersion(version string) {
	globalContext.mu.Lock()
	defer globalContext.mu.Unlock()
	globalContext.version = version
}

// SetCommand records the command being executed and its arguments.
func SetCommand(cmd string, args []string) {
	globalContext.mu.Lock()
	defer globalContext.mu.Unlock()
	globalContext.command = cmd
	globalContext.args = truncateForLog(strings.Join(args, " "), 500)
}

func truncateForLog(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen] + "... [truncated]"
}

// CrashLog represents a crash log entry.
type CrashLog struct {
	Timestamp  time.Time
	Version    string
	Command    string
	Args       string
	PanicValue string
	StackTrace string
	GoVersion  string
	OS         string
	Arch       string
}

// HandlePanic recovers a panic, records it through log and in a crash file,
// and exits with status 2. A nil log means the global zap logger at the
// time of the panic. Usage: defer logger.HandlePanic(log)
func HandlePanic(log *zap.Logger) {
	r := recover()
	if r == nil {
		return
	}
	if log == nil {
		log = zap.L()
	}
	entry := createCrashLog(r)
	path, err := writeCrashLog(entry)
	log.Error("Unrecovered panic",
		zap.String("panic", entry.PanicValue),
		zap.String("command", entry.Command),
		zap.String("crash_log", path),
		zap.Error(err))
	_ = log.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "panic: %s\n%s\n", entry.PanicValue, entry.StackTrace)
	} else {
		fmt.Fprintf(os.Stderr, "planengine crashed; details in %s\n", path)
	}
	os.Exit(2)
}

func createCrashLog(panicValue any) CrashLog {
	globalContext.mu.RLock()
	defer globalContext.mu.RUnlock()

	return CrashLog{
		Timestamp:  time.Now(),
		Version:    globalContext.version,
		Command:    globalContext.command,
		Args:       globalContext.args,
		PanicValue: fmt.Sprintf("%v", panicValue),
		StackTrace: string(debug.Stack()),
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
	}
}

// writeCrashLog stores entry and returns its path.
func writeCrashLog(entry CrashLog) (string, error) {
	dir := crashLogDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create crash log dir: %w", err)
	}
	// Pruning is best effort; the new log is written either way.
	_ = pruneCrashLogs(dir, MaxCrashLogs-1)

	path := filepath.Join(dir, fmt.Sprintf("crash_%s.log", entry.Timestamp.Format("20060102_150405")))
	if err := os.WriteFile(path, []byte(formatCrashLog(entry)), 0644); err != nil {
		return "", fmt.Errorf("write crash log: %w", err)
	}
	return path, nil
}

func crashLogDir() string {
	globalContext.mu.RLock()
	basePath := globalContext.basePath
	globalContext.mu.RUnlock()
	if basePath == "" {
		basePath = ".planengine"
	}
	return filepath.Join(basePath, CrashLogDir)
}

func formatCrashLog(entry CrashLog) string {
	var sb strings.Builder
	rule := strings.Repeat("-", 80) + "\n"

	sb.WriteString("PLANENGINE CRASH LOG\n")
	sb.WriteString(rule)
	fmt.Fprintf(&sb, "Timestamp: %s\n", entry.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Version:   %s\n", entry.Version)
	fmt.Fprintf(&sb, "Command:   %s %s\n", entry.Command, entry.Args)
	fmt.Fprintf(&sb, "Go:        %s\n", entry.GoVersion)
	fmt.Fprintf(&sb, "OS/Arch:   %s/%s\n", entry.OS, entry.Arch)
	sb.WriteString(rule)
	sb.WriteString(entry.PanicValue + "\n")
	sb.WriteString(rule)
	sb.WriteString(entry.StackTrace)
	return sb.String()
}

// pruneCrashLogs deletes the oldest crash logs until at most keep remain.
func pruneCrashLogs(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "crash_") && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e.Name())
		}
	}
	// os.ReadDir sorts by name, and names embed the timestamp.
	for i := 0; i < len(logs)-keep; i++ {
		if err := os.Remove(filepath.Join(dir, logs[i])); err != nil {
			return err
		}
	}
	return nil
}
