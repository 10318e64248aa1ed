// Package debug is the component-tagged diagnostic logger used across semidx.
//
// Output is off unless debug mode is enabled (build flag or SEMIDX_DEBUG / DEBUG
// environment variable) and a writer has been configured. MCP mode silences
// everything because stdout belongs to the protocol.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Build flag for debug mode
// go build -ldflags "-X github.com/standardbeagle/semidx/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// MCPMode is set by the mcp command
var MCPMode = false

var (
	debugOutput io.Writer
	debugFile   *os.File
	debugMutex  sync.Mutex
)

// Component tags used by the rest of the module.
const (
	ComponentElection = "ELECT"
	ComponentIndex    = "INDEX"
	ComponentQuery    = "QUERY"
	ComponentRPC      = "RPC"
	ComponentWatch    = "WATCH"
	ComponentMCP      = "MCP"
)

// SetMCPMode enables MCP mode which suppresses all debug output
func SetMCPMode(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	MCPMode = enabled
}

// SetDebugOutput sets the writer for debug output. nil disables output.
func SetDebugOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitDebugLogFile routes debug output to a timestamped file under the
// system temp directory and returns its path.
func InitDebugLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "semidx-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("debug-%s-%d.log", time.Now().Format("2006-01-02T150405"), os.Getpid()))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return logPath, nil
}

// CloseDebugLog closes the debug log file if one is open.
func CloseDebugLog() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile == nil {
		return nil
	}
	err := debugFile.Close()
	debugFile = nil
	debugOutput = nil
	return err
}

// IsDebugEnabled reports whether debug output is on
func IsDebugEnabled() bool {
	debugMutex.Lock()
	mcp := MCPMode
	debugMutex.Unlock()
	if mcp {
		return false
	}
	if EnableDebug == "true" {
		return true
	}
	for _, key := range []string{"SEMIDX_DEBUG", "DEBUG"} {
		if v := os.Getenv(key); v == "1" || v == "true" {
			return true
		}
	}
	return false
}

func writer() io.Writer {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	return debugOutput
}

// Printf prints untagged debug output
func Printf(format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	if w := writer(); w != nil {
		fmt.Fprintf(w, "[DEBUG] "+format, args...)
	}
}

// Log writes a component-tagged debug line. A trailing newline is added when
// the format lacks one.
func Log(component, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := writer()
	if w == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	fmt.Fprintf(w, "[DEBUG:%s] %s", component, msg)
}

func LogElection(format string, args ...interface{}) { Log(ComponentElection, format, args...) }
func LogIndexing(format string, args ...interface{}) { Log(ComponentIndex, format, args...) }
func LogQuery(format string, args ...interface{})    { Log(ComponentQuery, format, args...) }
func LogRPC(format string, args ...interface{})      { Log(ComponentRPC, format, args...) }
func LogWatch(format string, args ...interface{})    { Log(ComponentWatch, format, args...) }
func LogMCP(format string, args ...interface{})      { Log(ComponentMCP, format, args...) }

// CatastrophicError records a failure that leaves the process unable to serve.
// Suppressed in MCP mode.
func CatastrophicError(format string, args ...interface{}) {
	debugMutex.Lock()
	mcp := MCPMode
	debugMutex.Unlock()
	if mcp {
		return
	}
	if w := writer(); w != nil {
		fmt.Fprintf(w, "[CATASTROPHIC] %s\n", fmt.Sprintf(format, args...))
	}
}
