package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// CrashLogDir receives crash reports, set by InstallCrashHandler
var CrashLogDir = "./logs"

// InstallCrashHandler points crash reports at logDir and makes sure it exists
func InstallCrashHandler(logDir string) {
	if logDir != "" {
		CrashLogDir = logDir
	}
	if err := os.MkdirAll(CrashLogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: failed to create log directory: %v\n", err)
	}
}

// WriteCrashFile writes a panic report with all goroutine stacks and returns its path.
// name identifies the goroutine; fatal reports and recovered panics use different prefixes.
func WriteCrashFile(name string, fatal bool, panicVal interface{}, stackTrace string) string {
	prefix := "panic"
	if fatal {
		prefix = "crash"
	}
	crashPath := filepath.Join(CrashLogDir, fmt.Sprintf("%s-%s.log", prefix, time.Now().Format("2006-01-02T15-04-05.000")))

	var report bytes.Buffer
	fmt.Fprintf(&report, "=== STOCKPULSE %s REPORT ===\n", strings.ToUpper(prefix))
	fmt.Fprintf(&report, "Time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&report, "Version: %s\n", GetFullVersion())
	fmt.Fprintf(&report, "Goroutine: %s\n\n", name)
	fmt.Fprintf(&report, "=== PANIC VALUE ===\n%v\n\n", panicVal)
	fmt.Fprintf(&report, "=== STACK TRACE ===\n%s\n\n", stackTrace)
	fmt.Fprintf(&report, "=== ALL GOROUTINES ===\n%s\n", GetAllGoroutineStacks())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(&report, "=== RUNTIME ===\nNumGoroutine: %d\nAlloc: %d MB\nSys: %d MB\nNumGC: %d\n",
		runtime.NumGoroutine(), mem.Alloc/1024/1024, mem.Sys/1024/1024, mem.NumGC)

	if err := os.WriteFile(crashPath, report.Bytes(), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: failed to write crash file: %v\n%s", err, report.String())
		return ""
	}
	if fatal {
		fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - report saved to: %s !!!\nPanic: %v\n", crashPath, panicVal)
	}
	return crashPath
}

// GetAllGoroutineStacks returns stack traces for all goroutines, capped at 64 MB
func GetAllGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= 64*1024*1024 {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}

// GetStackTrace returns the current goroutine's stack trace
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// RecoverWithCrashFile writes a crash report and exits on panic.
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile("main", true, r, GetStackTrace())
		os.Exit(1)
	}
}
