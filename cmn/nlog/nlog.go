// Package nlog is the pipeline's own leveled logger: one log file per run,
// written line by line without buffering; Warn and Error lines are always
// mirrored to stderr, Info lines too unless SetEcho(false). Modeled on the teacher's
// hand-rolled nlog package rather than the stdlib "log" package.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package nlog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{'I', 'W', 'E'}

var (
	mu           sync.Mutex
	file         *os.File
	toolName     string
	alsoToStderr = true // batch CLIs run attended; default to visible progress
)

// InitName opens logs/<tool>/<tool>.<host>.<timestamp>.log and directs all
// subsequent Infof/Warnf/Errorf calls there (and to stderr as SetEcho says).
// Every cmd/* main calls this before doing any other work.
func InitName(tool string) error {
	mu.Lock()
	defer mu.Unlock()

	toolName = tool
	dir := filepath.Join("logs", tool)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("nlog: create log dir %s: %w", dir, err)
	}
	host, _ := os.Hostname()
	name := fmt.Sprintf("%s.%s.%s.log", tool, host, time.Now().Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("nlog: open log file: %w", err)
	}
	file = f
	fmt.Fprintf(file, "started %s pid=%d go=%s/%s\n", time.Now().Format(time.RFC3339), os.Getpid(), runtime.GOOS, runtime.GOARCH)
	return nil
}

// SetEcho toggles mirroring Info lines to stderr in addition to Warn/Error,
// which are always mirrored.
func SetEcho(echo bool) {
	mu.Lock()
	alsoToStderr = echo
	mu.Unlock()
}

func Infof(format string, args ...any)  { write(sevInfo, format, args...) }
func Warnf(format string, args ...any)  { write(sevWarn, format, args...) }
func Errorf(format string, args ...any) { write(sevErr, format, args...) }

func write(sev severity, format string, args ...any) {
	line := format
	if len(args) > 0 {
		line = fmt.Sprintf(format, args...)
	}
	caller := callerInfo(3)
	ts := time.Now().Format("15:04:05.000")
	full := fmt.Sprintf("%c %s %s %s\n", sevChar[sev], ts, caller, line)

	mu.Lock()
	if file != nil {
		file.WriteString(full)
	}
	mu.Unlock()

	if alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(full)
	}
}

func callerInfo(skip int) string {
	_, fn, ln, ok := runtime.Caller(skip)
	if !ok {
		return "?:0"
	}
	if idx := strings.LastIndexByte(fn, '/'); idx >= 0 {
		fn = fn[idx+1:]
	}
	return fn + ":" + strconv.Itoa(ln)
}

// Close syncs and closes the run's log file. No cmd/* front end calls it;
// the file is otherwise closed when the process exits.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Sync()
		file.Close()
		file = nil
	}
}
