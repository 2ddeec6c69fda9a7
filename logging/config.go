package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Options controls where and how much the service logs
type Options struct {
	Dir            string
	Prefix         string // log file prefix, files are <prefix>-YYYY-Www[_NN].log
	Level          slog.Level
	RetentionWeeks int
	MaxFileSize    int64
}

// RotatingFile is an io.Writer over weekly log files. A new file is opened
// when the ISO week changes or the current file would exceed MaxFileSize.
type RotatingFile struct {
	dir         string
	prefix      string
	retention   time.Duration
	maxFileSize int64
	numbered    *regexp.Regexp

	mu   sync.Mutex
	file *os.File
	week string
	size int64
	now  func() time.Time

	stop        context.CancelFunc
	cleanupDone chan struct{}
}

// NewRotatingFile opens (or resumes) the log file for the current week and
// starts the daily retention cleanup.
func NewRotatingFile(dir, prefix string, retentionWeeks int, maxFileSize int64) (*RotatingFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rf := &RotatingFile{
		dir:         dir,
		prefix:      prefix,
		retention:   time.Duration(retentionWeeks) * 7 * 24 * time.Hour,
		maxFileSize: maxFileSize,
		numbered:    regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-\d{4}-W\d{2}_(\d{2})\.log$`),
		now:         time.Now,
		stop:        cancel,
		cleanupDone: make(chan struct{}),
	}

	rf.mu.Lock()
	err := rf.open(weekKey(rf.now()), false)
	rf.mu.Unlock()
	if err != nil {
		cancel()
		return nil, err
	}

	go rf.cleanupLoop(ctx)

	return rf, nil
}

// weekKey returns the week key in YYYY-Www format (ISO week)
func weekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// Write writes p to the current file, rotating first when needed
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	week := weekKey(rf.now())
	switch {
	case week != rf.week:
		if err := rf.open(week, false); err != nil {
			return 0, err
		}
	case rf.maxFileSize > 0 && rf.size+int64(len(p)) > rf.maxFileSize:
		if err := rf.open(week, true); err != nil {
			return 0, err
		}
	}

	if rf.file == nil {
		return 0, fmt.Errorf("no log file available")
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// open switches to the file for week. With full set, the current file is
// known to be at its size limit and the next numbered file is used.
// Caller must hold mu.
func (rf *RotatingFile) open(week string, full bool) error {
	if rf.file != nil {
		if err := rf.file.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file during rotation: %v\n", err)
		}
		rf.file = nil
	}

	name := rf.pickFile(week, full)
	path := filepath.Join(rf.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	var size int64
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	rf.file = file
	rf.week = week
	rf.size = size
	return nil
}

// pickFile returns the base file name to append to for week
func (rf *RotatingFile) pickFile(week string, full bool) string {
	highest, size := rf.highestNumbered(week)
	if highest > 0 {
		if !full && (rf.maxFileSize == 0 || size < rf.maxFileSize) {
			return rf.numberedName(week, highest)
		}
		return rf.numberedName(week, highest+1)
	}

	base := fmt.Sprintf("%s-%s.log", rf.prefix, week)
	if full {
		return rf.numberedName(week, 1)
	}
	if info, err := os.Stat(filepath.Join(rf.dir, base)); err == nil && rf.maxFileSize > 0 && info.Size() >= rf.maxFileSize {
		return rf.numberedName(week, 1)
	}
	return base
}

func (rf *RotatingFile) numberedName(week string, num int) string {
	return fmt.Sprintf("%s-%s_%02d.log", rf.prefix, week, num)
}

// highestNumbered finds the highest NN of <prefix>-<week>_NN.log and its size
func (rf *RotatingFile) highestNumbered(week string) (int, int64) {
	matches, _ := filepath.Glob(filepath.Join(rf.dir, fmt.Sprintf("%s-%s_??.log", rf.prefix, week)))

	highest := 0
	var size int64
	for _, match := range matches {
		m := rf.numbered.FindStringSubmatch(filepath.Base(match))
		if len(m) < 2 {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		if num <= highest {
			continue
		}
		highest = num
		size = 0
		if info, err := os.Stat(match); err == nil {
			size = info.Size()
		}
	}

	return highest, size
}

func (rf *RotatingFile) cleanupLoop(ctx context.Context) {
	defer close(rf.cleanupDone)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rf.cleanupOldLogs(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to cleanup old logs: %v\n", err)
			}
		}
	}
}

// cleanupOldLogs removes this writer's log files older than the retention
// period and returns how many were deleted
func (rf *RotatingFile) cleanupOldLogs() (int, error) {
	entries, err := os.ReadDir(rf.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read log directory: %w", err)
	}

	cutoff := rf.now().Add(-rf.retention)
	deleted := 0

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, rf.prefix+"-") || !strings.HasSuffix(name, ".log") {
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		rf.mu.Lock()
		current := rf.file != nil && filepath.Base(rf.file.Name()) == name
		rf.mu.Unlock()
		if current {
			continue
		}

		if err := os.Remove(filepath.Join(rf.dir, name)); err == nil {
			deleted++
		}
	}

	return deleted, nil
}

// Close stops the cleanup goroutine and closes the current file
func (rf *RotatingFile) Close() error {
	rf.stop()

	select {
	case <-rf.cleanupDone:
	case <-time.After(time.Second):
	}

	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

// NewLogger builds a logger writing text to the console and JSON to a
// rotating file. When the file cannot be opened it falls back to the console
// only, and the returned closer is a no-op.
func NewLogger(console io.Writer, opts Options) (*slog.Logger, io.Closer) {
	consoleHandler := slog.NewTextHandler(console, &slog.HandlerOptions{Level: opts.Level})

	if opts.Dir == "" {
		return slog.New(consoleHandler), nopCloser{}
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "app"
	}

	rf, err := NewRotatingFile(opts.Dir, prefix, opts.RetentionWeeks, opts.MaxFileSize)
	if err != nil {
		logger := slog.New(consoleHandler)
		logger.Error("Failed to initialize rotating logger, logging to console only", "error", err)
		return logger, nopCloser{}
	}

	fileHandler := slog.NewJSONHandler(rf, &slog.HandlerOptions{Level: opts.Level})

	return slog.New(&multiHandler{handlers: []slog.Handler{consoleHandler, fileHandler}}), rf
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// parseLogLevel maps LOG_LEVEL values to slog levels, defaulting to info
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// multiHandler fans records out to several handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: newHandlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: newHandlers}
}
