package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/selflog"
)

// FileOptions configures the rotating file transport.
type FileOptions struct {
	// Path is the active log file. Rotated files get a timestamp suffix
	// next to it.
	Path string

	// MaxSize rotates the file once it reaches this many bytes.
	// 0 disables size-based rotation.
	MaxSize int64

	// Rotate selects time-based rotation: "daily" or "hourly".
	// Empty disables time-based rotation.
	Rotate string

	// MaxAgeDays prunes rotated files older than this. 0 keeps all.
	MaxAgeDays int

	// MaxFiles caps the number of rotated files kept, newest first.
	// 0 keeps all.
	MaxFiles int

	// MinLevel filters entries below this severity.
	MinLevel core.Level

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// File writes entries as JSON lines, rotating by date and size and pruning
// old rotated files.
type File struct {
	mu   sync.Mutex
	opts FileOptions

	file        *os.File
	currentSize int64
	periodStart time.Time
	now         func() time.Time
	enabled     bool
}

// NewFile creates a file transport, opening the active file eagerly so
// permission problems surface at construction.
func NewFile(opts FileOptions) (*File, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("file transport requires a path")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	f := &File{opts: opts, now: opts.Now}
	if err := f.open(); err != nil {
		return nil, err
	}
	f.periodStart = f.periodFor(f.now())
	f.enabled = true
	return f, nil
}

func (f *File) Name() string         { return "file" }
func (f *File) MinLevel() core.Level { return f.opts.MinLevel }

func (f *File) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// Log writes one entry.
func (f *File) Log(entry *core.LogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.write(entry)
}

// LogBatch writes entries in order. Write failures are contained: the
// transport reports them to selflog and stays up, so it never fails a
// pipeline flush over a transient disk error.
func (f *File) LogBatch(_ context.Context, entries []*core.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		f.write(e)
	}
	return nil
}

// Flush syncs the active file to disk.
func (f *File) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

// Close syncs and closes the active file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	f.enabled = false
	if err := f.file.Sync(); err != nil {
		f.file.Close()
		return err
	}
	return f.file.Close()
}

func (f *File) write(entry *core.LogEntry) {
	if !f.enabled {
		return
	}

	if f.shouldRotate() {
		if err := f.rotate(); err != nil {
			selflog.Printf("[file] rotation failed: %v", err)
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		if selflog.IsEnabled() {
			selflog.Printf("[file] marshal failed: %v", err)
		}
		return
	}
	n, err := f.file.Write(append(data, '\n'))
	if err != nil {
		selflog.Printf("[file] write failed: %v", err)
		return
	}
	f.currentSize += int64(n)
}

func (f *File) open() error {
	if err := os.MkdirAll(filepath.Dir(f.opts.Path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(f.opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	f.file = file
	f.currentSize = stat.Size()
	return nil
}

func (f *File) shouldRotate() bool {
	if f.opts.MaxSize > 0 && f.currentSize >= f.opts.MaxSize {
		return true
	}
	if f.opts.Rotate != "" && f.periodFor(f.now()).After(f.periodStart) {
		return true
	}
	return false
}

// periodFor truncates t to the rotation period boundary.
func (f *File) periodFor(t time.Time) time.Time {
	switch f.opts.Rotate {
	case "hourly":
		return t.Truncate(time.Hour)
	case "daily":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	default:
		return time.Time{}
	}
}

// rotate renames the active file with a timestamp suffix, reopens a fresh
// one, and prunes old rotated files.
func (f *File) rotate() error {
	if err := f.file.Close(); err != nil {
		return err
	}

	rotated := f.rotatedName(f.now())
	if err := os.Rename(f.opts.Path, rotated); err != nil {
		// Reopen the original so logging continues even if rename failed.
		if openErr := f.open(); openErr != nil {
			f.enabled = false
			return fmt.Errorf("rename failed (%v) and reopen failed: %w", err, openErr)
		}
		return err
	}

	if err := f.open(); err != nil {
		f.enabled = false
		return err
	}
	f.periodStart = f.periodFor(f.now())

	f.prune()
	return nil
}

// rotatedName builds the timestamp-suffixed name for a rotated file.
func (f *File) rotatedName(t time.Time) string {
	ext := filepath.Ext(f.opts.Path)
	base := strings.TrimSuffix(f.opts.Path, ext)
	return fmt.Sprintf("%s-%s%s", base, t.Format("20060102-150405"), ext)
}

// prune deletes rotated files beyond MaxFiles or older than MaxAgeDays,
// retaining newest first.
func (f *File) prune() {
	ext := filepath.Ext(f.opts.Path)
	base := strings.TrimSuffix(filepath.Base(f.opts.Path), ext)
	dir := filepath.Dir(f.opts.Path)

	matches, err := filepath.Glob(filepath.Join(dir, base+"-*"+ext))
	if err != nil {
		return
	}

	type rotatedFile struct {
		path    string
		modTime time.Time
	}
	var files []rotatedFile
	for _, m := range matches {
		stat, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, rotatedFile{path: m, modTime: stat.ModTime()})
	}

	// Newest first.
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	cutoff := time.Time{}
	if f.opts.MaxAgeDays > 0 {
		cutoff = f.now().AddDate(0, 0, -f.opts.MaxAgeDays)
	}

	for i, rf := range files {
		tooMany := f.opts.MaxFiles > 0 && i >= f.opts.MaxFiles
		tooOld := !cutoff.IsZero() && rf.modTime.Before(cutoff)
		if tooMany || tooOld {
			if err := os.Remove(rf.path); err != nil && selflog.IsEnabled() {
				selflog.Printf("[file] prune of %s failed: %v", rf.path, err)
			}
		}
	}
}
