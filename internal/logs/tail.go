package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	maxLineBytes = 1024 * 1024
	pollInterval = 2 * time.Second
)

// Last returns up to n trailing lines of path and the byte offset of the end
// of the file. A missing file yields no lines and offset 0.
func Last(path string, n int) ([]string, int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if n <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	ring := make([]string, n)
	count := 0
	end, err := scanFrom(file, 0, func(line string) {
		ring[count%n] = line
		count++
	})
	if err != nil {
		return nil, 0, err
	}

	if count <= n {
		return ring[:count], end, nil
	}
	out := make([]string, 0, n)
	start := count % n
	out = append(out, ring[start:]...)
	out = append(out, ring[:start]...)
	return out, end, nil
}

// Follow calls fn for every complete line appended to path after offset
// until ctx is done. A file that shrinks below offset is treated as rotated
// and read again from the start.
func Follow(ctx context.Context, path string, offset int64, fn func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so creation after rotation is seen too.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch log directory: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if offset, err = drain(path, offset, fn); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				offset = 0
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("log watcher: %w", werr)
		case <-ticker.C:
		}
	}
}

// drain emits the complete lines after offset and returns the new offset.
func drain(path string, offset int64, fn func(string)) (int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return offset, nil
	}
	return scanFrom(file, offset, fn)
}

// scanFrom reads newline-terminated lines starting at offset. A trailing
// partial line is left unread so a later call sees it whole.
func scanFrom(file *os.File, offset int64, fn func(string)) (int64, error) {
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		chunk, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			// Oversized line: keep consuming until its newline.
			buf := append([]byte(nil), chunk...)
			for errors.Is(err, bufio.ErrBufferFull) && len(buf) < maxLineBytes {
				chunk, err = reader.ReadSlice('\n')
				buf = append(buf, chunk...)
			}
			chunk = buf
		}
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(chunk))
		fn(trimNewline(chunk))
	}
}

func trimNewline(b []byte) string {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
	}
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return string(b[:n])
}
