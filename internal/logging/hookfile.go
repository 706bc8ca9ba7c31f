/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// fileHook is a logrus.Hook that writes to a file, rotating it once it
// crosses maxSize bytes and keeping at most maxBackups archived copies,
// each named with a UTC timestamp suffix.
type fileHook struct {
	m          sync.Mutex
	path       string
	maxSize    int64
	maxBackups int
	h          *os.File
	size       int64
}

func newFileHook(opt FileOptions) (logrus.Hook, error) {
	maxSize := int64(opt.MaxSizeMB) * 1024 * 1024
	if maxSize <= 0 {
		maxSize = 5 * 1024 * 1024
	}

	maxBackups := opt.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 10
	}

	h := &fileHook{path: opt.Path, maxSize: maxSize, maxBackups: maxBackups}
	if err := h.open(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *fileHook) open() error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}

	h.h = f
	h.size = st.Size()
	return nil
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return err
	}

	h.m.Lock()
	defer h.m.Unlock()

	if h.h == nil {
		if err = h.open(); err != nil {
			return err
		}
	}

	n, err := h.h.Write(line)
	if err != nil {
		return err
	}
	h.size += int64(n)

	if h.size >= h.maxSize {
		return h.rotateLocked()
	}

	return nil
}

// rotateLocked renames the current file with a UTC timestamp suffix, opens
// a fresh one, and prunes archives beyond maxBackups. Caller must hold m.
func (h *fileHook) rotateLocked() error {
	if h.h != nil {
		_ = h.h.Close()
		h.h = nil
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	archived := fmt.Sprintf("%s.%s", h.path, stamp)
	if err := os.Rename(h.path, archived); err != nil && !os.IsNotExist(err) {
		return err
	}

	h.pruneBackups()

	return h.open()
}

func (h *fileHook) pruneBackups() {
	dir := filepath.Dir(h.path)
	base := filepath.Base(h.path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var backups []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > len(base)+1 && name[:len(base)+1] == base+"." {
			backups = append(backups, filepath.Join(dir, name))
		}
	}

	if len(backups) <= h.maxBackups {
		return
	}

	// Names carry a lexically sortable UTC timestamp suffix, so the
	// oldest backups sort first.
	for i := 0; i < len(backups)-h.maxBackups; i++ {
		_ = os.Remove(backups[i])
	}
}

func (h *fileHook) Close() error {
	h.m.Lock()
	defer h.m.Unlock()

	if h.h == nil {
		return nil
	}

	err := h.h.Close()
	h.h = nil
	return err
}
