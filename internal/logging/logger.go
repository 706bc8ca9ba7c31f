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
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type lgr struct {
	m   sync.RWMutex
	log *logrus.Logger
	lvl Level
	fld Fields
}

// Options configures the destinations a Logger writes to.
type Options struct {
	Level     string
	Stdout    bool
	File      *FileOptions
	SyslogTag string // empty disables syslog
}

// FileOptions configures the rotating file destination.
type FileOptions struct {
	Path        string
	MaxSizeMB   int
	MaxBackups  int
}

// New builds a Logger from Options, wiring stdout/file/syslog hooks as
// requested. File and syslog failures are logged to stderr and otherwise
// non-fatal: a honeypot should keep accepting connections even if its log
// sink is unavailable.
func New(opt Options) Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl := ParseLevel(opt.Level)
	base.SetLevel(lvl.Logrus())

	if opt.Stdout {
		base.AddHook(newWriterHook(os.Stdout, logrus.AllLevels))
	}

	if opt.File != nil && opt.File.Path != "" {
		if h, err := newFileHook(*opt.File); err != nil {
			os.Stderr.WriteString("logging: cannot open log file: " + err.Error() + "\n")
		} else {
			base.AddHook(h)
		}
	}

	if opt.SyslogTag != "" {
		if h, err := newSyslogHook(opt.SyslogTag); err != nil {
			os.Stderr.WriteString("logging: cannot connect to syslog: " + err.Error() + "\n")
		} else {
			base.AddHook(h)
		}
	}

	return &lgr{log: base, lvl: lvl, fld: Fields{}}
}

func (l *lgr) SetLevel(lvl Level) {
	l.m.Lock()
	defer l.m.Unlock()
	l.lvl = lvl
	l.log.SetLevel(lvl.Logrus())
}

func (l *lgr) GetLevel() Level {
	l.m.RLock()
	defer l.m.RUnlock()
	return l.lvl
}

func (l *lgr) With(fields Fields) Logger {
	l.m.RLock()
	defer l.m.RUnlock()

	merged := make(Fields, len(l.fld)+len(fields))
	for k, v := range l.fld {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &lgr{log: l.log, lvl: l.lvl, fld: merged}
}

func (l *lgr) entry(fields Fields) *logrus.Entry {
	l.m.RLock()
	defer l.m.RUnlock()

	data := make(logrus.Fields, len(l.fld)+len(fields))
	for k, v := range l.fld {
		data[k] = v
	}
	for k, v := range fields {
		data[k] = v
	}

	return l.log.WithFields(data)
}

func (l *lgr) Debug(message string, fields Fields) {
	l.entry(fields).Debug(message)
}

func (l *lgr) Info(message string, fields Fields) {
	l.entry(fields).Info(message)
}

func (l *lgr) Warning(message string, fields Fields) {
	l.entry(fields).Warning(message)
}

func (l *lgr) Error(message string, err error, fields Fields) {
	e := l.entry(fields)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(message)
}

func (l *lgr) Fatal(message string, err error, fields Fields) {
	e := l.entry(fields)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(message)
}

func (l *lgr) Close() error {
	l.m.RLock()
	defer l.m.RUnlock()

	var err error
	for _, h := range l.log.Hooks {
		for _, hh := range h {
			if c, ok := hh.(io.Closer); ok {
				if e := c.Close(); e != nil {
					err = e
				}
			}
		}
	}
	return err
}
