package anim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/showrunner/internal/coords"
)

const debounce = 200 * time.Millisecond

// Switcher watches the control file and hot-swaps the installed animation.
// The control file holds a single animation filename; rewriting it loads
// the named script and, on success, calls install. A load failure keeps
// the current animation. Installation lands at the engine's next tick
// boundary, never mid-tick.
type Switcher struct {
	ControlPath string
	Dir         string
	Store       *coords.Store
	Install     func(*Animation)

	current string
}

// NewSwitcher wires a switcher; current is the name already installed.
func NewSwitcher(controlPath, dir string, store *coords.Store, current string, install func(*Animation)) *Switcher {
	return &Switcher{
		ControlPath: controlPath,
		Dir:         dir,
		Store:       store,
		Install:     install,
		current:     current,
	}
}

// Run blocks until ctx is done. The control file is created with the
// current animation name when absent so hot-swap always has a file to
// watch.
func (s *Switcher) Run(ctx context.Context) error {
	if _, err := os.Stat(s.ControlPath); os.IsNotExist(err) {
		if err := os.WriteFile(s.ControlPath, []byte(s.current+"\n"), 0644); err != nil {
			return fmt.Errorf("switcher: create control file: %w", err)
		}
		log.Info().Str("path", s.ControlPath).Str("animation", s.current).Msg("created control file")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("switcher: %w", err)
	}
	defer w.Close()

	// Watch the directory, not the file: editors replace the file by
	// rename and the watch would die with the old inode.
	if err := w.Add(filepath.Dir(s.ControlPath)); err != nil {
		return fmt.Errorf("switcher: watch: %w", err)
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.ControlPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("control file watcher error")
		case <-fire:
			s.check()
		}
	}
}

func (s *Switcher) check() {
	b, err := os.ReadFile(s.ControlPath)
	if err != nil {
		log.Warn().Err(err).Msg("control file unreadable")
		return
	}
	name := strings.TrimSpace(string(b))
	if name == "" || name == s.current {
		return
	}
	a, err := Load(s.Dir, name, s.Store)
	if err != nil {
		log.Error().Err(err).Str("animation", name).Msg("animation load failed, keeping current")
		return
	}
	s.current = name
	s.Install(a)
	log.Info().Str("animation", name).Msg("animation installed")
}
