package workspace

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reports changes to the workspace configuration or any project
// manifest, debounced so one save produces one trigger.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	logger   zerolog.Logger
}

// NewWatcher watches the workspace config file and every project manifest.
func NewWatcher(ws *Workspace, debounce time.Duration, logger zerolog.Logger) (*Watcher, error) {
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// fsnotify watches directories reliably; watch each project folder and
	// the root, then filter events down to manifest files.
	if err := fs.Add(ws.Root); err != nil {
		fs.Close()
		return nil, err
	}
	for i := range ws.Projects {
		if err := fs.Add(ws.Projects[i].Folder); err != nil {
			fs.Close()
			return nil, err
		}
	}

	return &Watcher{
		fs:       fs,
		debounce: debounce,
		logger:   logger.With().Str("component", "watcher").Logger(),
	}, nil
}

// Watch sends one signal per debounced burst of manifest changes until the
// context is cancelled.
func (w *Watcher) Watch(ctx context.Context, trigger chan<- struct{}) error {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("manifest changed")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				// Drain a tick that fired between the select and the Reset,
				// or it would deliver immediately and cut the burst short.
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watch error")

		case <-timerC:
			timer = nil
			timerC = nil
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	}
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// relevant filters events down to manifest and workspace config writes.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	return base == ManifestFileName || base == ConfigFileName
}
