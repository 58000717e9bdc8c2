package schedule

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow batches bursts of filesystem events into one trigger.
// Cloud clients rewrite files in several steps; firing per event would
// start sync cycles against half-written documents.
const debounceWindow = 2 * time.Second

// Watcher fires a callback when files under a directory change,
// debounced. The daemon points it at the backup directory so edits
// made on other machines start a sync without waiting for the next
// tick.
type Watcher struct {
	dir      string
	onChange func()
	logger   *log.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewWatcher creates a stopped watcher for dir. onChange is called
// from the watcher goroutine after each debounced burst of events.
func NewWatcher(dir string, onChange func(), logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	return &Watcher{dir: dir, onChange: onChange, logger: logger}
}

// Start begins watching. Calling Start on a running watcher is a
// no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.fsw = fsw
	w.running = true

	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Printf("watching %s", w.dir)
	return nil
}

// Stop halts the watcher. Calling Stop on a stopped watcher is a
// no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.running = false
	fsw := w.fsw
	w.mu.Unlock()

	_ = fsw.Close()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
				fire = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceWindow)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch error: %v", err)

		case <-fire:
			debounce = nil
			fire = nil
			w.onChange()
		}
	}
}

// relevant filters out events that cannot change document content,
// along with editor and temp-file noise.
func relevant(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Base(ev.Name)
	if name == "" || name[0] == '.' {
		return false
	}
	return filepath.Ext(name) == ".json"
}
