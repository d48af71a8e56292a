package process

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/pulseflow/errors"
)

// LoadDirectory deploys every *.yaml / *.yml file in dir. Files whose
// version is already deployed are skipped.
func LoadDirectory(dir string, registry *Registry, logger *zap.SugaredLogger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read definitions dir %s", dir)
	}

	deployed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		ok, err := deployFile(filepath.Join(dir, entry.Name()), registry, logger)
		if err != nil {
			return deployed, err
		}
		if ok {
			deployed++
		}
	}
	return deployed, nil
}

func deployFile(path string, registry *Registry, logger *zap.SugaredLogger) (bool, error) {
	d, err := LoadDefinition(path)
	if err != nil {
		return false, err
	}
	if err := registry.Deploy(d); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			logger.Debugw("Process definition already deployed", "definition", d.ID(), "file", path)
			return false, nil
		}
		return false, err
	}
	logger.Infow("Deployed process definition", "definition", d.ID(), "file", path)
	return true, nil
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// DirectoryWatcher deploys definition files as they are written
type DirectoryWatcher struct {
	dir            string
	registry       *Registry
	logger         *zap.SugaredLogger
	watcher        *fsnotify.Watcher
	debouncePeriod time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	started bool
	done    chan struct{}
}

// NewDirectoryWatcher watches dir for new or changed definitions
func NewDirectoryWatcher(dir string, registry *Registry, logger *zap.SugaredLogger) (*DirectoryWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch definitions dir %s", dir)
	}

	return &DirectoryWatcher{
		dir:            dir,
		registry:       registry,
		logger:         logger,
		watcher:        watcher,
		debouncePeriod: 200 * time.Millisecond, // Editors write files in bursts
		pending:        make(map[string]*time.Timer),
		done:           make(chan struct{}),
	}, nil
}

// Start begins watching in the background
func (w *DirectoryWatcher) Start() {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.watchLoop()
}

func (w *DirectoryWatcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				w.schedule(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Definition watcher error", "error", err)
		}
	}
}

// schedule debounces bursts of events for one file
func (w *DirectoryWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debouncePeriod, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if _, err := deployFile(path, w.registry, w.logger); err != nil {
			w.logger.Errorw("Failed to deploy process definition", "file", path, "error", err)
		}
	})
}

// Stop stops watching and waits for the event loop to exit
func (w *DirectoryWatcher) Stop() error {
	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	started := w.started
	w.mu.Unlock()

	err := w.watcher.Close()
	if started {
		<-w.done
	}
	return err
}
