package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"screepsapi/internal/logging"
)

// LoadTokenFile reads a token from path and installs it as the static token.
func (m *Manager) LoadTokenFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token file %s is empty", path)
	}
	m.SetStaticToken(token)
	return nil
}

// WatchTokenFile reloads the token whenever path is written or replaced. It
// watches the parent directory so atomic rename-over updates are seen, and
// blocks until ctx is done.
func (m *Manager) WatchTokenFile(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch token directory %s: %w", dir, err)
	}
	m.logger.Debugf("watching token file: %s", path)

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("stopping token watcher: context canceled")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("token watcher closed")
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := m.LoadTokenFile(path); err != nil {
				m.logger.Warn("token file reload failed", logging.Field("error", err))
				continue
			}
			m.logger.Info("token reloaded from file", logging.Field("path", path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("token watcher closed")
			}
			m.logger.Warn("token watcher error", logging.Field("error", err))
		}
	}
}
