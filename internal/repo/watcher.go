package repo

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchChains watches the config file and invokes onChange with the
// re-parsed chain list whenever it is rewritten. Parse failures keep
// the previous chain set and are only logged.
func WatchChains(ctx context.Context, repoRoot string, logger logrus.FieldLogger, onChange func([]Chain)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new config watcher: %w", err)
	}

	configPath := filepath.Join(repoRoot, ConfigName)
	if err := watcher.Add(configPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", configPath, err)
	}

	go func() {
		defer func() {
			_ = watcher.Close()
		}()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				config, err := UnmarshalConfig(repoRoot)
				if err != nil {
					logger.WithField("error", err).Warn("Reload chain config")
					continue
				}

				logger.WithField("chains", len(config.Chains)).Info("Chain config reloaded")
				onChange(config.Chains)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithField("error", err).Warn("Config watcher")
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
