package repo

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

const (
	// ConfigName is the config file name under the repo root
	ConfigName = "ferry.toml"
	// StorageName is the leveldb directory name under the repo root
	StorageName = "storage"
	// DefaultPathName is the default repo directory
	DefaultPathName = ".ferry"
	// DefaultPathRoot is the path to the default repo
	DefaultPathRoot = "~/" + DefaultPathName
	// EnvDir is the environment variable overriding the repo path
	EnvDir = "FERRY_PATH"
)

// PathRoot returns the default root directory of the ferry repo
func PathRoot() (string, error) {
	dir := os.Getenv(EnvDir)
	var err error
	if len(dir) == 0 {
		dir, err = homedir.Expand(DefaultPathRoot)
	}
	return dir, err
}

// PathRootWithDefault returns path if not empty, otherwise the default root
func PathRootWithDefault(path string) (string, error) {
	if len(path) == 0 {
		return PathRoot()
	}

	return path, nil
}

// StoragePath returns the leveldb path under the repo root
func StoragePath(repoRoot string) string {
	return filepath.Join(repoRoot, StorageName)
}

// Initialize creates the repo directory and writes the default config file.
// It refuses to overwrite an existing config.
func Initialize(repoRoot string) error {
	configPath := filepath.Join(repoRoot, ConfigName)
	if fileExist(configPath) {
		return fmt.Errorf("%s already exists", configPath)
	}

	if err := os.MkdirAll(repoRoot, 0755); err != nil {
		return fmt.Errorf("create repo root: %w", err)
	}

	return ioutil.WriteFile(configPath, []byte(defaultConfigToml), 0644)
}

func fileExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
