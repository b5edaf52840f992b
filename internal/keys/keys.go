// Package keys stores API keys on disk so they do not have to live in the
// config file or the environment. Keys are kept per service name in a
// keys.json under the platform config directory.
package keys

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Store handles API key storage and retrieval.
type Store struct {
	configDir string
}

// KeyEntry represents a stored API key.
type KeyEntry struct {
	Key string `json:"key"`
}

// Keys represents the keys.json structure.
type Keys map[string]KeyEntry

// NewStore creates a new key store.
func NewStore() (*Store, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, err
	}
	return &Store{configDir: configDir}, nil
}

// getConfigDir returns the platform-specific config directory.
func getConfigDir() (string, error) {
	// Allow override for testing
	if testDir := os.Getenv("IMGBOT_CONFIG_DIR"); testDir != "" {
		return testDir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "imgbot"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "imgbot"), nil
	default: // linux and others
		// Follow XDG Base Directory Specification
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "imgbot"), nil
	}
}

// Path returns the path to the keys.json file.
func (s *Store) Path() string {
	return filepath.Join(s.configDir, "keys.json")
}

func (s *Store) load() (Keys, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(Keys), nil
		}
		return nil, err
	}

	var keys Keys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse keys.json: %w", err)
	}
	return keys, nil
}

func (s *Store) save(keys Keys) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}

	// Owner read/write only.
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write keys.json: %w", err)
	}
	return nil
}

// Set stores a key for the given service.
func (s *Store) Set(service, key string) error {
	keys, err := s.load()
	if err != nil {
		return err
	}
	keys[service] = KeyEntry{Key: key}
	return s.save(keys)
}

// Get retrieves a key for the given service. A missing key is not an error;
// it returns the empty string.
func (s *Store) Get(service string) (string, error) {
	keys, err := s.load()
	if err != nil {
		return "", err
	}
	return keys[service].Key, nil
}

// Delete removes a key for the given service.
func (s *Store) Delete(service string) error {
	keys, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := keys[service]; !ok {
		return fmt.Errorf("no key stored for %s", service)
	}
	delete(keys, service)
	return s.save(keys)
}

// List returns the names of all services with a stored key.
func (s *Store) List() ([]string, error) {
	keys, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	return names, nil
}
