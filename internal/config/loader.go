package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// codec decodes into and encodes a Config in one file format.
type codec struct {
	decode func(data []byte, cfg *Config) error
	encode func(cfg *Config) ([]byte, error)
}

var tomlCodec = codec{
	decode: func(data []byte, cfg *Config) error {
		_, err := toml.Decode(string(data), cfg)
		return err
	},
	encode: func(cfg *Config) ([]byte, error) {
		var buf bytes.Buffer
		err := toml.NewEncoder(&buf).Encode(cfg)
		return buf.Bytes(), err
	},
}

var jsonCodec = codec{
	decode: func(data []byte, cfg *Config) error { return json.Unmarshal(data, cfg) },
	encode: func(cfg *Config) ([]byte, error) { return json.MarshalIndent(cfg, "", "  ") },
}

var yamlCodec = codec{
	decode: func(data []byte, cfg *Config) error { return yaml.Unmarshal(data, cfg) },
	encode: func(cfg *Config) ([]byte, error) { return yaml.Marshal(cfg) },
}

// codecFor picks the codec by file extension. ok is false for an unknown
// extension, for which TOML is the encoding default.
func codecFor(path string) (c codec, ok bool) {
	switch filepath.Ext(path) {
	case ".toml":
		return tomlCodec, true
	case ".json":
		return jsonCodec, true
	case ".yaml", ".yml":
		return yamlCodec, true
	}
	return tomlCodec, false
}

// readFile decodes path over the defaults, applies environment overrides
// and validates. A missing file yields the defaults.
func readFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if c, ok := codecFor(path); ok {
			if err := c.decode(data, cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
			}
		} else if err := sniff(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// sniff decodes a file without a known extension, trying each format.
func sniff(data []byte, cfg *Config) error {
	for _, c := range []codec{tomlCodec, jsonCodec, yamlCodec} {
		try := DefaultConfig()
		if c.decode(data, try) == nil {
			*cfg = *try
			return nil
		}
	}
	return errors.New("parse config: not TOML, JSON or YAML")
}

// Encode renders cfg in the format implied by path's extension.
func Encode(cfg *Config, path string) ([]byte, error) {
	c, _ := codecFor(path)
	data, err := c.encode(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// SaveConfig writes cfg to path, creating its directory.
func SaveConfig(cfg *Config, path string) error {
	data, err := Encode(cfg, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Loader owns the configuration file of a running proctord. Watch makes it
// re-read the file after edits and hand each valid revision to the OnChange
// callbacks; serve uses this to apply new monitor settings to the sessions
// that start afterwards.
type Loader struct {
	path     string
	debounce time.Duration

	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)

	errs    chan error
	stop    chan struct{}
	stopped sync.Once
	watcher *fsnotify.Watcher
}

// NewLoader returns a loader for path.
func NewLoader(path string) *Loader {
	return &Loader{
		path:     path,
		debounce: 100 * time.Millisecond,
		errs:     make(chan error, 1),
		stop:     make(chan struct{}),
	}
}

// Path returns the configuration file path.
func (l *Loader) Path() string { return l.path }

// Load reads the file and makes it the current configuration.
func (l *Loader) Load() (*Config, error) {
	cfg, err := readFile(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers cb for every accepted reload.
func (l *Loader) OnChange(cb func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Errors carries reload failures. Only the latest unread failure is kept.
func (l *Loader) Errors() <-chan error {
	return l.errs
}

// Watch starts reloading on file changes until Close. The parent directory
// is watched so editors that replace the file are seen.
func (l *Loader) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(l.path), err)
	}
	l.watcher = w
	go l.watch(w)
	return nil
}

func (l *Loader) watch(w *fsnotify.Watcher) {
	name := filepath.Base(l.path)

	// settle is nil while no reload is pending.
	var settle <-chan time.Time
	for {
		select {
		case <-l.stop:
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				settle = time.After(l.debounce)
			}

		case <-settle:
			settle = nil
			l.reload()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

// reload applies the file if it is valid and otherwise keeps the current
// configuration.
func (l *Loader) reload() {
	cfg, err := readFile(l.path)
	if err != nil {
		l.report(fmt.Errorf("reload %s: %w", l.path, err))
		return
	}

	l.mu.Lock()
	l.current = cfg
	callbacks := append([]func(*Config)(nil), l.onChange...)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (l *Loader) report(err error) {
	// Replace an unread failure with the newer one.
	select {
	case <-l.errs:
	default:
	}
	select {
	case l.errs <- err:
	default:
	}
}

// Close stops watching.
func (l *Loader) Close() error {
	l.stopped.Do(func() { close(l.stop) })
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
