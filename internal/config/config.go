// Package config assembles refgate's parameters from the process
// environment, an optional .env file, an INI defaults file and the hook
// configuration file.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sprite-ai/refgate/internal/apperr"
)

// Well known parameter keys.
const (
	KeyLogFile   = "log_file"
	KeyLogLevel  = "log_level"
	KeyLogFormat = "log_format"
	KeyConfDir   = "conf_dir"
	KeyJournal   = "journal"
)

// Params is a flat string mapping of parameter names to values. Keys are
// lower case.
type Params map[string]string

// Get returns the value for key, or "".
func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

// Lookup returns the value for key and whether it was set.
func (p Params) Lookup(key string) (string, bool) {
	v, ok := p[strings.ToLower(key)]
	return v, ok
}

// Int parses key as an integer, returning def when it is unset.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p.Lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Wrapf(err, apperr.CodeConfiguration, "'%s' is not a number: %q", key, v)
	}
	return n, nil
}

// Require returns a configuration error naming the first of keys that is
// not set for check.
func (p Params) Require(check string, keys ...string) error {
	for _, k := range keys {
		if _, ok := p.Lookup(k); !ok {
			return apperr.MissingParam(check, k)
		}
	}
	return nil
}

// Merge returns a copy of p overlaid with over. Values in over win.
func (p Params) Merge(over Params) Params {
	out := make(Params, len(p)+len(over))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range over {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Keys returns the parameter names, sorted.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// envPrefixes select the environment variables the host passes to hooks.
var envPrefixes = []string{"STASH_", "BITBUCKET_", "PULL_REQUEST_"}

// FilterEnv keeps the host-provided variables from environ ("KEY=value"
// pairs) and lower-cases their names.
func FilterEnv(environ []string) Params {
	params := Params{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if k == "USER" || hasAnyPrefix(k, envPrefixes) {
			params[strings.ToLower(k)] = v
		}
	}
	return params
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Options locate the configuration sources.
type Options struct {
	// INIFile is the defaults file. Empty means no file.
	INIFile string
	// EnvFile is an optional dotenv file loaded before the environment is
	// read. Variables already set in the environment are kept.
	EnvFile string
	// BaseDir anchors the default log_file and conf_dir. Defaults to the
	// directory of INIFile, or the working directory.
	BaseDir string
	// Environ overrides os.Environ, for tests.
	Environ []string
}

// Config is the assembled configuration.
type Config struct {
	ini *INI
}

// Load reads every configuration source described by opts.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeConfiguration, "loading env file %s", opts.EnvFile)
		}
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	env := FilterEnv(environ)

	var (
		ini *INI
		err error
	)
	if opts.INIFile != "" {
		ini, err = LoadINIFile(opts.INIFile, env)
	} else {
		ini, err = LoadINI(strings.NewReader(""), env)
	}
	if err != nil {
		return nil, err
	}

	base := opts.BaseDir
	if base == "" && opts.INIFile != "" {
		base = filepath.Dir(opts.INIFile)
	}
	if base == "" {
		if base, err = os.Getwd(); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeConfiguration, "resolving working directory")
		}
	}
	ini.setDefault(KeyLogFile, filepath.Join(base, "refgate.log"))
	ini.setDefault(KeyConfDir, filepath.Join(base, "conf"))
	ini.setDefault(KeyLogLevel, "info")
	ini.setDefault(KeyLogFormat, "text")

	return &Config{ini: ini}, nil
}

// Shared returns the parameters every check receives.
func (c *Config) Shared() (Params, error) {
	return c.ini.Defaults()
}

// ForCheck returns the shared parameters overlaid with the INI section
// named after check, if any.
func (c *Config) ForCheck(check string) (Params, error) {
	return c.ini.Section(check)
}

// Sections lists the INI sections other than the defaults.
func (c *Config) Sections() []string {
	return c.ini.Sections()
}

// HookFile resolves a hook configuration name against conf_dir. Absolute
// paths are returned unchanged.
func (c *Config) HookFile(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	shared, err := c.Shared()
	if err != nil {
		return "", err
	}
	return filepath.Join(shared.Get(KeyConfDir), name), nil
}

// LoadHooks reads and decodes the named hook configuration file.
func (c *Config) LoadHooks(name string) ([]HookSpec, error) {
	path, err := c.HookFile(name)
	if err != nil {
		return nil, err
	}
	return LoadHookFile(path)
}
