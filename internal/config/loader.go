package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "GENEFLOW"

// AppName names the config file and the user config directory.
const AppName = "geneflow"

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// EnvSpec maps an environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}

// aliases are short or historical variable names. They lose against the
// canonical GENEFLOW_<SECTION>_<KEY> name when both are set.
var aliases = []EnvSpec{
	{Name: EnvPrefix + "_HOST", Path: "server.host"},
	{Name: EnvPrefix + "_PORT", Path: "server.port"},
	{Name: EnvPrefix + "_READ_TIMEOUT", Path: "server.read_timeout"},
	{Name: EnvPrefix + "_WRITE_TIMEOUT", Path: "server.write_timeout"},
	{Name: EnvPrefix + "_IDLE_TIMEOUT", Path: "server.idle_timeout"},
	{Name: EnvPrefix + "_SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
	{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
	{Name: EnvPrefix + "_LOG_PROFILE", Path: "logging.profile"},

	{Name: "STORAGE_CONNECTION_STRING", Path: "storage.connection_string"},
	{Name: "BATCH_ACCOUNT_NAME", Path: "batch.account_name"},
	{Name: "BATCH_ACCOUNT_KEY", Path: "batch.account_key"},
	{Name: "BATCH_ACCOUNT_URL", Path: "batch.account_url"},
	{Name: "BATCH_POOL_ID", Path: "batch.pool_id"},
	{Name: "COMMUNICATION_SERVICES_CONNECTION_STRING", Path: "notify.connection_string"},
	{Name: "FROM_EMAIL", Path: "notify.from_email"},
	{Name: "ADMIN_EMAIL", Path: "notify.admin_email"},
}

// SetConfigFile selects an explicit config file for subsequent loads.
// An empty path restores the search of the default locations.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration and makes it the process configuration.
//
// Precedence, highest first: runtime overrides, environment, config file,
// defaults. Overrides are nested maps keyed like the YAML file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, spec := range groupEnvSpecs(getEnvSpecs()) {
		if err := v.BindEnv(spec...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec[0], err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.parseConnectionStrings(); err != nil {
		return nil, err
	}
	cfg.normalize()

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetConfig returns the configuration of the last successful Load, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func readConfigFile(v *viper.Viper) error {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	v.SetConfigType("yaml")
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName(AppName)
	v.AddConfigPath(".")
	for _, dir := range getUserConfigPaths() {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// getUserConfigPaths returns the per-user config directories, most specific
// first.
func getUserConfigPaths() []string {
	var paths []string
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		paths = append(paths, filepath.Join(dir, AppName))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", AppName))
	}
	return paths
}

// getEnvSpecs returns every variable the loader binds: the canonical name of
// each config key followed by the aliases.
func getEnvSpecs() []EnvSpec {
	keys := make([]string, 0, len(defaults()))
	for key := range defaults() {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	specs := make([]EnvSpec, 0, len(keys)+len(aliases))
	for _, key := range keys {
		specs = append(specs, EnvSpec{Name: EnvName(key), Path: key})
	}
	return append(specs, aliases...)
}

// EnvName returns the canonical variable name of a config key.
func EnvName(path string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

// groupEnvSpecs turns specs into viper BindEnv argument lists: the key first,
// then its variable names in precedence order.
func groupEnvSpecs(specs []EnvSpec) [][]string {
	byPath := map[string][]string{}
	var order []string
	for _, s := range specs {
		if _, ok := byPath[s.Path]; !ok {
			order = append(order, s.Path)
		}
		byPath[s.Path] = append(byPath[s.Path], s.Name)
	}
	out := make([][]string, 0, len(order))
	for _, path := range order {
		out = append(out, append([]string{path}, byPath[path]...))
	}
	return out
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func (c *Config) normalize() {
	c.Storage.Provider = strings.ToLower(strings.TrimSpace(c.Storage.Provider))
	c.Notify.AdminEmail = strings.TrimSpace(c.Notify.AdminEmail)
	c.Notify.FromEmail = strings.TrimSpace(c.Notify.FromEmail)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Profile = strings.ToUpper(c.Logging.Profile)
}
