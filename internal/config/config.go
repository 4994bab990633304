// Package config loads relay and client settings from defaults, an optional
// config file, a .env file, SYNCRELAY_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"syncrelay/internal/constants"
	"syncrelay/internal/logger"
	"syncrelay/internal/session"
	"syncrelay/internal/syncclient"
)

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	MaxConnsPerIP  int      `mapstructure:"max_conns_per_ip"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	Session session.Options `mapstructure:",squash"`
	Log     logger.Config   `mapstructure:",squash"`
}

type ClientConfig struct {
	syncclient.Config `mapstructure:",squash"`
	Log               logger.Config `mapstructure:",squash"`
	// QR prints the join URL as a terminal QR code.
	QR bool `mapstructure:"qr"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:          constants.DefaultAddr,
		MaxConnsPerIP: constants.MaxConnectionsPerIP,
		Session:       session.DefaultOptions(),
		Log:           logger.Config{Level: "info"},
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Config: syncclient.DefaultConfig(),
		Log:    logger.Config{Level: "warn"},
	}
}

// Load fills out, which must point at a struct holding its defaults.
// Precedence, highest first: changed flags, environment, config file,
// defaults. path may be empty.
func Load(v *viper.Viper, path string, flags *pflag.FlagSet, out any) error {
	if err := godotenv.Load(constants.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", constants.EnvFile, err)
	}

	if err := setDefaults(v, reflect.ValueOf(out)); err != nil {
		return err
	}
	v.SetEnvPrefix(constants.EnvPrefix)
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(flagKey(f.Name), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(out, viper.DecodeHook(hook)); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// setDefaults registers every mapstructure key of the struct behind rv, so
// that environment variables are consulted even for keys no flag names.
func setDefaults(v *viper.Viper, rv reflect.Value) error {
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config target must be a struct pointer, got %T", rv.Interface())
	}
	walkKeys(rv.Elem(), func(key string, val reflect.Value) {
		v.SetDefault(key, val.Interface())
	})
	return nil
}

func walkKeys(rv reflect.Value, fn func(string, reflect.Value)) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("mapstructure")
		name, opts, _ := strings.Cut(tag, ",")
		if opts == "squash" && f.Type.Kind() == reflect.Struct {
			walkKeys(rv.Field(i), fn)
			continue
		}
		if name == "" || name == "-" {
			continue
		}
		fn(name, rv.Field(i))
	}
}
