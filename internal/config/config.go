// Package config parses and validates the CipherMount CLI surface:
// --source, --mountpoint, --key (also CIPHER_KEY), --allow-other, --debug.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ciphermount/ciphermount/internal/envelope"
)

// ValidationError wraps a CLI/key validation failure. cmd/ciphermount
// prints and exits non-zero on any ValidationError.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Config holds the validated, ready-to-use startup configuration.
type Config struct {
	Source     string
	Mountpoint string
	Key        envelope.Key
	AllowOther bool
	Debug      bool
}

// Parse binds flags and environment variables, then validates the result.
// It never consults os.Args directly so it can be exercised from tests.
func Parse(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("ciphermount", pflag.ContinueOnError)

	flags.StringP("source", "s", "", "backing directory holding envelope files (required)")
	flags.StringP("mountpoint", "m", "", "directory at which to expose the plaintext view (required)")
	flags.StringP("key", "k", "", "64 hex character AES-256 key (or set CIPHER_KEY)")
	allowOther := flags.Bool("allow-other", false, "permit users other than the mounter to access the mount")
	debug := flags.Bool("debug", false, "enable verbose FUSE operation logging")

	if err := flags.Parse(args); err != nil {
		return nil, invalid("parsing flags: %v", err)
	}

	// viper's job here is narrow: let CIPHER_KEY stand in for --key. source
	// and mountpoint have no environment-variable form.
	v := viper.New()
	if err := v.BindEnv("key", "CIPHER_KEY"); err != nil {
		return nil, invalid("binding CIPHER_KEY: %v", err)
	}
	if err := v.BindPFlag("key", flags.Lookup("key")); err != nil {
		return nil, invalid("binding --key: %v", err)
	}

	source, _ := flags.GetString("source")
	mountpoint, _ := flags.GetString("mountpoint")

	return validate(source, mountpoint, v.GetString("key"), *allowOther, *debug)
}

func validate(source, mountpoint, keyHex string, allowOther, debug bool) (*Config, error) {
	if source == "" {
		return nil, invalid("--source is required")
	}
	if mountpoint == "" {
		return nil, invalid("--mountpoint is required")
	}
	if keyHex == "" {
		return nil, invalid("--key (or CIPHER_KEY) is required")
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, invalid("--source %q: %v", source, err)
	}
	if !info.IsDir() {
		return nil, invalid("--source %q is not a directory", source)
	}

	if len(keyHex) != envelope.KeySize*2 {
		return nil, invalid("--key must be exactly %d hex characters, got %d", envelope.KeySize*2, len(keyHex))
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, invalid("--key is not valid hex: %v", err)
	}
	key, err := envelope.NewKey(raw)
	if err != nil {
		return nil, invalid("--key: %v", err)
	}

	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return nil, invalid("--mountpoint %q: %v", mountpoint, err)
	}

	return &Config{
		Source:     source,
		Mountpoint: mountpoint,
		Key:        key,
		AllowOther: allowOther,
		Debug:      debug,
	}, nil
}
