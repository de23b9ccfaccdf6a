package config

import (
	"os"
	"regexp"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandSecrets resolves ${VAR} references in fields that usually hold
// secrets. Unset variables expand to "". A bare $VAR is left alone.
func expandSecrets(cfg *Config) {
	cfg.Telegram.Token = expand(cfg.Telegram.Token)
	cfg.Source.DSN = expand(cfg.Source.DSN)
	if cfg.Storage != nil {
		cfg.Storage.URL = expand(cfg.Storage.URL)
	}
}

func expand(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}
