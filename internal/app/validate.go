package app

import (
	"fmt"

	"eventsnap/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// so callers can surface user-friendly errors.
func validateConfig(eff config.Effective) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, EVENTSNAP_DB_PATH env, or storage.db_path in config")
	}
	if eff.Config.Chat.PageSize < 0 {
		return fmt.Errorf("chat.page_size must not be negative")
	}
	if eff.Config.Chat.TypingTTLMillis < 0 {
		return fmt.Errorf("chat.typing_ttl_ms must not be negative")
	}
	if !eff.Config.Security.APIKeys.AllowUnauth &&
		len(eff.Config.Security.APIKeys.Backend) == 0 &&
		len(eff.Config.Security.APIKeys.Frontend) == 0 {
		return fmt.Errorf("no API keys configured: set security.api_keys or security.api_keys.allow_unauth")
	}
	return nil
}
