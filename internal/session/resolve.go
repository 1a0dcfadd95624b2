package session

import "github.com/matheus3301/chatkit/internal/config"

const DefaultSessionName = "main"

// Resolve picks the session name: the flag, then default_session from the
// global config, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	g, err := config.LoadGlobal(GlobalConfigPath())
	if err == nil && g.DefaultSession != "" {
		return g.DefaultSession
	}
	return DefaultSessionName
}
