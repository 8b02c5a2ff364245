package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the global logger with the application and registry slug.
// Call it after logging.Configure.
func InitLogger(app, slug string) zerolog.Logger {
	ctx := log.Logger.With().Str("app", app)
	if slug != "" {
		ctx = ctx.Str("slug", slug)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}
