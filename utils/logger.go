package utils

import (
	"go.uber.org/zap"
)

// InitLogger builds the process logger and installs it as zap's global.
// The returned func flushes buffered entries and should be deferred by main.
func InitLogger(env string) (*zap.Logger, func(), error) {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, err
	}

	zap.ReplaceGlobals(logger)
	cleanup := func() {
		_ = logger.Sync()
	}
	return logger, cleanup, nil
}
