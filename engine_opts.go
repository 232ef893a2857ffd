package planq

import (
	"go.uber.org/zap"
)

type EngineOption func(engine *Engine)

// WithEnginePoolSize sets the number of workers. The size is fixed once the
// engine is built.
func WithEnginePoolSize(size int) EngineOption {
	return func(engine *Engine) {
		engine.poolSize = size
	}
}

func WithEngineTxManager(txManager TxManager) EngineOption {
	return func(engine *Engine) {
		engine.txManager = txManager
	}
}

func WithEnginePluginManager(pluginManager *PluginManager) EngineOption {
	return func(engine *Engine) {
		engine.pluginManager = pluginManager
	}
}

func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithEngineErrorHandler installs the callback invoked for persistence
// errors surfaced on the execution path. The default logs and moves on.
func WithEngineErrorHandler(fn func(err error)) EngineOption {
	return func(engine *Engine) {
		engine.errorHandler = fn
	}
}
