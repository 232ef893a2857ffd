package planq

import (
	"go.uber.org/zap"
)

type PoolOption func(pool *Pool)

func WithPoolLogger(logger *zap.Logger) PoolOption {
	return func(pool *Pool) {
		pool.logger = logger
	}
}
