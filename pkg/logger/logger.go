package logger

import (
	"go.uber.org/zap"
)

// New builds the production logger shared by the server and worker binaries.
func New() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}
