// Package logger provides the process-wide leveled logger.
//
// The logger supports four levels: Debug, Info, Warn, and Error. Entries are
// encoded by zap: a console encoder for development and a JSON encoder for
// production. Each entry may carry the ID of the cluster member it concerns.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Bootstrap started")
//	logger.Info("node-1", "Member joined")
//	logger.Error("node-1", "Failed: %v", err)
//
// Replacing the default logger from configuration:
//
//	logger.Init(logger.Config{Env: "prod", Level: "debug"})
//	defer logger.Sync()
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("node-1", "Debug message")
//
// # Thread Safety
//
// All logging operations are safe for concurrent use.
package logger
