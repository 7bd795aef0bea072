// Package log provides the logging abstraction used by tickbridge components.
//
// The Logger interface keeps the IPC servers, the submission engine and the
// retry loop independent of a concrete logging library. A zerolog adapter is
// provided for production use and a no-op logger for tests and embedders that
// do not want output.
//
//	logger := log.NewZerologAdapterTo(os.Stderr, "json", zerolog.DebugLevel)
//	logger.Info("tick server listening", log.String("socket", path))
package log
