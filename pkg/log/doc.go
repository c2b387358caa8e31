/*
Package log provides structured logging for corral using zerolog.

Call Init once at startup, then derive child loggers per component:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("scheduler")
	logger.Info().Str("host", host).Msg("Request scheduled")

Workers log with WithHost so every line carries the topic and host it
serves. Console output (the default) is meant for terminals; use JSON
output anywhere logs are collected.
*/
package log
