package telemetry

// NewLocalProvider exposes newLocalProvider to tests.
var NewLocalProvider = newLocalProvider
