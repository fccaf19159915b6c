package app

// NewLoggerTo exposes newLogger to the external test package.
var NewLoggerTo = newLogger
