// Package logx wraps zerolog behind a small structured-logging API.
//
// Components receive a Logger value (cheap to copy) and attach fixed fields
// with With(). The root sinks and level can be swapped at runtime through
// Service.Apply, so a config reload changes logging without restarting
// components that already hold a Logger.
package logx
