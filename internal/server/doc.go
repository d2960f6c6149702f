// Package server hosts the Fiber HTTP service and request middleware chain
// that feeds every intercepted dashboard request into the agent handler.
// It bootstraps Fiber, attaches recovery and request-ID middlewares, reserves
// the /-/ diagnostics prefix for the host control surface, and owns the
// shared upstream HTTP client plus header-copy helpers. Keep exports narrow
// and accept explicit dependencies so handlers stay injectable in tests.
package server
