// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "context"

// GracefulShutdown is implemented by components that stop accepting work,
// close what they own and wait for it, bounded by ctx.
type GracefulShutdown interface {
	Shutdown(ctx context.Context) error
}
