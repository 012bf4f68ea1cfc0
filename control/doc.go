// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, configuration control and debug introspection for
// wsengine servers.
//
// Provides concurrent-safe primitives including:
//   - A Prometheus collector fed through the protocol.Observer hooks
//   - A runtime config store whose reload listeners re-tune live servers
//   - Named debug probes for state export
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
