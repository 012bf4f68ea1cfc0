// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for wsengine connections: a strict-order task
// chain used to serialize transport writes and frame delivery, and the
// wall-clock scheduler behind keepalive and close timers.
package concurrency
