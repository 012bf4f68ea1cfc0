// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded registry of live connections. Servers and engines register every
// accepted connection here so shutdown and broadcast can reach them without
// a single global lock on the accept path.

package session
