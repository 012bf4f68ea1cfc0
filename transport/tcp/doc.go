// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp adapts net.Conn to api.Transport. A Stream runs one read
// goroutine that hands chunks to the connection in arrival order and performs
// vectored writes under a mutex. Listener accepts TCP connections and applies
// socket tuning before wrapping them.
package tcp
