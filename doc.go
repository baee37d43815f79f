/*
Package laiwebserver is a static-file HTTP/1.1 server built on a single
epoll reactor and a fixed worker pool, for Linux.

The reactor goroutine owns the listening socket, the idle-timeout heap and
the connection table. Every client socket is registered one-shot, so after
an event is delivered nothing else fires for that socket until the worker
that handled it re-arms it. Workers read into a growable buffer, parse the
request incrementally, map the requested file into memory and send the
response head and body with one writev.

Features

  - Level- or edge-triggered listener and connections (trigger modes 0-3)
  - Keep-alive connections, one request at a time
  - Idle connection timeout backed by a min-heap keyed by descriptor
  - Zero-copy file bodies via mmap and writev
  - Login and registration forms checked against a BadgerDB user store
    with bcrypt hashes
  - Connection limit with a "Server busy!" reply
  - Per-route request statistics

Quick Start

	go run ./cmd/webserver -port 8092 -trig 3 -timeout 60000 -threads 8 -src ./resource

Every flag may also come from a JSON or YAML file (-config) or from an
environment variable with the LAI_ prefix, e.g. LAI_THREAD_NUM=16.
Explicit flags win over the environment, which wins over the file.

Modules

  - app: Application lifecycle, logging and signal handling
  - config: Configuration loading and management
  - core: Reactor engine, connections and worker tasks
  - core/buffer: Growable read/write buffer with scatter reads
  - core/http: Request parser, response builder, content types
  - core/mapfile: Read-only memory-mapped files
  - core/poller: epoll wrapper
  - core/timer: Idle-timeout heap
  - core/pools: Worker pool, byte pool, GC tuning
  - core/userstore: Credential store with a bounded session pool
  - core/observability: Request and connection metrics
*/
package laiwebserver
