/*
Package faststatic is a prefork static-file HTTP/1.1 server for Linux and macOS.

A supervisor process opens one listening socket and keeps a fixed number of
worker processes running on it. Each worker is the same binary started again
with FAST_STATIC_WORKER_ID set; it inherits the socket as descriptor 3 and
runs a single event loop (epoll on Linux, kqueue on macOS) that accepts,
parses and answers requests from a document root.

Features

  - Master/worker processes sharing one listener; crashed workers are
    restarted with the same id, with exponential delay when they crash-loop
  - Graceful shutdown on SIGINT/SIGTERM with a kill deadline
  - GET only; 200, 400, 403, 404, 500 and 501 responses
  - Keep-alive for successful responses when the client asks for it
  - Path traversal and symlink escapes rejected with 403
  - File reads off the event loop on a small goroutine pool

Quick Start

	go build ./cmd/fast-static
	./fast-static -workers 4 -root ./static 8080

Every flag can also be set as FAST_STATIC_<FLAG> in the environment
(FAST_STATIC_IDLE_TIMEOUT=2s) or in a JSON file given with -config.
Command-line flags win over the environment, which wins over the file.

Modules

  - app: supervisor, worker entry and role dispatch
  - config: flag, environment and JSON configuration
  - core: per-worker event loop and connection handling
  - core/http: request parsing and response encoding
  - core/static: document root resolution and MIME types
  - core/poller: epoll/kqueue and the loop waker
  - core/pools: file-read pool, buffer pool, GC settings
  - core/observability: per-worker counters
*/
package faststatic
