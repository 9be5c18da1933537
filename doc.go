// Package h is the realtime streaming core of a web annotation service.
//
// The service's write path publishes change events (annotation
// created/updated/deleted, user session changes) onto a NATS message bus.
// This repository is the read side of that pipeline: it consumes the bus,
// fans events out to a large population of concurrently-connected
// WebSocket clients, and for each client decides -- based on a per-socket
// subscription filter and an authorization check -- whether and what to
// send.
//
// # Architecture
//
// Data flows through a small number of cooperating pieces:
//
//	bus consumers (one per topic)  ->  bounded work queue  <-  client sockets
//	                                        |
//	                                   dispatcher (single goroutine)
//	                                        |
//	                     filter match x connection registry -> per-socket send
//
//   - natsclient: managed NATS connection with JetStream access. Each
//     worker process creates ephemeral, uniquely-named consumers so every
//     replica receives the full event stream (fan-out, not work sharing).
//   - streamer: the core. Bounded work queue, subscription filters, the
//     per-connection protocol, the dispatch loop, and the annotation/user
//     event handlers. Every message is handled inside its own READ ONLY
//     SERIALIZABLE database transaction.
//   - gateway/websocket: the client transport. Owns socket lifecycles and
//     registers each connection with the streamer for the duration of the
//     socket.
//   - storage: PostgreSQL access for annotation fetch, document URI
//     expansion, and moderation flags.
//   - gateway/http: diagnostics endpoints (health, Prometheus metrics).
//
// Horizontal scaling is by running more worker processes; there is no
// cross-worker coordination. Within a worker, ordering is strict FIFO on
// the shared queue.
package h
