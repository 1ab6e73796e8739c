// Package bridge carries the step protocol between processes over a
// websocket hub. The hub owns the authoritative step store for each
// stream; clients implement the broker contract by forwarding every
// operation as a request frame and waiting for the hub's reply.
//
// Frames are JSON; step payload bytes ride inside them base64-encoded
// and, above a configurable threshold, zstd-compressed. A read reply
// carries only the payload fragments that intersect the request, so a
// reader never transfers more than it asked for and regions no writer
// covered keep the caller's buffer contents.
package bridge
