// Package ipc implements the length-prefixed request/response protocol used
// to drive ticks and submit transaction batches across processes.
//
// Every frame is a u32 little-endian length followed by an encoded Message.
// A Server answers each request frame with exactly one Response frame; a
// payload that fails to decode is answered with Response{Success: false}
// and the connection stays open, while a frame above the role's size cap
// closes the connection without invoking the handler.
package ipc
