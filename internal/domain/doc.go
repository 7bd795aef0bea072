// Package domain contains the core entities, value objects and errors of tickbridge.
//
// It is the innermost layer: nothing here performs IO. Transport, RPC and
// logging concerns live behind the interfaces in internal/ports.
//
//   - [Status]: execution outcome of a dispatched transaction
//   - [Commitment]: confidence level of a status query
//   - [TransferWithMemo]: the recognized transfer + memo instruction pair
//   - [TimeoutError], [RejectedError]: terminal outcomes of confirmation
package domain
