// Package ports defines the interfaces that connect the application layer
// to infrastructure adapters.
//
//   - [TickDriver]: advances the validator clock one tick
//   - [ChainQuerier]: blockhash, balance, status, block, slot, genesis and fee queries
//   - [TxDispatcher]: transaction and airdrop dispatch
//   - [AuthSubmitter]: bearer-authenticated dispatch
//   - [TokenMinter]: auth token minting
//   - [Logger]: structured logging
//   - [HTTPClient]: HTTP request abstraction
//
// The bridge, ipc and engine packages depend only on these interfaces.
// internal/adapters and internal/tick provide the implementations.
package ports
