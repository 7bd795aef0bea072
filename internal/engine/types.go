package engine

import (
	"encoding/json"
	"fmt"

	"github.com/bft-labs/tickbridge/internal/domain"
)

// JSON-RPC methods served by the engine control server.
const (
	MethodTick             = "engine_tick"
	MethodStepSlot         = "engine_step_slot"
	MethodSendAndConfirmTx = "engine_send_and_confirm_tx"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeTickFailed     = -32000
	CodeSendFailed     = -32003
	CodeRejected       = -32004
	CodeTimeout        = -32005
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is maps engine error codes onto the domain sentinels.
func (e *RPCError) Is(target error) bool {
	switch e.Code {
	case CodeTimeout:
		return target == domain.ErrConfirmationTimeout
	case CodeRejected:
		return target == domain.ErrTransactionRejected
	case CodeSendFailed:
		return target == domain.ErrDispatchFailed
	case CodeTickFailed:
		return target == domain.ErrTickRejected
	}
	return false
}

// SendOptions is the optional second parameter of engine_send_and_confirm_tx.
type SendOptions struct {
	Encoding string `json:"encoding,omitempty"`
}

const (
	EncodingBase64 = "base64"
	EncodingBase58 = "base58"
)
