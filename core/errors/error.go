package terrr

import "errors"

// ErrWouldBlock は、非ブロッキング操作がすぐに完了できない場合に返されるエラー
var ErrWouldBlock = errors.New("operation would block")

var (
	// ErrAllocation is returned when payload memory cannot be allocated or locked.
	ErrAllocation = errors.New("allocation failed")
	// ErrResourceExhausted is returned when the wait set is already at its limit.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrTransport wraps accept, recv, select and readiness failures on one socket.
	ErrTransport = errors.New("transport error")
	// ErrAddress is returned for listen addresses that cannot be parsed or resolved.
	ErrAddress = errors.New("invalid address")
	// ErrUsage marks a contract violation by the caller, e.g. releasing a buffer twice.
	ErrUsage = errors.New("usage error")
)
