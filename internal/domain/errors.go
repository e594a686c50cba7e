package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInsufficientDepth   = errors.New("insufficient book depth")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCooldownActive      = errors.New("cooldown active")
	ErrDailyLossLimit      = errors.New("daily loss limit reached")
	ErrCircuitOpen         = errors.New("circuit breaker open")
	ErrExecutorHalted      = errors.New("executor halted pending operator reset")
	ErrOrderTimeout        = errors.New("order status unknown within timeout")
	ErrUnwindFailed        = errors.New("unwind order failed")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrContextDone         = errors.New("context cancelled")
)
