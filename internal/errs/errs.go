// Package errs declares the sentinel error taxonomy shared by every
// component. Callers compare with errors.Is; wrapped errors carry context via
// fmt.Errorf("...: %w", ...).
package errs

import "errors"

var (
	// ErrDecodeMalformed is returned by the wire codec when a tag references
	// an unknown wire type or a length-delimited field runs past the buffer.
	ErrDecodeMalformed = errors.New("DECODE_MALFORMED")

	// ErrBusOverflow is returned by a push-producer when its high-water mark
	// is exceeded. The caller decides whether to retry or drop the message.
	ErrBusOverflow = errors.New("BUS_OVERFLOW")

	// ErrBusDisconnect marks a transport-level disconnect. The endpoint
	// reconnects per the underlying client's own policy; this error is
	// informational, logged and not propagated to strategy code.
	ErrBusDisconnect = errors.New("BUS_DISCONNECT")

	// Risk Gate pre-trade rejections. Never fatal — the order is dropped
	// from the strategy's perspective and logged with the reason.
	ErrRiskDailyLoss     = errors.New("RISK_DAILY_LOSS")
	ErrRiskMaxPositions  = errors.New("RISK_MAX_POSITIONS")
	ErrRiskPositionSize  = errors.New("RISK_POSITION_SIZE")
	ErrRiskTotalExposure = errors.New("RISK_TOTAL_EXPOSURE")

	// ErrStrategyCallback wraps a panic or error recovered from a strategy
	// callback. Only the offending tick for that strategy is aborted.
	ErrStrategyCallback = errors.New("STRATEGY_CALLBACK_FAILURE")

	// ErrGatewayRejection marks a simulated or live gateway rejection,
	// delivered to the strategy as a Trade with Status == REJECTED.
	ErrGatewayRejection = errors.New("GATEWAY_REJECTION")

	// ErrDataSourceQueryFailure is fatal at backtest startup.
	ErrDataSourceQueryFailure = errors.New("DATASOURCE_QUERY_FAILURE")

	// ErrConfigInvalid is fatal at process startup; callers exit with code 1.
	ErrConfigInvalid = errors.New("CONFIG_INVALID")
)
