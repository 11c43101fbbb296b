package constants

// SessionStatus is the lifecycle state of a parse session.
type SessionStatus string

// Stable values (persisted as-is).
const (
	SessionCollecting SessionStatus = "collecting"
	SessionComplete   SessionStatus = "complete" // all expected pages received
	SessionMerged     SessionStatus = "merged"
)

// Strategy identifies one extraction strategy.
type Strategy string

const (
	StrategyLocalText      Strategy = "local_text"
	StrategyRemoteOCR      Strategy = "remote_ocr"
	StrategyVision         Strategy = "vision"
	StrategyNativeDocument Strategy = "native_document"
	StrategyRasterVision   Strategy = "raster_vision"
)
