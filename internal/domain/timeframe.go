package domain

// Timeframe tokens selectable by the presentation layer, expressed in days
// ("max" meaning the full available history).
const (
	Timeframe1D  = "1"
	Timeframe7D  = "7"
	Timeframe30D = "30"
	Timeframe1Y  = "365"
	TimeframeMax = "max"
)

// ValidIntervals is the fixed set of candlestick interval tokens the
// upstream accepts.
var ValidIntervals = map[string]bool{
	"1h": true, "4h": true, "1d": true, "1w": true, "1M": true,
}

// IntervalForTimeframe maps a timeframe token to the candlestick interval
// and result limit used to fetch its series.
func IntervalForTimeframe(timeframe string) (interval string, limit int) {
	switch timeframe {
	case Timeframe1D:
		return "1h", 24
	case Timeframe7D:
		return "4h", 42
	case Timeframe30D:
		return "1d", 30
	case Timeframe1Y:
		return "1w", 52
	case TimeframeMax:
		return "1M", 60
	default:
		return "1d", 30
	}
}

// IsValidTimeframe reports whether the token is a known timeframe.
func IsValidTimeframe(timeframe string) bool {
	switch timeframe {
	case Timeframe1D, Timeframe7D, Timeframe30D, Timeframe1Y, TimeframeMax:
		return true
	}
	return false
}
