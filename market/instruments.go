package market

import (
	"fmt"
	"sort"
	"time"
)

// PipValues maps a symbol to the price increment of one pip.
// JPY-quoted pairs tick at 0.01, everything else at 0.0001.
var PipValues = map[string]float64{
	"EUR_USD": 0.0001,
	"GBP_USD": 0.0001,
	"USD_JPY": 0.01,
}

const DefaultPipValue = 0.0001

// PipValue returns the pip size for a symbol, falling back to the
// four-decimal default for unknown pairs.
func PipValue(symbol string) float64 {
	if v, ok := PipValues[symbol]; ok {
		return v
	}
	return DefaultPipValue
}

// TimeframeSeconds maps supported candle timeframes to their bucket length.
var TimeframeSeconds = map[string]int64{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"1h":  3600,
	"4h":  14400,
	"1d":  86400,
}

// TimeframePeriod resolves a timeframe string to a duration. Unsupported
// timeframes are a configuration error and fail at construction time.
func TimeframePeriod(timeframe string) (time.Duration, error) {
	secs, ok := TimeframeSeconds[timeframe]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q (supported: %v)", timeframe, supportedTimeframes())
	}
	return time.Duration(secs) * time.Second, nil
}

func supportedTimeframes() []string {
	tfs := make([]string, 0, len(TimeframeSeconds))
	for tf := range TimeframeSeconds {
		tfs = append(tfs, tf)
	}
	sort.Slice(tfs, func(i, j int) bool {
		return TimeframeSeconds[tfs[i]] < TimeframeSeconds[tfs[j]]
	})
	return tfs
}
