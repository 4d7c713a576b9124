package technical

import (
	"math"
)

// RSI calculates the Relative Strength Index with Wilder smoothing.
// Returns 50 when there is not enough data.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return 50.0
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// EMA returns the exponential moving average series seeded with the SMA
// of the first period values. The result is aligned to prices[period-1:].
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(prices)-period+1)
	sum := 0.0
	for _, p := range prices[:period] {
		sum += p
	}
	prev := sum / float64(period)
	out = append(out, prev)
	for _, p := range prices[period:] {
		prev = p*k + prev*(1-k)
		out = append(out, prev)
	}
	return out
}

// MACDResult holds the latest MACD values.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
	IsValid   bool
}

// MACD computes the moving average convergence divergence.
func MACD(prices []float64, fast, slow, signal int) MACDResult {
	if fast <= 0 || slow <= fast || signal <= 0 || len(prices) < slow+signal-1 {
		return MACDResult{}
	}
	fastEMA := EMA(prices, fast)
	slowEMA := EMA(prices, slow)
	offset := slow - fast
	line := make([]float64, len(slowEMA))
	for i := range slowEMA {
		line[i] = fastEMA[i+offset] - slowEMA[i]
	}
	sig := EMA(line, signal)
	if len(sig) == 0 {
		return MACDResult{}
	}
	m := line[len(line)-1]
	s := sig[len(sig)-1]
	return MACDResult{MACD: m, Signal: s, Histogram: m - s, IsValid: true}
}

// BollingerResult holds the latest band values.
type BollingerResult struct {
	Upper   float64
	Middle  float64
	Lower   float64
	IsValid bool
}

// Bollinger computes bands of stdDevs population deviations around the SMA.
func Bollinger(prices []float64, period int, stdDevs float64) BollingerResult {
	if period <= 0 || len(prices) < period {
		return BollingerResult{}
	}
	window := prices[len(prices)-period:]
	mean := Mean(window)
	variance := 0.0
	for _, p := range window {
		variance += (p - mean) * (p - mean)
	}
	sd := math.Sqrt(variance / float64(period))
	return BollingerResult{
		Upper:   mean + stdDevs*sd,
		Middle:  mean,
		Lower:   mean - stdDevs*sd,
		IsValid: true,
	}
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// Returns converts prices to percentage returns.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1]*100)
	}
	return out
}

// LinearTrend fits a least-squares line and returns the slope per bar and
// the coefficient of determination.
func LinearTrend(prices []float64) (slope, r2 float64) {
	n := float64(len(prices))
	if n < 3 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range prices {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i, y := range prices {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		return slope, 0
	}
	return slope, math.Max(0, 1-ssRes/ssTot)
}
