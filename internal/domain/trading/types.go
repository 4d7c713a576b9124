package trading

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar of the window handed to analyzers.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Closes extracts close prices in window order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Direction is the side of a proposed or live position.
type Direction int

const (
	Long Direction = iota + 1
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "none"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "long":
		*d = Long
	case "short":
		*d = Short
	case "none", "":
		*d = 0
	default:
		return fmt.Errorf("unknown direction %q", text)
	}
	return nil
}

// Sign returns +1 for long, -1 for short and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// Opposite returns the closing side of a position.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return d
	}
}

// DecisionKind is the outcome of one aggregation cycle for a symbol.
type DecisionKind int

const (
	Hold DecisionKind = iota
	EnterLong
	EnterShort
	Exit
	InsufficientData
)

func (k DecisionKind) String() string {
	switch k {
	case Hold:
		return "hold"
	case EnterLong:
		return "enter_long"
	case EnterShort:
		return "enter_short"
	case Exit:
		return "exit"
	case InsufficientData:
		return "insufficient_data"
	default:
		return fmt.Sprintf("decision(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON and YAML.
func (k DecisionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the names produced by MarshalText.
func (k *DecisionKind) UnmarshalText(b []byte) error {
	for _, candidate := range []DecisionKind{Hold, EnterLong, EnterShort, Exit, InsufficientData} {
		if candidate.String() == string(b) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown decision kind %q", string(b))
}

// Direction returns the entry direction for enter decisions.
func (k DecisionKind) Direction() (Direction, bool) {
	switch k {
	case EnterLong:
		return Long, true
	case EnterShort:
		return Short, true
	default:
		return 0, false
	}
}

// AnalyzerKind names one analyzer family.
type AnalyzerKind string

const (
	KindMarket     AnalyzerKind = "market"
	KindSentiment  AnalyzerKind = "sentiment"
	KindPredictive AnalyzerKind = "predictive"
	KindPattern    AnalyzerKind = "pattern"
)
