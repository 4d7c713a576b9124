package trading

import (
	"fmt"
	"strings"
	"time"
)

// AnalyzerScore is the output of one analyzer for one symbol and cycle.
// Score range is fixed per kind: 0..100 for market and pattern, -100..100
// for sentiment.
type AnalyzerScore struct {
	Kind       AnalyzerKind   `json:"kind"`
	Symbol     string         `json:"symbol"`
	Timestamp  time.Time      `json:"timestamp"`
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
	Details    map[string]any `json:"details,omitempty"`
}

// Scores holds the analyzer outputs gathered for one decision.
type Scores map[AnalyzerKind]*AnalyzerScore

// Has reports whether a score for kind is present.
func (s Scores) Has(kind AnalyzerKind) bool {
	return s[kind] != nil
}

// Trail is an append-only reasoning log.
type Trail []string

// Add appends one formatted entry.
func (t *Trail) Add(format string, args ...any) {
	*t = append(*t, fmt.Sprintf(format, args...))
}

func (t Trail) String() string {
	return strings.Join(t, "; ")
}

// GateCheck is the result of a single admission check.
type GateCheck struct {
	Name        string  `json:"name"`
	Passed      bool    `json:"passed"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Description string  `json:"description"`
}

// RiskAssessment is the sizing output for a symbol.
type RiskAssessment struct {
	Symbol          string    `json:"symbol"`
	Timestamp       time.Time `json:"timestamp"`
	RiskScore       float64   `json:"risk_score"`
	Leverage        float64   `json:"leverage"`
	PositionSize    float64   `json:"position_size"`
	StopLossPct     float64   `json:"stop_loss_pct"`
	TakeProfitPct   float64   `json:"take_profit_pct"`
	RiskRewardRatio float64   `json:"risk_reward_ratio"`
	Confidence      float64   `json:"confidence"`
	StopSource      string    `json:"stop_source"`
	TargetSource    string    `json:"target_source"`
	Trail           Trail     `json:"trail"`
}

// AdmissionAssessment is the gate verdict for one sized entry.
type AdmissionAssessment struct {
	Symbol          string      `json:"symbol"`
	Timestamp       time.Time   `json:"timestamp"`
	Direction       Direction   `json:"direction"`
	EntryPrice      float64     `json:"entry_price"`
	StopLossPrice   float64     `json:"stop_loss_price"`
	TakeProfitPrice float64     `json:"take_profit_price"`
	PositionSize    float64     `json:"position_size"`
	Leverage        float64     `json:"leverage"`
	RiskAmount      float64     `json:"risk_amount"`
	RewardAmount    float64     `json:"reward_amount"`
	RiskRewardRatio float64     `json:"risk_reward_ratio"`
	WinProbability  float64     `json:"win_probability"`
	ExpectedValue   float64     `json:"expected_value"`
	Approved        bool        `json:"approved"`
	Checks          []GateCheck `json:"checks"`
	Trail           Trail       `json:"trail"`
}

// FailureReasons lists descriptions of failed checks.
func (a *AdmissionAssessment) FailureReasons() []string {
	var reasons []string
	for _, c := range a.Checks {
		if !c.Passed {
			reasons = append(reasons, c.Description)
		}
	}
	return reasons
}

// TradingDecision is the cached outcome of one aggregation cycle.
type TradingDecision struct {
	Symbol       string               `json:"symbol"`
	Timestamp    time.Time            `json:"timestamp"`
	Kind         DecisionKind         `json:"kind"`
	Confidence   float64              `json:"confidence"`
	LongScore    float64              `json:"long_score"`
	ShortScore   float64              `json:"short_score"`
	QualityScore float64              `json:"quality_score,omitempty"`
	Price        float64              `json:"price"`
	Scores       Scores               `json:"scores,omitempty"`
	Risk         *RiskAssessment      `json:"risk,omitempty"`
	Admission    *AdmissionAssessment `json:"admission,omitempty"`
	Trail        Trail                `json:"trail"`
}

// Admitted reports whether the decision is an entry approved by the gate.
func (d *TradingDecision) Admitted() bool {
	if d == nil || d.Admission == nil {
		return false
	}
	_, enter := d.Kind.Direction()
	return enter && d.Admission.Approved
}

// Reasoning renders the trail as a single audit string.
func (d *TradingDecision) Reasoning() string {
	return d.Trail.String()
}
