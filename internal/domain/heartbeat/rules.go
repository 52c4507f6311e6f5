package heartbeat

// RuleThresholds parameterizes the anomaly rule engine. Values come from
// configuration so operators can tune sensitivity without a redeploy.
type RuleThresholds struct {
	LowThreshold  int
	HighThreshold int
	SpikeDelta    int
}

// RuleEngine evaluates a HeartbeatEvent against a fixed, priority-ordered
// rule set. It holds no state of its own — the rolling history it consults
// is supplied by the caller on every call — so a single instance is safe to
// reuse across subjects and goroutines.
type RuleEngine struct {
	thresholds RuleThresholds
}

// NewRuleEngine constructs a RuleEngine with the given thresholds.
func NewRuleEngine(thresholds RuleThresholds) *RuleEngine {
	return &RuleEngine{thresholds: thresholds}
}

// Evaluate applies the rule set to event given the subject's prior readings
// (oldest first, most recent last; may be empty for a subject's first ever
// event). Evaluation order is LOW → HIGH → SPIKE; the first matching rule
// wins. Evaluate returns nil when no rule fires.
func (r *RuleEngine) Evaluate(event *HeartbeatEvent, recentRates []int) *AnomalyEvent {
	rate := event.HeartRate

	if rate <= r.thresholds.LowThreshold {
		return r.build(event, AnomalyTypeLowHeartRate, SeverityHigh, map[string]interface{}{
			"threshold": r.thresholds.LowThreshold,
			"measured":  rate,
		})
	}

	if rate >= r.thresholds.HighThreshold {
		return r.build(event, AnomalyTypeHighHeartRate, SeverityHigh, map[string]interface{}{
			"threshold": r.thresholds.HighThreshold,
			"measured":  rate,
		})
	}

	if len(recentRates) > 0 {
		previous := recentRates[len(recentRates)-1]
		delta := rate - previous
		if delta < 0 {
			delta = -delta
		}
		if delta >= r.thresholds.SpikeDelta {
			return r.build(event, AnomalyTypeSpike, SeverityMedium, map[string]interface{}{
				"delta":     delta,
				"threshold": r.thresholds.SpikeDelta,
				"previous":  previous,
				"measured":  rate,
			})
		}
	}

	return nil
}

func (r *RuleEngine) build(event *HeartbeatEvent, anomalyType, severity string, details map[string]interface{}) *AnomalyEvent {
	return &AnomalyEvent{
		EventID:     event.EventID,
		CustomerID:  event.CustomerID,
		Timestamp:   event.Timestamp,
		HeartRate:   event.HeartRate,
		AnomalyType: anomalyType,
		Severity:    severity,
		Details:     details,
	}
}
