package relay

import "testing"

func TestShouldTriggerReflexion(t *testing.T) {
	tests := []struct {
		name      string
		retryable bool
		used, max int
		safeMode  bool
		want      bool
	}{
		{"retryable under cap", true, 0, 2, false, true},
		{"non-retryable", false, 0, 2, false, false},
		{"cap reached", true, 2, 2, false, false},
		{"safe mode first attempt", true, 0, 2, true, true},
		{"safe mode second attempt", true, 1, 2, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldTriggerReflexion(tt.retryable, tt.used, tt.max, tt.safeMode)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReflexionLiteDecide(t *testing.T) {
	tests := []struct {
		name         string
		summary      string
		hasFallback  bool
		safeMode     bool
		wantStrategy string
		wantConf     float64
	}{
		{"timeout with fallback", "ErrHTTP: request timeout", true, false, StrategySwitchProvider, 0.7},
		{"timeout without fallback", "ErrHTTP: request timeout", false, false, StrategyRetrySame, 0.5},
		{"timeout in safe mode", "ErrHTTP: request timeout", true, true, StrategyRetrySame, 0.5},
		{"over budget", "BudgetError: over_budget estimate", true, false, StrategyReduceContext, 0.8},
		{"token pressure", "Error: token limit exceeded", false, false, StrategyReduceContext, 0.8},
		{"tool failure in safe mode", "Error: tool weather.get failed", false, true, StrategySkipTool, 0.6},
		{"tool failure normal mode", "Error: tool weather.get failed", false, false, StrategyRetrySame, 0.5},
		{"generic", "Error: something odd", true, false, StrategyRetrySame, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ReflexionLiteDecide(tt.summary, tt.hasFallback, tt.safeMode)
			if d.Strategy != tt.wantStrategy {
				t.Errorf("strategy = %s, want %s", d.Strategy, tt.wantStrategy)
			}
			if d.Confidence != tt.wantConf {
				t.Errorf("confidence = %v, want %v", d.Confidence, tt.wantConf)
			}
			if d.Reason == "" || len(d.Patch) == 0 {
				t.Error("decision must carry a reason and a patch")
			}
		})
	}
}
