package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveFill(t *testing.T) {
	before := testutil.ToFloat64(FillsTotal.WithLabelValues("open"))
	ObserveFill("open", "", false, time.Now())
	if got := testutil.ToFloat64(FillsTotal.WithLabelValues("open")); got != before+1 {
		t.Errorf("fills = %v, want %v", got, before+1)
	}

	tests := []struct {
		name string
		code string
		want string
	}{
		{"coded", "FTB", "FTB"},
		{"uncoded", "", "ERR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := FillRejectionsTotal.WithLabelValues("close", tt.want)
			before := testutil.ToFloat64(c)
			ObserveFill("close", tt.code, true, time.Now())
			if got := testutil.ToFloat64(c); got != before+1 {
				t.Errorf("rejections[%s] = %v, want %v", tt.want, got, before+1)
			}
		})
	}
}

func TestObserveKeeper(t *testing.T) {
	filled := testutil.ToFloat64(KeeperOutcomes.WithLabelValues("filled"))
	kept := testutil.ToFloat64(KeeperOutcomes.WithLabelValues("kept"))
	ObserveKeeper(2, 0, 3)
	if got := testutil.ToFloat64(KeeperOutcomes.WithLabelValues("filled")); got != filled+2 {
		t.Errorf("filled = %v, want %v", got, filled+2)
	}
	if got := testutil.ToFloat64(KeeperOutcomes.WithLabelValues("kept")); got != kept+3 {
		t.Errorf("kept = %v, want %v", got, kept+3)
	}
}
