package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mr1hm/go-cap-alerts/internal/models"
)

func TestRecordTransition(t *testing.T) {
	c := OutboxTransitionsTotal.WithLabelValues("SMS", "Invalid")
	before := testutil.ToFloat64(c)

	RecordTransition(models.ChannelSMS, models.StatusInvalid)

	if got := testutil.ToFloat64(c); got != before+1 {
		t.Errorf("expected counter %v, got %v", before+1, got)
	}
}

func TestRecordAdmission(t *testing.T) {
	admit := RateLimitDecisionsTotal.WithLabelValues("admit")
	deny := RateLimitDecisionsTotal.WithLabelValues("deny")
	a0, d0 := testutil.ToFloat64(admit), testutil.ToFloat64(deny)

	RecordAdmission(true)
	RecordAdmission(false)
	RecordAdmission(false)

	if testutil.ToFloat64(admit) != a0+1 || testutil.ToFloat64(deny) != d0+2 {
		t.Errorf("unexpected admission counts: admit=%v deny=%v", testutil.ToFloat64(admit), testutil.ToFloat64(deny))
	}
}
