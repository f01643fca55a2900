package observability

import (
	"testing"
	"time"

	"github.com/danmuck/hbdp/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("hbdp-a", "POST", 200, 12*time.Millisecond)
	before := testutil.ToFloat64(exchangesSuperseded)
	ExchangeSuperseded()
	if got := testutil.ToFloat64(exchangesSuperseded); got != before+1 {
		t.Fatalf("superseded counter got=%v want=%v", got, before+1)
	}

	active := testutil.ToFloat64(sessionsActive)
	SessionStarted()
	SessionEnded(SessionEndClient)
	if got := testutil.ToFloat64(sessionsActive); got != active {
		t.Fatalf("active gauge drifted: got=%v want=%v", got, active)
	}

	inbound := testutil.ToFloat64(streamBytes.WithLabelValues(DirectionInbound))
	RecordBytes(DirectionInbound, 0)
	RecordBytes(DirectionInbound, 5)
	if got := testutil.ToFloat64(streamBytes.WithLabelValues(DirectionInbound)); got != inbound+5 {
		t.Fatalf("inbound bytes got=%v want=%v", got, inbound+5)
	}
	testlog.Logf("observability/metrics: registration idempotent and recording paths executed")
}
