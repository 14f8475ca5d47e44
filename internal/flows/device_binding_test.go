package flows

import (
	"context"
	"errors"
	"testing"
)

var errRejected = errors.New("device rejected")

type ctxKey string

func ctxValue(key ctxKey) func(context.Context) string {
	return func(ctx context.Context) string {
		v, _ := ctx.Value(key).(string)
		return v
	}
}

type recordedAudit struct {
	event string
	meta  map[string]string
}

func testBindingDeps(cfg DeviceBindingConfig, emit bool, c counters, audits *[]recordedAudit) DeviceBindingDeps {
	return DeviceBindingDeps{
		Config:     cfg,
		DeviceID:   ctxValue("device"),
		UserAgent:  ctxValue("ua"),
		ClientIP:   ctxValue("ip"),
		ShouldEmit: func(context.Context, string, string) bool { return emit },
		MetricInc:  c.inc,
		EmitAudit: func(_ context.Context, event string, _ bool, _ string, _ error, meta map[string]string) {
			*audits = append(*audits, recordedAudit{event: event, meta: meta})
		},
		Events:   DeviceBindingEvents{AnomalyDetected: "detected", Rejected: "rejected"},
		Metrics:  DeviceBindingMetrics{DeviceMismatch: 1, UserAgentMismatch: 2, IPMismatch: 3, Rejected: 4},
		Rejected: errRejected,
	}
}

func TestBindingMismatch(t *testing.T) {
	tests := []struct {
		name            string
		stored, current string
		enforce         bool
		want            bool
	}{
		{"equal", "a", "a", true, false},
		{"different", "a", "b", false, true},
		{"both missing detect", "", "", false, false},
		{"both missing enforce", "", "", true, true},
		{"stored missing", "", "a", false, true},
		{"current missing", "a", "", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bindingMismatch(tt.stored, tt.current, tt.enforce); got != tt.want {
				t.Fatalf("bindingMismatch(%q, %q, %v) = %v", tt.stored, tt.current, tt.enforce, got)
			}
		})
	}
}

func TestRunValidateDeviceBinding(t *testing.T) {
	sess := DeviceBindingSession{SessionID: "s1", IdentityID: "u1", DeviceID: "d1", UserAgent: "ua1", IPAddress: "10.0.0.1"}
	request := context.WithValue(context.WithValue(context.WithValue(context.Background(),
		ctxKey("device"), "d1"), ctxKey("ua"), "ua2"), ctxKey("ip"), "10.0.0.2")

	t.Run("disabled", func(t *testing.T) {
		c, audits := counters{}, []recordedAudit{}
		deps := testBindingDeps(DeviceBindingConfig{EnforceIP: true}, true, c, &audits)
		if err := RunValidateDeviceBinding(request, sess, deps); err != nil {
			t.Fatalf("expected disabled binding to pass, got %v", err)
		}
		if len(c) != 0 || len(audits) != 0 {
			t.Fatalf("expected no side effects, got %v %v", c, audits)
		}
	})

	t.Run("detect", func(t *testing.T) {
		c, audits := counters{}, []recordedAudit{}
		cfg := DeviceBindingConfig{Enabled: true, DetectDeviceChange: true, DetectUserAgentChange: true}
		if err := RunValidateDeviceBinding(request, sess, testBindingDeps(cfg, true, c, &audits)); err != nil {
			t.Fatalf("detection must not reject: %v", err)
		}
		if c[2] != 1 || c[1] != 0 || c[3] != 0 {
			t.Fatalf("unexpected counters %v", c)
		}
		if len(audits) != 1 || audits[0].event != "detected" || audits[0].meta["ua_mismatch"] != "1" {
			t.Fatalf("unexpected audits %+v", audits)
		}
	})

	t.Run("enforce", func(t *testing.T) {
		c, audits := counters{}, []recordedAudit{}
		cfg := DeviceBindingConfig{Enabled: true, EnforceIP: true, DetectUserAgentChange: true}
		err := RunValidateDeviceBinding(request, sess, testBindingDeps(cfg, true, c, &audits))
		if !errors.Is(err, errRejected) {
			t.Fatalf("expected rejection, got %v", err)
		}
		if c[3] != 1 || c[4] != 1 {
			t.Fatalf("unexpected counters %v", c)
		}
		if len(audits) != 2 || audits[1].event != "rejected" || audits[1].meta["enforced_ip_mismatch"] != "1" {
			t.Fatalf("unexpected audits %+v", audits)
		}
	})

	t.Run("suppressed still rejects", func(t *testing.T) {
		c, audits := counters{}, []recordedAudit{}
		cfg := DeviceBindingConfig{Enabled: true, EnforceIP: true}
		err := RunValidateDeviceBinding(request, sess, testBindingDeps(cfg, false, c, &audits))
		if !errors.Is(err, errRejected) {
			t.Fatalf("expected rejection, got %v", err)
		}
		if len(c) != 0 || len(audits) != 0 {
			t.Fatalf("expected suppressed reporting, got %v %v", c, audits)
		}
	})
}
