package waanauth

import (
	"context"

	"github.com/waanverse/waanauth/internal/flows"
)

func (e *Engine) deviceBindingDeps() flows.DeviceBindingDeps {
	cfg := e.config.DeviceBinding
	return flows.DeviceBindingDeps{
		Config: flows.DeviceBindingConfig{
			Enabled:               cfg.Enabled,
			EnforceDeviceID:       cfg.EnforceDeviceID,
			DetectDeviceChange:    cfg.DetectDeviceChange,
			EnforceUserAgent:      cfg.EnforceUserAgent,
			DetectUserAgentChange: cfg.DetectUserAgentChange,
			EnforceIP:             cfg.EnforceIP,
			DetectIPChange:        cfg.DetectIPChange,
		},
		DeviceID:   deviceIDFromContext,
		UserAgent:  userAgentFromContext,
		ClientIP:   clientIPFromContext,
		ShouldEmit: e.shouldEmitDeviceAnomaly,
		MetricInc:  e.metricIncInt,
		EmitAudit:  e.emitAudit,
		Events: flows.DeviceBindingEvents{
			AnomalyDetected: auditEventDeviceAnomalyDetected,
			Rejected:        auditEventDeviceBindingRejected,
		},
		Metrics: flows.DeviceBindingMetrics{
			DeviceMismatch:    int(MetricDeviceIDMismatch),
			UserAgentMismatch: int(MetricDeviceUAMismatch),
			IPMismatch:        int(MetricDeviceIPMismatch),
			Rejected:          int(MetricDeviceRejected),
		},
		Rejected: ErrDeviceBindingRejected,
	}
}

// shouldEmitDeviceAnomaly suppresses repeat reports for a session. A Redis
// failure suppresses the report; enforcement still applies.
func (e *Engine) shouldEmitDeviceAnomaly(ctx context.Context, sessionID, kind string) bool {
	ok, err := e.sessions.ShouldEmitAnomaly(ctx, sessionID, kind, e.config.DeviceBinding.AnomalyWindow)
	if err != nil {
		e.warn("device anomaly window check failed", err)
		return false
	}
	return ok
}
