package flows

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
)

// DeviceBindingConfig selects which client attributes are compared against
// the values recorded at login. Detect flags only report; Enforce flags
// reject the request.
type DeviceBindingConfig struct {
	Enabled               bool
	EnforceDeviceID       bool
	DetectDeviceChange    bool
	EnforceUserAgent      bool
	DetectUserAgentChange bool
	EnforceIP             bool
	DetectIPChange        bool
}

// DeviceBindingSession is the login-time client view of a session.
type DeviceBindingSession struct {
	SessionID  string
	IdentityID string
	DeviceID   string
	UserAgent  string
	IPAddress  string
}

// DeviceBindingEvents names the audit events of the binding check.
type DeviceBindingEvents struct {
	AnomalyDetected string
	Rejected        string
}

// DeviceBindingMetrics carries host metric ids.
type DeviceBindingMetrics struct {
	DeviceMismatch    int
	UserAgentMismatch int
	IPMismatch        int
	Rejected          int
}

// DeviceBindingDeps wires the binding check to the request context, the
// anomaly de-duplication window and the host's audit and metric sinks.
type DeviceBindingDeps struct {
	Config DeviceBindingConfig

	DeviceID  func(context.Context) string
	UserAgent func(context.Context) string
	ClientIP  func(context.Context) string

	// ShouldEmit reports whether an anomaly of kind was not already reported
	// for the session within the suppression window.
	ShouldEmit func(ctx context.Context, sessionID, kind string) bool
	MetricInc  func(int)
	EmitAudit  func(ctx context.Context, event string, success bool, identityID string, err error, meta map[string]string)

	Events   DeviceBindingEvents
	Metrics  DeviceBindingMetrics
	Rejected error
}

type bindingCheck struct {
	kind    string
	stored  string
	current string
	enforce bool
	detect  bool
	metric  int

	mismatch bool
	emit     bool
}

// RunValidateDeviceBinding compares the request's device id, user agent and
// client IP with the session. Detected changes are audited once per window;
// an enforced mismatch returns deps.Rejected.
func RunValidateDeviceBinding(ctx context.Context, sess DeviceBindingSession, deps DeviceBindingDeps) error {
	cfg := deps.Config
	if !cfg.Enabled {
		return nil
	}

	checks := []*bindingCheck{
		{kind: "device", stored: sess.DeviceID, current: valueOf(ctx, deps.DeviceID),
			enforce: cfg.EnforceDeviceID, detect: cfg.DetectDeviceChange, metric: deps.Metrics.DeviceMismatch},
		{kind: "ua", stored: sess.UserAgent, current: valueOf(ctx, deps.UserAgent),
			enforce: cfg.EnforceUserAgent, detect: cfg.DetectUserAgentChange, metric: deps.Metrics.UserAgentMismatch},
		{kind: "ip", stored: sess.IPAddress, current: valueOf(ctx, deps.ClientIP),
			enforce: cfg.EnforceIP, detect: cfg.DetectIPChange, metric: deps.Metrics.IPMismatch},
	}

	detected := map[string]string{}
	enforced := map[string]string{}
	for _, c := range checks {
		if !c.enforce && !c.detect {
			continue
		}
		c.mismatch = bindingMismatch(c.stored, c.current, c.enforce)
		if !c.mismatch {
			continue
		}
		c.emit = shouldEmit(ctx, deps, sess.SessionID, c.kind)
		if c.emit {
			metricInc(deps, c.metric)
		}
		if c.detect && c.emit {
			detected[c.kind+"_mismatch"] = "1"
		}
		if c.enforce {
			enforced["enforced_"+c.kind+"_mismatch"] = "1"
		}
	}

	if len(detected) > 0 && shouldEmit(ctx, deps, sess.SessionID, "detect") && deps.EmitAudit != nil {
		deps.EmitAudit(ctx, deps.Events.AnomalyDetected, true, sess.IdentityID, nil, withSession(detected, sess.SessionID))
	}

	if len(enforced) == 0 {
		return nil
	}
	if shouldEmit(ctx, deps, sess.SessionID, "reject") {
		metricInc(deps, deps.Metrics.Rejected)
		if deps.EmitAudit != nil {
			deps.EmitAudit(ctx, deps.Events.Rejected, false, sess.IdentityID, deps.Rejected, withSession(enforced, sess.SessionID))
		}
	}
	return deps.Rejected
}

func valueOf(ctx context.Context, fn func(context.Context) string) string {
	if fn == nil {
		return ""
	}
	return fn(ctx)
}

func shouldEmit(ctx context.Context, deps DeviceBindingDeps, sessionID, kind string) bool {
	if deps.ShouldEmit == nil {
		return true
	}
	return deps.ShouldEmit(ctx, sessionID, kind)
}

func metricInc(deps DeviceBindingDeps, id int) {
	if deps.MetricInc != nil {
		deps.MetricInc(id)
	}
}

func withSession(meta map[string]string, sessionID string) map[string]string {
	meta["session_id"] = sessionID
	return meta
}

// bindingMismatch treats a value missing on either side as a mismatch when
// enforcing. Detection ignores attributes absent on both sides.
func bindingMismatch(stored, current string, enforce bool) bool {
	if stored == "" && current == "" {
		return enforce
	}
	if stored == "" || current == "" {
		return true
	}
	a := sha256.Sum256([]byte(stored))
	b := sha256.Sum256([]byte(current))
	return subtle.ConstantTimeCompare(a[:], b[:]) != 1
}
