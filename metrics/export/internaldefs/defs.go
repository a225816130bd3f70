package internaldefs

import (
	"github.com/ibn-api/authcore"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to a full buffer.
const AuditDroppedName = "authcore_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

// CounterDefs lists every engine counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Logins that opened a session."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Logins rejected for reasons other than throttling."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Logins rejected by the throttle."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Lockouts triggered by failed logins."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: authcore.MetricRefreshRateLimited, Name: "authcore_refresh_rate_limited_total", Help: "Refreshes rejected by the throttle."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: authcore.MetricRefreshCeilingExceeded, Name: "authcore_refresh_ceiling_exceeded_total", Help: "Sessions ended by the refresh ceiling."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Sessions created."},
	{ID: authcore.MetricSessionInvalidated, Name: "authcore_session_invalidated_total", Help: "Sessions invalidated."},
	{ID: authcore.MetricSessionSwept, Name: "authcore_session_swept_total", Help: "Expired sessions removed by the sweeper."},
	{ID: authcore.MetricSuspiciousActivity, Name: "authcore_suspicious_activity_total", Help: "Session activity from an unexpected IP."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logouts that invalidated a session."},
	{ID: authcore.MetricAuthorizeAllowed, Name: "authcore_authorize_allowed_total", Help: "Authorization checks that passed."},
	{ID: authcore.MetricAuthorizeDenied, Name: "authcore_authorize_denied_total", Help: "Authorization checks that were denied."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Completed password changes."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authcore.MetricPasswordChangeReuseRejected, Name: "authcore_password_change_reuse_rejected_total", Help: "Password changes rejected for reuse."},
	{ID: authcore.MetricPasswordRehashed, Name: "authcore_password_rehashed_total", Help: "Stored hashes upgraded on login."},
	{ID: authcore.MetricAccountUnlocked, Name: "authcore_account_unlocked_total", Help: "Administrative unlocks."},
	{ID: authcore.MetricAccountStatusChanged, Name: "authcore_account_status_changed_total", Help: "Administrative status changes."},
	{ID: authcore.MetricRoleAssigned, Name: "authcore_role_assigned_total", Help: "Role assignments."},
	{ID: authcore.MetricIdentityCreated, Name: "authcore_identity_created_total", Help: "Identities created."},
}

// HistogramDefs lists every engine histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_authenticate_latency_seconds", Help: "Authenticate latency."},
}

// HistogramUpperBounds are the bucket upper bounds in seconds, without +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundLabels are the "le" label values, +Inf last, for exporters
// that publish buckets as labelled series.
var HistogramBoundLabels = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
