package internaldefs

import (
	goAccount "github.com/MrEthical07/goAccount"
)

// CounterDef names one engine counter for exporters.
//
// Name is the flat Prometheus name. Family and Event place the counter in
// an attribute-keyed instrument, goaccount_<family>_events_total with
// event=<Event>, for exporters that prefer attributes over names.
type CounterDef struct {
	ID     goAccount.MetricID
	Name   string
	Help   string
	Family string
	Event  string
}

// Counter families.
const (
	FamilyAccount  = "account"
	FamilyLogin    = "login"
	FamilyEmail    = "email"
	FamilyCode     = "code"
	FamilyPassword = "password"
	FamilySession  = "session"
	FamilyStore    = "store"
)

// FamilyHelp describes each family instrument.
var FamilyHelp = map[string]string{
	FamilyAccount:  "Account creation outcomes.",
	FamilyLogin:    "Login outcomes.",
	FamilyEmail:    "Email identity lifecycle events.",
	FamilyCode:     "Verification code issuance and delivery.",
	FamilyPassword: "Password change and reset outcomes.",
	FamilySession:  "Session lifecycle events.",
	FamilyStore:    "Account store transaction events.",
}

// FamilyName returns the instrument name of family.
func FamilyName(family string) string {
	return "goaccount_" + family + "_events_total"
}

// Families lists the families in first-use order of CounterDefs.
func Families() []string {
	seen := make(map[string]bool)
	var out []string
	for _, def := range CounterDefs {
		if !seen[def.Family] {
			seen[def.Family] = true
			out = append(out, def.Family)
		}
	}
	return out
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   goAccount.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: goAccount.MetricAccountCreated, Name: "goaccount_account_created_total", Help: "Created accounts.", Family: FamilyAccount, Event: "created"},
	{ID: goAccount.MetricAccountCreateDuplicate, Name: "goaccount_account_create_duplicate_total", Help: "Account creations rejected because the address is owned.", Family: FamilyAccount, Event: "create_duplicate"},
	{ID: goAccount.MetricLoginSuccess, Name: "goaccount_login_success_total", Help: "Successful logins.", Family: FamilyLogin, Event: "success"},
	{ID: goAccount.MetricLoginFailure, Name: "goaccount_login_failure_total", Help: "Failed logins.", Family: FamilyLogin, Event: "failure"},
	{ID: goAccount.MetricLoginIncorrectEmailCase, Name: "goaccount_login_incorrect_email_case_total", Help: "Logins rejected with the canonical address to retry with.", Family: FamilyLogin, Event: "incorrect_email_case"},
	{ID: goAccount.MetricEmailAdded, Name: "goaccount_email_added_total", Help: "Secondary emails attached.", Family: FamilyEmail, Event: "added"},
	{ID: goAccount.MetricEmailVerified, Name: "goaccount_email_verified_total", Help: "Secondary emails verified.", Family: FamilyEmail, Event: "verified"},
	{ID: goAccount.MetricEmailVerifyFailure, Name: "goaccount_email_verify_failure_total", Help: "Failed secondary email verifications.", Family: FamilyEmail, Event: "verify_failure"},
	{ID: goAccount.MetricPrimaryChanged, Name: "goaccount_primary_changed_total", Help: "Primary email changes.", Family: FamilyEmail, Event: "primary_changed"},
	{ID: goAccount.MetricEmailDeleted, Name: "goaccount_email_deleted_total", Help: "Secondary emails deleted.", Family: FamilyEmail, Event: "deleted"},
	{ID: goAccount.MetricCodeIssued, Name: "goaccount_code_issued_total", Help: "Verification and reset codes issued.", Family: FamilyCode, Event: "issued"},
	{ID: goAccount.MetricMailFailure, Name: "goaccount_mail_failure_total", Help: "Code deliveries the mailer rejected.", Family: FamilyCode, Event: "mail_failure"},
	{ID: goAccount.MetricPasswordChangeSuccess, Name: "goaccount_password_change_success_total", Help: "Successful password changes.", Family: FamilyPassword, Event: "change_success"},
	{ID: goAccount.MetricPasswordChangeFailure, Name: "goaccount_password_change_failure_total", Help: "Failed password changes.", Family: FamilyPassword, Event: "change_failure"},
	{ID: goAccount.MetricPasswordResetRequest, Name: "goaccount_password_reset_request_total", Help: "Password reset codes requested.", Family: FamilyPassword, Event: "reset_request"},
	{ID: goAccount.MetricPasswordResetCodeFailure, Name: "goaccount_password_reset_code_failure_total", Help: "Failed password reset code redemptions.", Family: FamilyPassword, Event: "reset_code_failure"},
	{ID: goAccount.MetricPasswordResetSuccess, Name: "goaccount_password_reset_success_total", Help: "Completed password resets.", Family: FamilyPassword, Event: "reset_success"},
	{ID: goAccount.MetricPasswordResetFailure, Name: "goaccount_password_reset_failure_total", Help: "Rejected password resets.", Family: FamilyPassword, Event: "reset_failure"},
	{ID: goAccount.MetricSessionCreated, Name: "goaccount_session_created_total", Help: "Created sessions.", Family: FamilySession, Event: "created"},
	{ID: goAccount.MetricSessionInvalidated, Name: "goaccount_session_invalidated_total", Help: "Invalidated sessions.", Family: FamilySession, Event: "invalidated"},
	{ID: goAccount.MetricLogout, Name: "goaccount_logout_total", Help: "Logout operations.", Family: FamilySession, Event: "logout"},
	{ID: goAccount.MetricStoreConflict, Name: "goaccount_store_conflict_total", Help: "Account transactions that exhausted their retries.", Family: FamilyStore, Event: "conflict"},
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: goAccount.MetricLoginLatency, Name: "goaccount_login_latency_seconds", Help: "Login latency histogram."},
	{ID: goAccount.MetricValidateLatency, Name: "goaccount_validate_latency_seconds", Help: "Session validation latency histogram."},
}

// AuditDroppedName is the counter of audit events the dispatcher could not
// queue, labeled by AuditDroppedLabel.
const (
	AuditDroppedName  = "goaccount_audit_dropped_total"
	AuditDroppedHelp  = "Audit events the dispatcher could not queue, by event type."
	AuditDroppedLabel = "event_type"
)

// HistogramUpperBounds are the bucket upper bounds in seconds. The last
// bucket is unbounded.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundLabels are the le values of the eight buckets.
var HistogramBoundLabels = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// NormalizeBuckets pads or truncates raw snapshot buckets to eight entries.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
