// Package distribution defines the closed set of configuration tags a session
// can run under. Each tag selects the kernel's command vocabulary and the
// instructions given to the interpretation service.
package distribution

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDistribution is returned by Parse for tags outside the known set.
var ErrUnknownDistribution = errors.New("unknown distribution")

// Distribution is a configuration tag ("distribution") for a session.
type Distribution string

const (
	Base       Distribution = "wayneos"
	TOP        Distribution = "wayneos-top"
	SSPB       Distribution = "wayneos-sspb"
	Financial  Distribution = "wayneos-financial"
	Enterprise Distribution = "wayneos-enterprise"
)

// Capability is one action the kernel understands.
type Capability string

// Base capabilities, available in every distribution.
const (
	ReadEmails       Capability = "read_emails"
	CreateTaskList   Capability = "create_task_list"
	OpenApplication  Capability = "open_application"
	OptimizeHardware Capability = "optimize_hardware"
	FileOperation    Capability = "file_operation"
	SystemInfo       Capability = "system_info"
	NetworkOperation Capability = "network_operation"
)

// TOP automotive capabilities.
const (
	ReconcileInvoices Capability = "reconcile_invoices"
	TrackInventory    Capability = "track_inventory"
	ManagePayroll     Capability = "manage_payroll"
)

// SS-PB healthcare capabilities.
const (
	ScheduleShifts    Capability = "schedule_shifts"
	VerifyCredentials Capability = "verify_credentials"
	ComplianceCheck   Capability = "compliance_check"
)

// Financial capabilities.
const (
	ReconcileAccounts Capability = "reconcile_accounts"
	GenerateReports   Capability = "generate_reports"
	AnalyzeTrends     Capability = "analyze_trends"
)

var baseCapabilities = []Capability{
	ReadEmails,
	CreateTaskList,
	OpenApplication,
	OptimizeHardware,
	FileOperation,
	SystemInfo,
	NetworkOperation,
}

var extraCapabilities = map[Distribution][]Capability{
	TOP:       {ReconcileInvoices, TrackInventory, ManagePayroll},
	SSPB:      {ScheduleShifts, VerifyCredentials, ComplianceCheck},
	Financial: {ReconcileAccounts, GenerateReports, AnalyzeTrends},
}

var labels = map[Distribution]string{
	TOP:        "TOP Automotive",
	SSPB:       "SS-PB Healthcare",
	Financial:  "Financial",
	Enterprise: "Enterprise",
}

// All returns every known distribution in a stable order.
func All() []Distribution {
	return []Distribution{Base, TOP, SSPB, Financial, Enterprise}
}

// Parse converts a raw tag into a Distribution. An empty tag selects Base.
func Parse(s string) (Distribution, error) {
	tag := Distribution(strings.ToLower(strings.TrimSpace(s)))
	if tag == "" {
		return Base, nil
	}
	for _, d := range All() {
		if d == tag {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDistribution, s)
}

func (d Distribution) String() string {
	return string(d)
}

// Capabilities returns the action vocabulary unlocked by d. Enterprise
// unlocks every capability of every other distribution.
func (d Distribution) Capabilities() []Capability {
	caps := make([]Capability, 0, len(baseCapabilities)+9)
	caps = append(caps, baseCapabilities...)

	if d == Enterprise {
		for _, other := range []Distribution{TOP, SSPB, Financial} {
			caps = append(caps, extraCapabilities[other]...)
		}
		return caps
	}

	return append(caps, extraCapabilities[d]...)
}

// Supports reports whether the action name belongs to d's vocabulary.
func (d Distribution) Supports(action string) bool {
	for _, c := range d.Capabilities() {
		if string(c) == action {
			return true
		}
	}
	return false
}
