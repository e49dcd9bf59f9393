package distribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Distribution
		wantErr bool
	}{
		{name: "empty selects base", input: "", want: Base},
		{name: "base", input: "wayneos", want: Base},
		{name: "case and space insensitive", input: "  WayneOS-TOP ", want: TOP},
		{name: "healthcare", input: "wayneos-sspb", want: SSPB},
		{name: "financial", input: "wayneos-financial", want: Financial},
		{name: "enterprise", input: "wayneos-enterprise", want: Enterprise},
		{name: "unknown", input: "wayneos-gaming", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownDistribution)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCapabilities(t *testing.T) {
	t.Run("base has only the shared vocabulary", func(t *testing.T) {
		caps := Base.Capabilities()
		assert.Len(t, caps, 7)
		assert.Contains(t, caps, SystemInfo)
		assert.NotContains(t, caps, ReconcileInvoices)
	})

	t.Run("variants add their own actions", func(t *testing.T) {
		assert.Contains(t, TOP.Capabilities(), TrackInventory)
		assert.NotContains(t, TOP.Capabilities(), ScheduleShifts)
		assert.Contains(t, SSPB.Capabilities(), ComplianceCheck)
		assert.Contains(t, Financial.Capabilities(), AnalyzeTrends)
	})

	t.Run("enterprise unlocks everything", func(t *testing.T) {
		caps := Enterprise.Capabilities()
		for _, d := range []Distribution{Base, TOP, SSPB, Financial} {
			for _, c := range d.Capabilities() {
				assert.Contains(t, caps, c)
			}
		}
	})

	t.Run("returned slices are independent", func(t *testing.T) {
		caps := TOP.Capabilities()
		caps[0] = "tampered"
		assert.Equal(t, ReadEmails, TOP.Capabilities()[0])
	})
}

func TestSupports(t *testing.T) {
	assert.True(t, Financial.Supports("generate_reports"))
	assert.False(t, Base.Supports("generate_reports"))
	assert.False(t, Enterprise.Supports("launch_rockets"))
}

func TestSystemPrompt(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, SSPB.SystemPrompt(), SSPB.SystemPrompt())
	})

	t.Run("names the distribution and its vocabulary", func(t *testing.T) {
		prompt := TOP.SystemPrompt()
		assert.Contains(t, prompt, "Current distribution: wayneos-top")
		assert.Contains(t, prompt, "Additional TOP Automotive capabilities")
		assert.Contains(t, prompt, "- manage_payroll")
		assert.NotContains(t, prompt, "schedule_shifts")
	})

	t.Run("base has no extras section", func(t *testing.T) {
		assert.NotContains(t, Base.SystemPrompt(), "Additional")
	})

	t.Run("enterprise lists all extras", func(t *testing.T) {
		prompt := Enterprise.SystemPrompt()
		assert.Contains(t, prompt, "enterprise features")
		assert.Contains(t, prompt, "- reconcile_accounts")
		assert.Contains(t, prompt, "- verify_credentials")
	})
}
