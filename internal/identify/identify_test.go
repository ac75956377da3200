package identify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsieve/internal/schema"
)

func newIdentifier(t *testing.T) *Identifier {
	t.Helper()
	r := schema.NewRegistry(schema.NewFunctionRegistry())
	require.NoError(t, schema.RegisterBuiltins(r))
	return New(r)
}

func TestIdentify_MedicalQuery(t *testing.T) {
	id := newIdentifier(t)

	plan := id.Identify("extract the patient name and diagnosis from this medical record", Options{})
	require.False(t, plan.Empty())
	assert.Equal(t, "medical", plan.Domain)
	assert.Contains(t, plan.SubDomains, "patient_info")
	assert.Contains(t, plan.Fields, "patient_name")
	assert.Greater(t, plan.FieldConfidences["patient_name"], 0.0)
}

func TestIdentify_LegalQuery(t *testing.T) {
	id := newIdentifier(t)

	plan := id.Identify("find the effective date and the parties of the contract", Options{})
	require.False(t, plan.Empty())
	assert.Equal(t, "legal", plan.Domain)
	assert.Contains(t, plan.Fields, "effective_date")
	assert.Contains(t, plan.Fields, "parties")
}

func TestIdentify_LLMDomainBoost(t *testing.T) {
	id := newIdentifier(t)

	// The query carries no medical signal; the preprocessor hint alone
	// lifts the domain to candidate status.
	plan := id.Identify("pull the usual fields", Options{LLMDomain: "medical"})
	require.False(t, plan.Empty())
	assert.Equal(t, "medical", plan.Domain)

	for _, c := range plan.Candidates {
		if c.Name == "medical" {
			assert.GreaterOrEqual(t, c.Confidence, LLMDomainBoost)
		}
	}
}

func TestIdentify_NoMatchYieldsEmptyPlan(t *testing.T) {
	id := newIdentifier(t)

	plan := id.Identify("qwxyz", Options{})
	assert.True(t, plan.Empty())
}

func TestIdentify_TopDomainsCapped(t *testing.T) {
	id := newIdentifier(t)

	// Query touching medical and legal and general terms; candidates cap
	// at two.
	plan := id.Identify("patient medical record contract agreement between parties", Options{})
	require.False(t, plan.Empty())
	assert.LessOrEqual(t, len(plan.Candidates), 2)
}

func TestIdentify_FieldCap(t *testing.T) {
	id := newIdentifier(t)

	plan := id.Identify(
		"patient name date of birth gender medical record number diagnosis medication allergy procedure surgery",
		Options{MinFieldConfidence: 0.6})
	require.False(t, plan.Empty())
	assert.LessOrEqual(t, len(plan.Fields), 6)
}

func TestIdentify_Deterministic(t *testing.T) {
	id := newIdentifier(t)

	query := "patient diagnosis medication"
	p1 := id.Identify(query, Options{})
	p2 := id.Identify(query, Options{})
	assert.Equal(t, p1.Domain, p2.Domain)
	assert.Equal(t, p1.SubDomains, p2.SubDomains)
	assert.Equal(t, p1.Fields, p2.Fields)
}

func TestIdentify_SubDomainsFollowRetainedFields(t *testing.T) {
	id := newIdentifier(t)

	plan := id.Identify("list the patient allergies", Options{MinFieldConfidence: 0.6})
	require.False(t, plan.Empty())
	assert.Equal(t, "medical", plan.Domain)
	if len(plan.Fields) > 0 {
		assert.Contains(t, plan.SubDomains, "allergies")
	}
}
