package ingest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
)

func annKey() records.SubjectKey {
	return records.SubjectKey{FirstName: "Ann", Email: "a@x.com", Phone: "555"}
}

func testLookup() *Lookup {
	return NewLookup(map[records.Kind][]records.StoredReference{
		records.KindAgent:   {{ID: 1, Kind: records.KindAgent, Key: "Bob"}},
		records.KindAccount: {{ID: 2, Kind: records.KindAccount, Key: "Acme"}},
		records.KindLOB:     {{ID: 3, Kind: records.KindLOB, Key: "Auto"}},
	}, []records.StoredSubject{
		{ID: 7, Key: annKey()},
		{ID: 9, Key: annKey()},
	})
}

func TestLookup_LowestIDWins(t *testing.T) {
	l := NewLookup(nil, []records.StoredSubject{
		{ID: 9, Key: annKey()},
		{ID: 7, Key: annKey()},
		{ID: 8, Key: annKey()},
	})
	id, ok := l.Subject(annKey())
	require.True(t, ok)
	require.Equal(t, records.ID(7), id)
	require.Equal(t, 1, l.SubjectCount())
}

func TestLookup_ResolveOptionalReferences(t *testing.T) {
	row := testNormalizer().Normalize(Row{
		FieldFirstName:    "Ann",
		FieldEmail:        "a@x.com",
		FieldPhone:        "555",
		FieldAgent:        "Bob",
		FieldAccountName:  "Acme",
		FieldCategoryName: "Auto",
		FieldCompanyName:  "InsCo",
	})

	res, ok := testLookup().Resolve(row)
	require.True(t, ok)
	require.Equal(t, records.ID(7), res.SubjectID)
	require.Equal(t, records.ID(1), *res.AgentID)
	require.Equal(t, records.ID(2), *res.AccountID)
	require.Equal(t, records.ID(3), *res.LOBID)
	require.Nil(t, res.CarrierID)
}

func TestAssemble_InclusionRules(t *testing.T) {
	rows := testNormalizer().NormalizeAll([]Row{
		{FieldFirstName: "Ann", FieldEmail: "a@x.com", FieldPhone: "555", FieldPolicyNumber: "P1", FieldPremiumAmount: "100", FieldAgent: "Bob"},
		{FieldFirstName: "Ann", FieldEmail: "a@x.com", FieldPhone: "555", FieldPolicyNumber: "  ", FieldAgent: "Bob"},
		{FieldFirstName: "Zed", FieldEmail: "z@x.com", FieldPhone: "1", FieldPolicyNumber: "P3"},
		{FieldPolicyNumber: "P4"},
	})

	out := Assemble(rows, testLookup())
	require.Len(t, out.Policies, 1)
	require.Equal(t, 1, out.MissingNumber)
	require.Equal(t, 2, out.Unresolved)
	require.Equal(t, 3, out.Skipped())

	p := out.Policies[0]
	require.Equal(t, "P1", p.Number)
	require.Equal(t, records.ID(7), p.SubjectID)
	require.Equal(t, records.ID(1), *p.AgentID)
	require.Nil(t, p.AccountID)
	require.True(t, decimal.NewFromInt(100).Equal(p.Premium))
}
