package ingest

import "github.com/iota-uz/policyhub/modules/ingestion/domain/records"

// Assembly is the fact set built from a run's rows.
type Assembly struct {
	Policies []records.Policy
	// MissingNumber counts rows without a policy number.
	MissingNumber int
	// Unresolved counts rows whose subject is not in the lookup.
	Unresolved int
}

func (a Assembly) Skipped() int {
	return a.MissingNumber + a.Unresolved
}

// Assemble emits one policy per row that has a policy number and a resolvable
// subject. Input order is kept.
func Assemble(rows []Normalized, lookup *Lookup) Assembly {
	out := Assembly{Policies: make([]records.Policy, 0, len(rows))}
	for _, row := range rows {
		if row.Policy.Number == "" {
			out.MissingNumber++
			continue
		}
		res, ok := lookup.Resolve(row)
		if !ok {
			out.Unresolved++
			continue
		}
		p := row.Policy
		out.Policies = append(out.Policies, records.Policy{
			Number:         p.Number,
			StartDate:      p.StartDate,
			EndDate:        p.EndDate,
			Mode:           p.Mode,
			Type:           p.Type,
			Premium:        p.Premium,
			PremiumWritten: p.PremiumWritten,
			Producer:       p.Producer,
			CSR:            p.CSR,
			Active:         p.Active,
			SubjectID:      res.SubjectID,
			AgentID:        res.AgentID,
			AccountID:      res.AccountID,
			LOBID:          res.LOBID,
			CarrierID:      res.CarrierID,
		})
	}
	return out
}
