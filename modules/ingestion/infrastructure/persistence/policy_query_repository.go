package persistence

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
	"github.com/iota-uz/policyhub/pkg/composables"
)

const policyViewsSelect = `
SELECT p.id, p.policy_number, p.policy_type, p.policy_start_date, p.policy_end_date,
       p.premium_amount, p.premium_amount_written, p.has_active_client_policy,
       s.id, s.firstname, s.email, s.phone,
       COALESCE(a.agent_name, ''), COALESCE(ac.account_name, ''),
       COALESCE(l.category_name, ''), COALESCE(c.company_name, '')
FROM policies p
JOIN subjects s ON s.id = p.subject_id
LEFT JOIN agents a ON a.id = p.agent_id
LEFT JOIN accounts ac ON ac.id = p.account_id
LEFT JOIN lobs l ON l.id = p.lob_id
LEFT JOIN carriers c ON c.id = p.carrier_id`

const searchPoliciesQuery = policyViewsSelect + `
WHERE s.firstname ILIKE $1 ESCAPE '\'
ORDER BY p.id
LIMIT $2`

const listPoliciesQuery = policyViewsSelect + `
ORDER BY p.id
LIMIT $1`

const aggregateSubjectsQuery = `
SELECT s.id, s.firstname, s.email, s.phone, COUNT(p.id), COALESCE(SUM(p.premium_amount), 0)
FROM policies p
JOIN subjects s ON s.id = p.subject_id
GROUP BY s.id, s.firstname, s.email, s.phone
ORDER BY COUNT(p.id) DESC, s.id`

const subjectPolicyBriefsQuery = `
SELECT subject_id, policy_number, policy_type, premium_amount, policy_start_date, policy_end_date
FROM policies
ORDER BY subject_id, id`

// PolicyQueryRepository serves the read side from the database in ctx.
type PolicyQueryRepository struct{}

func NewPolicyQueryRepository() records.PolicyQueries {
	return &PolicyQueryRepository{}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *PolicyQueryRepository) SearchBySubjectName(ctx context.Context, name string, limit int) ([]records.PolicyView, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(name)) + "%"
	return queryPolicyViews(ctx, "search policies", searchPoliciesQuery, pattern, limit)
}

func (r *PolicyQueryRepository) ListPolicies(ctx context.Context, limit int) ([]records.PolicyView, error) {
	return queryPolicyViews(ctx, "list policies", listPoliciesQuery, limit)
}

func queryPolicyViews(ctx context.Context, op, query string, args ...any) ([]records.PolicyView, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(classify(op, err), "query")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (records.PolicyView, error) {
		var (
			v                records.PolicyView
			policyID, subjID int64
			premium, written pgtype.Numeric
		)
		err := row.Scan(
			&policyID, &v.Number, &v.Type, &v.StartDate, &v.EndDate,
			&premium, &written, &v.Active,
			&subjID, &v.Subject.FirstName, &v.Subject.Email, &v.Subject.Phone,
			&v.AgentName, &v.AccountName, &v.CategoryName, &v.CompanyName,
		)
		if err != nil {
			return records.PolicyView{}, err
		}
		v.ID = records.ID(policyID)
		v.Subject.ID = records.ID(subjID)
		v.Premium = decimalFromNumeric(premium)
		v.PremiumWritten = decimalFromNumeric(written)
		return v, nil
	})
	if err != nil {
		return nil, errors.Wrap(classify(op, err), "scan")
	}
	return out, nil
}

func (r *PolicyQueryRepository) AggregateBySubject(ctx context.Context) ([]records.SubjectPolicies, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, aggregateSubjectsQuery)
	if err != nil {
		return nil, errors.Wrap(classify("aggregate policies", err), "query")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (records.SubjectPolicies, error) {
		var (
			g     records.SubjectPolicies
			id    int64
			count int64
			total pgtype.Numeric
		)
		if err := row.Scan(&id, &g.Subject.FirstName, &g.Subject.Email, &g.Subject.Phone, &count, &total); err != nil {
			return records.SubjectPolicies{}, err
		}
		g.Subject.ID = records.ID(id)
		g.TotalPolicies = int(count)
		g.TotalPremium = decimalFromNumeric(total)
		return g, nil
	})
	if err != nil {
		return nil, errors.Wrap(classify("aggregate policies", err), "scan")
	}

	index := make(map[records.ID]int, len(out))
	for i, g := range out {
		index[g.Subject.ID] = i
	}

	briefs, err := tx.Query(ctx, subjectPolicyBriefsQuery)
	if err != nil {
		return nil, errors.Wrap(classify("aggregate policies", err), "query briefs")
	}
	defer briefs.Close()
	for briefs.Next() {
		var (
			subjectID int64
			b         records.PolicyBrief
			premium   pgtype.Numeric
		)
		if err := briefs.Scan(&subjectID, &b.Number, &b.Type, &premium, &b.StartDate, &b.EndDate); err != nil {
			return nil, errors.Wrap(err, "scan brief")
		}
		b.Premium = decimalFromNumeric(premium)
		if i, ok := index[records.ID(subjectID)]; ok {
			out[i].Policies = append(out[i].Policies, b)
		}
	}
	if err := briefs.Err(); err != nil {
		return nil, errors.Wrap(classify("aggregate policies", err), "iterate briefs")
	}
	return out, nil
}
