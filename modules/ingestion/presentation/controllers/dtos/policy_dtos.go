package dtos

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
)

type SubjectResponse struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type PolicyResponse struct {
	ID             int64           `json:"id"`
	Number         string          `json:"policy_number"`
	Type           string          `json:"policy_type,omitempty"`
	StartDate      time.Time       `json:"policy_start_date"`
	EndDate        time.Time       `json:"policy_end_date"`
	Premium        decimal.Decimal `json:"premium_amount"`
	PremiumWritten decimal.Decimal `json:"premium_amount_written"`
	Active         bool            `json:"has_active_client_policy"`
	Subject        SubjectResponse `json:"subject"`
	Agent          string          `json:"agent,omitempty"`
	Account        string          `json:"account,omitempty"`
	LineOfBusiness string          `json:"line_of_business,omitempty"`
	Carrier        string          `json:"carrier,omitempty"`
}

type SubjectPoliciesResponse struct {
	Subject       SubjectResponse       `json:"subject"`
	TotalPolicies int                   `json:"total_policies"`
	TotalPremium  decimal.Decimal       `json:"total_premium"`
	Policies      []records.PolicyBrief `json:"policies"`
}

func subjectResponse(s records.SubjectBrief) SubjectResponse {
	return SubjectResponse{ID: int64(s.ID), FirstName: s.FirstName, Email: s.Email, Phone: s.Phone}
}

func PolicyViewsToResponse(views []records.PolicyView) []PolicyResponse {
	out := make([]PolicyResponse, 0, len(views))
	for _, v := range views {
		out = append(out, PolicyResponse{
			ID:             int64(v.ID),
			Number:         v.Number,
			Type:           v.Type,
			StartDate:      v.StartDate,
			EndDate:        v.EndDate,
			Premium:        v.Premium,
			PremiumWritten: v.PremiumWritten,
			Active:         v.Active,
			Subject:        subjectResponse(v.Subject),
			Agent:          v.AgentName,
			Account:        v.AccountName,
			LineOfBusiness: v.CategoryName,
			Carrier:        v.CompanyName,
		})
	}
	return out
}

func AggregatesToResponse(groups []records.SubjectPolicies) []SubjectPoliciesResponse {
	out := make([]SubjectPoliciesResponse, 0, len(groups))
	for _, g := range groups {
		policies := g.Policies
		if policies == nil {
			policies = []records.PolicyBrief{}
		}
		out = append(out, SubjectPoliciesResponse{
			Subject:       subjectResponse(g.Subject),
			TotalPolicies: g.TotalPolicies,
			TotalPremium:  g.TotalPremium,
			Policies:      policies,
		})
	}
	return out
}
