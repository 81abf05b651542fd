package records

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type SubjectBrief struct {
	ID        ID
	FirstName string
	Email     string
	Phone     string
}

// PolicyView is a policy joined with the names of everything it references.
type PolicyView struct {
	ID             ID
	Number         string
	Type           string
	StartDate      time.Time
	EndDate        time.Time
	Premium        decimal.Decimal
	PremiumWritten decimal.Decimal
	Active         bool
	Subject        SubjectBrief
	AgentName      string
	AccountName    string
	CategoryName   string
	CompanyName    string
}

type PolicyBrief struct {
	Number    string          `json:"policy_number"`
	Type      string          `json:"policy_type"`
	Premium   decimal.Decimal `json:"premium_amount"`
	StartDate time.Time       `json:"policy_start_date"`
	EndDate   time.Time       `json:"policy_end_date"`
}

// SubjectPolicies aggregates the policies of one subject.
type SubjectPolicies struct {
	Subject       SubjectBrief
	TotalPolicies int
	TotalPremium  decimal.Decimal
	Policies      []PolicyBrief
}

// PolicyQueries is the read side served over the ingested data.
type PolicyQueries interface {
	SearchBySubjectName(ctx context.Context, name string, limit int) ([]PolicyView, error)
	ListPolicies(ctx context.Context, limit int) ([]PolicyView, error)
	AggregateBySubject(ctx context.Context) ([]SubjectPolicies, error)
}
