package ingest

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"02-Jan-2006",
}

// PolicyFields are the normalized scalars of a fact record.
type PolicyFields struct {
	Number         string
	StartDate      time.Time
	EndDate        time.Time
	Mode           int
	Type           string
	Premium        decimal.Decimal
	PremiumWritten decimal.Decimal
	Producer       string
	CSR            string
	Active         bool
}

// Normalized is the typed projection of one row. A nil projection means the
// row carried a blank key for that kind.
type Normalized struct {
	Agent   *records.Agent
	Account *records.Account
	LOB     *records.LineOfBusiness
	Carrier *records.Carrier
	Subject *records.Subject
	Policy  PolicyFields
}

// SubjectKey is the lookup key of the row's subject, derived even when the row
// has no subject projection so that resolution can report a miss.
func (n Normalized) SubjectKey() records.SubjectKey {
	if n.Subject == nil {
		return records.SubjectKey{}
	}
	return n.Subject.Key()
}

type Normalizer struct {
	Now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{Now: time.Now}
}

func (n *Normalizer) now() time.Time {
	if n == nil || n.Now == nil {
		return time.Now().UTC()
	}
	return n.Now().UTC()
}

// Normalize never fails: malformed values degrade to the kind's default.
func (n *Normalizer) Normalize(row Row) Normalized {
	now := n.now()
	out := Normalized{}

	if name := row.Get(FieldAgent); name != "" {
		out.Agent = &records.Agent{Name: name, AgencyID: row.Get(FieldAgencyID)}
	}
	if name := row.Get(FieldAccountName); name != "" {
		out.Account = &records.Account{Name: name, Type: row.Get(FieldAccountType)}
	}
	if name := row.Get(FieldCategoryName); name != "" {
		out.LOB = &records.LineOfBusiness{CategoryName: name}
	}
	if name := row.Get(FieldCompanyName); name != "" {
		out.Carrier = &records.Carrier{CompanyName: name}
	}
	if first := row.Get(FieldFirstName); first != "" {
		out.Subject = &records.Subject{
			FirstName:   first,
			DOB:         parseDate(row.Get(FieldDOB), now),
			Address:     row.Get(FieldAddress),
			Phone:       row.Get(FieldPhone),
			State:       row.Get(FieldState),
			Zip:         row.Get(FieldZip),
			Email:       strings.ToLower(row.Get(FieldEmail)),
			Gender:      row.Get(FieldGender),
			City:        row.Get(FieldCity),
			SubjectType: row.Get(FieldUserType),
		}
	}

	out.Policy = PolicyFields{
		Number:         row.Get(FieldPolicyNumber),
		StartDate:      parseDate(row.Get(FieldPolicyStartDate), now),
		EndDate:        parseDate(row.Get(FieldPolicyEndDate), now),
		Mode:           parseInt(row.Get(FieldPolicyMode)),
		Type:           row.Get(FieldPolicyType),
		Premium:        parseDecimal(row.Get(FieldPremiumAmount)),
		PremiumWritten: parseDecimal(row.Get(FieldPremiumAmountWritten)),
		Producer:       row.Get(FieldProducer),
		CSR:            row.Get(FieldCSR),
		Active:         row.Get(FieldActiveClientPolicy, legacyActiveClientPolicy) == "true",
	}
	return out
}

// NormalizeAll keeps the input order.
func (n *Normalizer) NormalizeAll(rows []Row) []Normalized {
	out := make([]Normalized, 0, len(rows))
	for _, row := range rows {
		out = append(out, n.Normalize(row))
	}
	return out
}

func parseDate(v string, fallback time.Time) time.Time {
	if v == "" {
		return fallback
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func parseInt(v string) int {
	if v == "" {
		return 0
	}
	// Integers are bounded to the int32 column they are stored in.
	i, err := strconv.ParseInt(v, 10, 32)
	if err == nil {
		return int(i)
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0
	}
	f, fErr := strconv.ParseFloat(v, 64)
	if fErr != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0
	}
	return int(f)
}

func parseDecimal(v string) decimal.Decimal {
	v = strings.NewReplacer("$", "", ",", "", " ", "").Replace(v)
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}
