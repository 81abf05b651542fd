// Package ingest holds the pure parts of the bulk ingestion pipeline: row
// normalization, deduplication, identity resolution, fact assembly and the
// progress event contract.
package ingest

import "strings"

// Row is one flat record produced by the upload parser.
type Row map[string]string

const (
	FieldAgent                = "agent"
	FieldAgencyID             = "agency_id"
	FieldAccountName          = "account_name"
	FieldAccountType          = "account_type"
	FieldCategoryName         = "category_name"
	FieldCompanyName          = "company_name"
	FieldFirstName            = "firstname"
	FieldDOB                  = "dob"
	FieldAddress              = "address"
	FieldPhone                = "phone"
	FieldState                = "state"
	FieldZip                  = "zip"
	FieldEmail                = "email"
	FieldGender               = "gender"
	FieldCity                 = "city"
	FieldUserType             = "userType"
	FieldPolicyNumber         = "policy_number"
	FieldPolicyStartDate      = "policy_start_date"
	FieldPolicyEndDate        = "policy_end_date"
	FieldPolicyMode           = "policy_mode"
	FieldPolicyType           = "policy_type"
	FieldPremiumAmount        = "premium_amount"
	FieldPremiumAmountWritten = "premium_amount_written"
	FieldProducer             = "producer"
	FieldCSR                  = "csr"
	FieldActiveClientPolicy   = "hasActiveClientPolicy"

	// legacyActiveClientPolicy is the header spelling used by older exports.
	legacyActiveClientPolicy = "hasActive ClientPolicy"
)

// Get returns the trimmed value of the first present field among names.
func (r Row) Get(names ...string) string {
	for _, name := range names {
		if v, ok := r[name]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
