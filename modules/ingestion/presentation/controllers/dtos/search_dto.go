package dtos

import (
	"strings"

	"github.com/iota-uz/policyhub/pkg/constants"
)

// SearchPoliciesDTO is the query of GET /policy/api/policies/search.
type SearchPoliciesDTO struct {
	Username string `form:"username" validate:"required"`
	// Limit of zero selects the default page size.
	Limit int `form:"limit" validate:"gte=0"`
}

// ListPoliciesDTO is the query of GET /policy/api/policies.
type ListPoliciesDTO struct {
	// Limit of zero selects the default page size.
	Limit int `form:"limit" validate:"gte=0"`
}

func (d *ListPoliciesDTO) Ok() (map[string]string, bool) {
	return validationErrors(constants.Validate.Struct(d))
}

func (d *SearchPoliciesDTO) Ok() (map[string]string, bool) {
	d.Username = strings.TrimSpace(d.Username)
	return validationErrors(constants.Validate.Struct(d))
}
