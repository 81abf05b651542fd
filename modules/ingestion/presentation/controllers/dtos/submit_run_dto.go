package dtos

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/ingest"
	"github.com/iota-uz/policyhub/pkg/constants"
)

// SubmitRunDTO is the body of POST /ingest/api/runs. Cell values may be any
// JSON scalar; they are flattened to strings before normalization.
type SubmitRunDTO struct {
	Rows []map[string]any `json:"rows" validate:"required,min=1"`
}

// Ok validates the DTO and returns field errors keyed by JSON field name.
func (d *SubmitRunDTO) Ok() (map[string]string, bool) {
	return validationErrors(constants.Validate.Struct(d))
}

func validationErrors(err error) (map[string]string, bool) {
	errs := map[string]string{}
	if err == nil {
		return errs, true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs[""] = err.Error()
		return errs, false
	}
	for _, fe := range verrs {
		errs[fe.Field()] = fe.Translate(constants.Translator)
	}
	return errs, false
}

// Message joins field errors in a stable order for the error envelope.
func Message(errs map[string]string) string {
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, errs[f])
	}
	return strings.Join(msgs, "; ")
}

// ToRows flattens every cell to its string form.
func (d *SubmitRunDTO) ToRows() []ingest.Row {
	rows := make([]ingest.Row, 0, len(d.Rows))
	for _, raw := range d.Rows {
		row := make(ingest.Row, len(raw))
		for k, v := range raw {
			row[k] = cellString(v)
		}
		rows = append(rows, row)
	}
	return rows
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

type SubmitRunResponse struct {
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
}
