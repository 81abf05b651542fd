package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iota-uz/policyhub/modules/ingestion/presentation/controllers/dtos"
	"github.com/iota-uz/policyhub/modules/ingestion/services"
	"github.com/iota-uz/policyhub/pkg/application"
	"github.com/iota-uz/policyhub/pkg/composables"
	"github.com/iota-uz/policyhub/pkg/httpapi"
	"github.com/iota-uz/policyhub/pkg/middleware"
)

type PolicyAPIController struct {
	policies *services.PolicyQueryService
	basePath string
}

func NewPolicyAPIController(app application.Application) application.Controller {
	return &PolicyAPIController{
		policies: app.Service(services.PolicyQueryService{}).(*services.PolicyQueryService),
		basePath: "/policy/api",
	}
}

func (c *PolicyAPIController) Key() string {
	return c.basePath
}

func (c *PolicyAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(middleware.TracedMiddleware("policy"))
	router.HandleFunc("/policies", c.List).Methods(http.MethodGet)
	router.HandleFunc("/policies/search", c.Search).Methods(http.MethodGet)
	router.HandleFunc("/policies/aggregate", c.Aggregate).Methods(http.MethodGet)
}

func (c *PolicyAPIController) Search(w http.ResponseWriter, r *http.Request) {
	dto, err := composables.UseQuery(&dtos.SearchPoliciesDTO{}, r)
	if err != nil {
		httpapi.Fail(w, r, http.StatusBadRequest, httpapi.CodeInvalidRequest, fmt.Errorf("invalid query: %w", err))
		return
	}
	if errs, ok := dto.Ok(); !ok {
		httpapi.Fail(w, r, http.StatusBadRequest, httpapi.CodeInvalidRequest, errors.New(dtos.Message(errs)))
		return
	}

	views, err := c.policies.SearchBySubjectName(r.Context(), dto.Username, dto.Limit)
	if errors.Is(err, services.ErrEmptySearch) {
		httpapi.Fail(w, r, http.StatusBadRequest, httpapi.CodeInvalidRequest, err)
		return
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"items": dtos.PolicyViewsToResponse(views),
	})
}

func (c *PolicyAPIController) List(w http.ResponseWriter, r *http.Request) {
	dto, err := composables.UseQuery(&dtos.ListPoliciesDTO{}, r)
	if err != nil {
		httpapi.Fail(w, r, http.StatusBadRequest, httpapi.CodeInvalidRequest, fmt.Errorf("invalid query: %w", err))
		return
	}
	if errs, ok := dto.Ok(); !ok {
		httpapi.Fail(w, r, http.StatusBadRequest, httpapi.CodeInvalidRequest, errors.New(dtos.Message(errs)))
		return
	}

	views, err := c.policies.ListPolicies(r.Context(), dto.Limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"items": dtos.PolicyViewsToResponse(views),
	})
}

func (c *PolicyAPIController) Aggregate(w http.ResponseWriter, r *http.Request) {
	groups, err := c.policies.AggregateBySubject(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"items": dtos.AggregatesToResponse(groups),
	})
}
