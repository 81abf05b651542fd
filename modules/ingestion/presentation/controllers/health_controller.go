package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iota-uz/policyhub/modules/ingestion/services"
	"github.com/iota-uz/policyhub/pkg/application"
	"github.com/iota-uz/policyhub/pkg/composables"
	"github.com/iota-uz/policyhub/pkg/httpapi"
)

type HealthController struct {
	health *services.HealthService
}

func NewHealthController(app application.Application) application.Controller {
	return &HealthController{
		health: app.Service(services.HealthService{}).(*services.HealthService),
	}
}

func (c *HealthController) Key() string {
	return "/health"
}

func (c *HealthController) Register(r *mux.Router) {
	r.HandleFunc("/health", c.Check).Methods(http.MethodGet)
}

func (c *HealthController) Check(w http.ResponseWriter, r *http.Request) {
	if err := c.health.Check(r.Context()); err != nil {
		composables.UseLogger(r.Context()).WithError(err).Warn("health check failed")
		_ = httpapi.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
