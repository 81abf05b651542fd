package application

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type stubService struct{ name string }

type stubController struct{ key string }

func (c *stubController) Register(*mux.Router) {}

func (c *stubController) Key() string { return c.key }

func TestApplication_ServiceRegistry(t *testing.T) {
	app := New(&ApplicationOptions{Logger: logrus.New()})
	svc := &stubService{name: "ingest"}
	app.RegisterServices(svc)

	got := app.Service(stubService{}).(*stubService)
	require.Same(t, svc, got)
	require.Len(t, app.Services(), 1)

	require.Panics(t, func() { app.Service(stubController{}) })
}

func TestApplication_ControllersSortedAndDeduplicated(t *testing.T) {
	app := New(&ApplicationOptions{})
	app.RegisterControllers(&stubController{key: "/policy"}, &stubController{key: "/ingest"})
	app.RegisterControllers(&stubController{key: "/ingest"})

	ctrls := app.Controllers()
	require.Len(t, ctrls, 2)
	require.Equal(t, "/ingest", ctrls[0].Key())
	require.Equal(t, "/policy", ctrls[1].Key())
	require.NotNil(t, app.EventPublisher())
	require.NotNil(t, app.Logger())
}

func TestMigrationManager_RequiresPool(t *testing.T) {
	app := New(&ApplicationOptions{})
	app.Migrations().RegisterSchema("ingestion", fstest.MapFS{})

	require.ErrorIs(t, app.Migrations().Run(context.Background()), ErrNoDatabase)
	_, err := app.Migrations().Versions(context.Background())
	require.ErrorIs(t, err, ErrNoDatabase)
	require.Equal(t, "goose_ingestion_version", versionTable("ingestion"))
}
