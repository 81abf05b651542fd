package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/ingest"
	"github.com/iota-uz/policyhub/modules/ingestion/presentation/controllers/dtos"
	"github.com/iota-uz/policyhub/modules/ingestion/services"
	"github.com/iota-uz/policyhub/pkg/application"
	"github.com/iota-uz/policyhub/pkg/composables"
	"github.com/iota-uz/policyhub/pkg/httpapi"
	"github.com/iota-uz/policyhub/pkg/middleware"
)

const DefaultMaxUploadSize int64 = 32 << 20

const (
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = streamPongWait * 9 / 10
)

// streamMessage is one frame of a run's event stream. The first frame carries
// the snapshot at subscription time, later frames carry events.
type streamMessage struct {
	Type     string             `json:"type"`
	Snapshot *services.Snapshot `json:"snapshot,omitempty"`
	Event    *ingest.Event      `json:"event,omitempty"`
}

type IngestAPIController struct {
	runs          *services.IngestService
	basePath      string
	maxUploadSize int64
	upgrader      websocket.Upgrader
}

func NewIngestAPIController(app application.Application, maxUploadSize int64) application.Controller {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	return &IngestAPIController{
		runs:          app.Service(services.IngestService{}).(*services.IngestService),
		basePath:      "/ingest/api",
		maxUploadSize: maxUploadSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (c *IngestAPIController) Key() string {
	return c.basePath
}

func (c *IngestAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(middleware.TracedMiddleware("ingest"))
	router.HandleFunc("/runs", c.Submit).Methods(http.MethodPost)
	router.HandleFunc("/runs/{id}", c.Status).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/events", c.Events).Methods(http.MethodGet)
}

func (c *IngestAPIController) statusURL(id string) string {
	return c.basePath + "/runs/" + id
}

// Submit starts a run and answers before it finishes. Progress is polled
// through the status URL or streamed from its events endpoint.
func (c *IngestAPIController) Submit(w http.ResponseWriter, r *http.Request) {
	var dto dtos.SubmitRunDTO
	if err := decodeJSON(w, r, c.maxUploadSize, &dto); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if errs, ok := dto.Ok(); !ok {
		httpapi.Fail(w, r, http.StatusUnprocessableEntity, httpapi.CodeValidationFailed, errors.New(dtos.Message(errs)))
		return
	}

	run, err := c.runs.Submit(r.Context(), dto.ToRows())
	switch {
	case errors.Is(err, services.ErrNoRows), errors.Is(err, services.ErrTooManyRows):
		httpapi.Fail(w, r, http.StatusUnprocessableEntity, httpapi.CodeValidationFailed, err)
		return
	case errors.Is(err, services.ErrShuttingDown):
		httpapi.Fail(w, r, http.StatusServiceUnavailable, httpapi.CodeUnavailable, err)
		return
	case err != nil:
		writeStoreError(w, r, err)
		return
	}

	location := c.statusURL(run.ID)
	w.Header().Set("Location", location)
	writeJSON(w, r, http.StatusAccepted, &dtos.SubmitRunResponse{
		RunID:     run.ID,
		StatusURL: location,
	})
}

func (c *IngestAPIController) Status(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	snapshot, err := c.runs.Status(r.Context(), id)
	if errors.Is(err, services.ErrRunNotFound) {
		httpapi.Fail(w, r, http.StatusNotFound, httpapi.CodeNotFound, err)
		return
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snapshot)
}

// Events upgrades to a websocket and streams the run's snapshot followed by
// its live events. The server closes the connection after the terminal event.
func (c *IngestAPIController) Events(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	snapshot, events, stop, err := c.runs.Watch(r.Context(), id)
	if errors.Is(err, services.ErrRunNotFound) {
		httpapi.Fail(w, r, http.StatusNotFound, httpapi.CodeNotFound, err)
		return
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	defer stop()

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		return
	}
	defer conn.Close()

	logger := composables.UseLogger(r.Context())
	if err := streamRun(conn, snapshot, events); err != nil && !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		logger.WithError(err).WithField("run_id", id).Debug("run event stream ended")
	}
}

func streamRun(conn *websocket.Conn, snapshot services.Snapshot, events <-chan ingest.Event) error {
	if err := writeFrame(conn, streamMessage{Type: "snapshot", Snapshot: &snapshot}); err != nil {
		return err
	}

	// Reading is required to process control frames; a read error means the
	// client went away.
	gone := make(chan error, 1)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				gone <- err
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for events != nil {
		select {
		case e, ok := <-events:
			if !ok {
				events = nil
				break
			}
			if err := writeFrame(conn, streamMessage{Type: "event", Event: &e}); err != nil {
				return err
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return err
			}
		case err := <-gone:
			return err
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}

func writeFrame(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}
