package server_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/formsync/internal/collab"
	"github.com/Tyrowin/formsync/internal/form"
	"github.com/Tyrowin/formsync/internal/metrics"
	"github.com/Tyrowin/formsync/internal/room"
	"github.com/Tyrowin/formsync/internal/server"
	"github.com/Tyrowin/formsync/internal/store"
	"github.com/Tyrowin/formsync/internal/testhelpers"
)

// testEnv is a running server backed by a temporary SQLite database that
// holds one form with a text, a number, and a dropdown field.
type testEnv struct {
	srv     *server.Server
	ts      *httptest.Server
	store   *store.SQLite
	rooms   *room.Registry
	metrics *metrics.Metrics
	token   string
	formID  string
	fields  map[string]string
}

func newTestEnv(t *testing.T, customize func(cfg *server.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := server.NewConfig()
	cfg.Server.AllowedOrigins = []string{testhelpers.TestOrigin}
	if customize != nil {
		customize(cfg)
	}

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "forms.db"), 4, nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	created, err := st.CreateForm(ctx, form.Definition{
		Name: "Survey",
		Fields: []form.FieldDefinition{
			{Type: form.TypeText, Label: "Name", Order: 0},
			{Type: form.TypeNumber, Label: "Age", Order: 1},
			{Type: form.TypeDropdown, Label: "Color", Options: []string{"red", "blue"}, Order: 2},
		},
	})
	if err != nil {
		t.Fatalf("Failed to create form: %v", err)
	}
	f, err := st.GetForm(ctx, created.ShareToken)
	if err != nil {
		t.Fatalf("Failed to read form: %v", err)
	}
	fields := make(map[string]string, len(f.Fields))
	for _, fld := range f.Fields {
		fields[fld.Label] = fld.ID
	}

	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)
	rooms := room.NewRegistry(room.WithObserver(m))
	svc := collab.NewService(st, rooms,
		collab.WithMetrics(m),
		collab.WithTerminateOnError(cfg.Sync.TerminateOnError),
		collab.WithUnknownUserLabel(cfg.Sync.UnknownUserLabel),
	)

	srv := server.New(server.Deps{
		Config:   cfg,
		Sync:     svc,
		Forms:    st,
		Metrics:  m,
		Gatherer: reg,
	})
	srv.StartHub()
	ts := testhelpers.CreateTestServer(t, srv.SetupRoutes())
	t.Cleanup(func() { _ = srv.Hub().Shutdown(2 * time.Second) })

	return &testEnv{
		srv:     srv,
		ts:      ts,
		store:   st,
		rooms:   rooms,
		metrics: m,
		token:   created.ShareToken,
		formID:  created.ID,
		fields:  fields,
	}
}

// connect dials the form's room and joins it as username, consuming the
// join echo.
func (e *testEnv) connect(t *testing.T, username string) *websocket.Conn {
	t.Helper()
	conn := testhelpers.MustConnect(t, e.ts.URL, e.token)
	testhelpers.SendJoin(t, conn, username)
	testhelpers.ExpectMessage(t, conn, "user_joined", map[string]string{"username": username})
	return conn
}

func (e *testEnv) response(t *testing.T) map[string]any {
	t.Helper()
	f, err := e.store.GetForm(context.Background(), e.token)
	if err != nil {
		t.Fatalf("Failed to read form: %v", err)
	}
	return f.Response
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
