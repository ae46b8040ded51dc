package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tally/internal/api/handlers"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/ledger"
	"github.com/wonny/tally/internal/publication"
	"github.com/wonny/tally/internal/tally"
	"github.com/wonny/tally/internal/testutil"
	"github.com/wonny/tally/internal/visibility"
	"github.com/wonny/tally/pkg/redis"
)

type testServer struct {
	handler http.Handler
	feed    *handlers.FeedHub
}

func newTestServer(t *testing.T, publicLimit int) *testServer {
	t.Helper()

	log := testutil.Logger(&bytes.Buffer{})
	holder := testutil.Holder(t)
	store := ledger.NewMemoryStore()

	feed := handlers.NewFeedHub(log)
	gate := publication.NewGate(publication.NewMemoryFlagStore(), publication.GateModeEnforce, log, feed)

	svc := tally.NewService(tally.Deps{
		Catalog:  holder,
		Ledger:   store,
		Importer: ledger.NewImporter(store, holder, log),
		Scoper:   visibility.NewScoper(log),
		Gate:     gate,
		Logger:   log,
	})

	h := Handlers{
		Results:     handlers.NewResultsHandler(svc, log),
		Publication: handlers.NewPublicationHandler(svc, log),
		Cells:       handlers.NewCellHandler(svc, log),
		Catalog:     handlers.NewCatalogHandler(svc, log),
		Feed:        feed,
	}
	limiter := NewPublicLimiter(redis.NewRateLimiter(redis.Disabled(), "tally"), publicLimit, time.Minute, log)

	return &testServer{handler: NewRouter(h, limiter, log), feed: feed}
}

func (s *testServer) do(t *testing.T, method, path string, id *contracts.Identity, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if id != nil {
		req.Header.Set(handlers.HeaderUser, id.UserID)
		req.Header.Set(handlers.HeaderRole, string(id.Role))
		req.Header.Set(handlers.HeaderDepartments, strings.Join(id.Departments, ","))
		req.Header.Set(handlers.HeaderCells, strings.Join(id.Cells, ","))
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}

func importBody(voters int64) map[string]interface{} {
	return map[string]interface{}{
		"source": "cel.xlsx",
		"rows": []map[string]interface{}{{
			"registered_men": 50, "registered_women": 50, "registered": 100,
			"voters_men": voters / 2, "voters_women": voters - voters/2, "voters": voters,
			"expressed": voters, "scores": []int64{voters},
		}},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)
	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tally-api")
}

func TestStaffEndpointsRequireIdentity(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/api/results?scope=001", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bogus := contracts.Identity{Role: "mayor"}
	rec = s.do(t, http.MethodGet, "/api/results?scope=001", &bogus, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestImportPublishAndRead(t *testing.T) {
	s := newTestServer(t, 0)
	admin := testutil.Admin

	rec := s.do(t, http.MethodPost, "/api/cells/C1/import", &admin, importBody(60))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt contracts.ImportReceipt
	decode(t, rec, &receipt)
	assert.Equal(t, contracts.CellImported, receipt.Status)

	// public readers wait for publication
	rec = s.do(t, http.MethodGet, "/api/public/results?scope=001-01-001", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending tally.Response
	decode(t, rec, &pending)
	assert.Equal(t, tally.StatusPendingPublication, pending.Status)
	assert.Nil(t, pending.Result)

	// admins bypass the gate
	rec = s.do(t, http.MethodGet, "/api/results?scope=001-01-001", &admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var full tally.Response
	decode(t, rec, &full)
	assert.Equal(t, tally.StatusOK, full.Status)
	assert.Equal(t, int64(60), full.Result.Totals.Voters)

	rec = s.do(t, http.MethodPost, "/api/publication/publish", &admin, map[string]string{"scope": "001"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/public/results?scope=001-01-001", nil, nil)
	var published tally.Response
	decode(t, rec, &published)
	assert.Equal(t, tally.StatusOK, published.Status)
	assert.Equal(t, 60.0, published.Result.Rates.Turnout)

	rec = s.do(t, http.MethodGet, "/api/publication", &admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"enforce"`)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, 0)
	admin := testutil.Admin
	user := testutil.UserWith([]string{"001"}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		id     *contracts.Identity
		body   interface{}
		status int
	}{
		{"unknown scope", http.MethodGet, "/api/results?scope=009", &admin, nil, http.StatusNotFound},
		{"malformed scope", http.MethodGet, "/api/results?scope=001--01", &admin, nil, http.StatusBadRequest},
		{"too many segments", http.MethodGet, "/api/results?scope=1-2-3-4-5", &admin, nil, http.StatusBadRequest},
		{"malformed resolve", http.MethodGet, "/api/catalog/resolve?scope=001-", &admin, nil, http.StatusBadRequest},
		{"outside assignment", http.MethodGet, "/api/results?scope=002", &user, nil, http.StatusForbidden},
		{"ambiguous local code", http.MethodGet, "/api/results/local/commune/001", &admin, nil, http.StatusConflict},
		{"unknown level", http.MethodGet, "/api/results/local/village/001", &admin, nil, http.StatusBadRequest},
		{"user cannot publish", http.MethodPost, "/api/publication/publish", &user, map[string]string{"scope": "001"}, http.StatusForbidden},
		{"inconsistent import", http.MethodPost, "/api/cells/C1/import", &admin, importBody(160), http.StatusUnprocessableEntity},
		{"withdraw pending", http.MethodPost, "/api/cells/C2/withdraw", &admin, nil, http.StatusConflict},
		{"unknown cell", http.MethodGet, "/api/cells/C99", &admin, nil, http.StatusNotFound},
		{"bad body", http.MethodPost, "/api/publication/publish", &admin, "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.id, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAmbiguousResponseListsMatches(t *testing.T) {
	s := newTestServer(t, 0)
	admin := testutil.Admin

	rec := s.do(t, http.MethodGet, "/api/results/local/commune/001", &admin, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var body handlers.ErrorResponse
	decode(t, rec, &body)
	require.Len(t, body.Matches, 3)
	assert.Equal(t, testutil.KeyAbobo, body.Matches[0].Key)
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t, 0)
	user := testutil.UserWith(nil, []string{testutil.CellSongon})

	rec := s.do(t, http.MethodGet, "/api/catalog/resolve?level=commune&code=001&within=001", &user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res handlers.ResolveResponse
	decode(t, rec, &res)
	assert.Equal(t, "ambiguous", res.Kind)
	assert.Len(t, res.Matches, 2)

	rec = s.do(t, http.MethodGet, "/api/catalog/resolve?scope=001-02-001", &user, nil)
	decode(t, rec, &res)
	assert.Equal(t, "resolved", res.Kind)

	rec = s.do(t, http.MethodGet, "/api/catalog/units/001", &user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view tally.UnitView
	decode(t, rec, &view)
	require.Len(t, view.Children, 1)
	assert.Equal(t, "001-02", view.Children[0].Key)

	rec = s.do(t, http.MethodGet, "/api/catalog/units/002", &user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/catalog/units", &user, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/catalog/candidates", &user, nil)
	assert.Contains(t, rec.Body.String(), "KOFFI Jean")
}

func TestPublicRateLimit(t *testing.T) {
	s := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodGet, "/api/public/results?scope=001", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/public/results?scope=001", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestFeedReceivesPublicationEvents(t *testing.T) {
	s := newTestServer(t, 0)
	server := httptest.NewServer(s.handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/public/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.feed.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.feed.Notify(context.Background(), publication.Event{
		Type:  publication.EventPublished,
		Unit:  contracts.UnitRef{Level: contracts.LevelDepartment, Key: "001"},
		State: contracts.Published,
		Actor: "admin",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev publication.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, publication.EventPublished, ev.Type)
	assert.Equal(t, "001", ev.Unit.Key)
}
