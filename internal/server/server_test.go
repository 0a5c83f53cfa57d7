package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketbot/internal/config"
	"marketbot/internal/db"
	"marketbot/internal/domain"
	"marketbot/internal/engine"
	"marketbot/internal/migrate"
	"marketbot/internal/scheduler"
)

const testSecret = "test-secret"

type fakeJobs struct {
	ran []string
}

func (f *fakeJobs) Status() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Name: "activation", State: scheduler.StateRunning, Runs: 3}}
}

func (f *fakeJobs) RunNow(name string) ([]scheduler.Result, error) {
	if name != "activation" {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrUnknownJob, name)
	}
	f.ran = append(f.ran, name)
	ref := domain.ListingReference{TenantID: "g", RoomID: "r", ItemRef: "i"}
	return []scheduler.Result{scheduler.Transitioned(ref), scheduler.Skipped(ref, "already moved")}, nil
}

type testServer struct {
	URL    string
	client *http.Client
	jobs   *fakeJobs
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Logger = zerolog.Nop()
	jobs := &fakeJobs{}
	handler, err := New(Config{Engine: e, Jobs: jobs, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		jobs:   jobs,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func token(t *testing.T, subject string, roles ...string) map[string]string {
	t.Helper()
	tok, err := MintToken(testSecret, subject, roles, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/jobs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/jobs", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestJobsStatusAndSweep(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/jobs", nil, token(t, "viewer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jobs status %d: %s", res.StatusCode, data)
	}
	var statuses []JobStatusResponse
	if err := json.Unmarshal(data, &statuses); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(statuses) != 1 || statuses[0].State != "running" || statuses[0].Runs != 3 {
		t.Fatalf("unexpected statuses %+v", statuses)
	}

	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/jobs/activation/sweep", nil, token(t, "viewer"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-operator, got %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/jobs/activation/sweep", nil, token(t, "ops", RoleOperator))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sweep status %d: %s", res.StatusCode, data)
	}
	var sweep SweepResponse
	if err := json.Unmarshal(data, &sweep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sweep.Counts["transitioned"] != 1 || sweep.Counts["skipped"] != 1 || len(sweep.Results) != 2 {
		t.Fatalf("unexpected sweep %+v", sweep)
	}
	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/jobs/nope/sweep", nil, token(t, "ops", RoleOperator))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", res.StatusCode)
	}
}

func TestListingLifecycleOverAPI(t *testing.T) {
	srv := newTestServer(t)
	ops := token(t, "ops", RoleOperator)
	body := map[string]any{
		"room_id":     "room-1",
		"item_ref":    "lamp",
		"kind":        "auction",
		"seller_id":   "seller",
		"name":        "Lamp",
		"price_cents": 500,
		"ends_at":     time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/tenants/guild-1/listings", body, ops)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	var created domain.Listing
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Status != domain.StatusActive {
		t.Fatalf("expected active listing, got %s", created.Status)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/tenants/guild-1/listings?status=active", nil, ops)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var listed []domain.Listing
	if err := json.Unmarshal(data, &listed); err != nil || len(listed) != 1 {
		t.Fatalf("expected one listing, got %d (%v)", len(listed), err)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/tenants/guild-1/rooms/room-1/listings/lamp", nil, ops)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/tenants/guild-1/rooms/room-1/listings/missing", nil, ops)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing listing, got %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.client, http.MethodPut, srv.URL+"/v0/tenants/guild-1/managers", map[string]any{"role_ids": []string{"mods"}}, ops)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("managers status %d: %s", res.StatusCode, data)
	}
	var tenant domain.Tenant
	if err := json.Unmarshal(data, &tenant); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(tenant.ManagerRoleIDs) != 1 || tenant.ManagerRoleIDs[0] != "mods" {
		t.Fatalf("unexpected tenant %+v", tenant)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/tenants/guild-1/events", nil, ops)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, data)
	}
	var evts []domain.Event
	if err := json.Unmarshal(data, &evts); err != nil || len(evts) != 2 {
		t.Fatalf("expected two events, got %d (%v)", len(evts), err)
	}
}

func TestDecodeAction(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/actions/decode", map[string]string{"custom_id": "extendAuction:room-1:lamp"}, token(t, "viewer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("decode status %d: %s", res.StatusCode, data)
	}
	var decoded DecodeActionResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Family != "extend" || decoded.Discriminator != "Auction" || len(decoded.Segments) != 2 {
		t.Fatalf("unexpected decode %+v", decoded)
	}
	if decoded.Dialog == nil || decoded.Dialog.Fields[0] != "hours" {
		t.Fatalf("expected extend dialog, got %+v", decoded.Dialog)
	}

	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/actions/decode", map[string]string{"custom_id": "somebodyElse:1"}, token(t, "viewer"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for foreign identifier, got %d", res.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !bytes.Contains(data, []byte("go_goroutines")) {
		t.Fatalf("expected default collectors in metrics output")
	}
}

func TestOpenAPISpecServedConcurrently(t *testing.T) {
	srv := newTestServer(t)
	const n = 8
	bodies := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.client.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				errs[i] = fmt.Errorf("status %d", res.StatusCode)
				return
			}
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[0], bodies[i]) {
			t.Fatalf("request %d got a different spec", i)
		}
	}
	if !bytes.Contains(bodies[0], []byte(`"openapi"`)) {
		t.Fatalf("expected an openapi document, got %s", bodies[0])
	}
}
