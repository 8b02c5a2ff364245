package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/sessionctl/internal/bus/membus"
	"github.com/danmuck/sessionctl/internal/clock"
	"github.com/danmuck/sessionctl/internal/registry"
	"github.com/danmuck/sessionctl/internal/session"
	"github.com/danmuck/sessionctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

type harness struct {
	hub   *membus.Hub
	clock *clock.Fake
	reg   *registry.Registry
	srv   *Server
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &harness{hub: membus.NewHub(), clock: clock.NewFake(time.Unix(1700000000, 0))}
	for _, u := range []string{"alice", "bob"} {
		if err := h.hub.AddUser(u); err != nil {
			t.Fatalf("add user: %v", err)
		}
	}
	h.reg = h.newRegistry(t, "SSH", session.TypeManagerConsole)
	srv, err := New(h.reg, Options{Addr: "127.0.0.1:0", Token: token})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	h.srv = srv
	return h
}

func (h *harness) newRegistry(t *testing.T, slug string, typ session.Type) *registry.Registry {
	t.Helper()
	conn := h.hub.Connect()
	r, err := registry.New(registry.DefaultConfig(slug, typ), registry.Deps{
		Publisher: conn, Mapper: conn, Properties: conn, Caller: conn, Clock: h.clock,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func (h *harness) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "s3cret")

	rec := h.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status=%d", rec.Code)
	}
	var health map[string]any
	decode(t, rec, &health)
	if health["status"] != "ok" || health["service"] != "SSH" {
		t.Fatalf("unexpected health: %v", health)
	}

	if rec := h.do(t, http.MethodGet, "/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("ready status=%d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "sessionctl_") {
		t.Fatalf("metrics status=%d", rec.Code)
	}
}

func TestTokenGuardsSessionRoutes(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "s3cret")

	if rec := h.do(t, http.MethodGet, "/sessions", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status=%d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/sessions", "", "Authorization", "Bearer nope"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status=%d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/sessions", "", "Authorization", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("good token status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestListAndGetSessions(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")
	ctx := context.Background()
	local, err := h.reg.Create(ctx, "alice", "10.0.0.5", nil)
	if err != nil {
		t.Fatalf("create local: %v", err)
	}
	peer := h.newRegistry(t, "Redfish", session.TypeRedfish)
	remote, err := peer.Create(ctx, "bob", "10.0.0.9", nil)
	if err != nil {
		t.Fatalf("create remote: %v", err)
	}

	rec := h.do(t, http.MethodGet, "/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status=%d body=%s", rec.Code, rec.Body.String())
	}
	var list struct {
		Sessions []session.Info `json:"sessions"`
	}
	decode(t, rec, &list)
	if len(list.Sessions) != 2 {
		t.Fatalf("sessions=%+v", list.Sessions)
	}
	seen := map[session.ID]bool{}
	for _, info := range list.Sessions {
		seen[info.ID] = info.Local
	}
	if isLocal, ok := seen[local]; !ok || !isLocal {
		t.Fatalf("local session missing or not local: %+v", list.Sessions)
	}
	if isLocal, ok := seen[remote]; !ok || isLocal {
		t.Fatalf("remote session missing or marked local: %+v", list.Sessions)
	}

	rec = h.do(t, http.MethodGet, "/sessions/"+remote.Hex(), "")
	var info session.Info
	decode(t, rec, &info)
	if rec.Code != http.StatusOK || info.Owner != "bob" || info.Type != session.TypeRedfish {
		t.Fatalf("remote info status=%d info=%+v", rec.Code, info)
	}

	if rec := h.do(t, http.MethodGet, "/sessions/zz", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id status=%d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/sessions/00000000000000ff", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status=%d", rec.Code)
	}
}

func TestListMapperFailure(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")
	h.hub.FailMapper(errors.New("mapper down"))
	if rec := h.do(t, http.MethodGet, "/sessions", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")
	ctx := context.Background()
	cleaned := 0
	id, err := h.reg.Create(ctx, "alice", "10.0.0.5", func(session.ID) bool { cleaned++; return true })
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if rec := h.do(t, http.MethodDelete, "/sessions/"+id.Hex()+"?cleanup=maybe", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad flag status=%d", rec.Code)
	}
	if rec := h.do(t, http.MethodDelete, "/sessions/"+id.Hex()+"?cleanup=false", ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", rec.Code, rec.Body.String())
	}
	if cleaned != 0 {
		t.Fatalf("cleanup ran despite cleanup=false")
	}
	if h.reg.Len() != 0 {
		t.Fatalf("session still registered")
	}
	if rec := h.do(t, http.MethodDelete, "/sessions/"+id.Hex()+"?local=true", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rec.Code)
	}
}

func TestCloseSessionsSelectors(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")
	ctx := context.Background()
	for _, owner := range []string{"alice", "alice", "bob"} {
		if _, err := h.reg.Create(ctx, owner, "10.0.0.5", nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	for _, body := range []string{`{}`, `{"owner":"alice","all":true}`, `not json`} {
		if rec := h.do(t, http.MethodPost, "/sessions/close", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s status=%d", body, rec.Code)
		}
	}
	if rec := h.do(t, http.MethodPost, "/sessions/close", `{"type":"Telnet"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown type status=%d", rec.Code)
	}

	var out struct {
		Removed int `json:"removed"`
	}
	rec := h.do(t, http.MethodPost, "/sessions/close", `{"owner":"alice"}`)
	decode(t, rec, &out)
	if rec.Code != http.StatusOK || out.Removed != 2 {
		t.Fatalf("close by owner status=%d removed=%d", rec.Code, out.Removed)
	}
	rec = h.do(t, http.MethodPost, "/sessions/close", `{"type":"ManagerConsole"}`)
	decode(t, rec, &out)
	if rec.Code != http.StatusOK || out.Removed != 1 {
		t.Fatalf("close by type status=%d removed=%d", rec.Code, out.Removed)
	}
	rec = h.do(t, http.MethodPost, "/sessions/close", `{"all":true}`)
	decode(t, rec, &out)
	if rec.Code != http.StatusOK || out.Removed != 0 {
		t.Fatalf("close all status=%d removed=%d", rec.Code, out.Removed)
	}
}

func TestTransactionRoutes(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")

	var status TransactionStatus
	decode(t, h.do(t, http.MethodGet, "/transaction", ""), &status)
	if status.Pending {
		t.Fatalf("unexpected pending transaction")
	}

	id, err := h.reg.StartTransaction(context.Background(), nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	decode(t, h.do(t, http.MethodGet, "/transaction", ""), &status)
	if !status.Pending || status.ID != id.Hex() || status.Deadline == nil {
		t.Fatalf("unexpected status: %+v", status)
	}
	if want := h.clock.Now().Add(registry.DefaultTransactionTimeout); !status.Deadline.Equal(want) {
		t.Fatalf("deadline=%v want %v", status.Deadline, want)
	}

	status = TransactionStatus{}
	decode(t, h.do(t, http.MethodPost, "/transaction/reset", ""), &status)
	if status.Pending || h.reg.IsTransactionPending() {
		t.Fatalf("reset left a pending transaction")
	}
}

func TestStatusFor(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrInvalidArgument, http.StatusBadRequest},
		{session.ErrFormat, http.StatusBadRequest},
		{session.ErrNotFound, http.StatusNotFound},
		{registry.ErrRegistryClosed, http.StatusServiceUnavailable},
		{session.ErrTransactionLocked, http.StatusConflict},
		{session.ErrInternalFailure, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v)=%d want %d", tc.err, got, tc.want)
		}
	}
}
