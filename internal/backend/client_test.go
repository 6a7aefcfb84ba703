package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/strideworks/solesync/internal/classify"
	"github.com/strideworks/solesync/internal/queue"
)

func testClient(serverURL string) *Client {
	return New(Config{
		BaseURL:       serverURL,
		DeploymentKey: "test-deployment-key",
		DeviceID:      "device-1",
		CallTimeout:   5 * time.Second,
		TokenTTL:      time.Hour,
	}, nil)
}

func TestCall(t *testing.T) {
	var gotPath, gotAuth, gotIdem, gotDevice string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("X-Idempotency-Key")
		gotDevice = r.Header.Get("X-Device-Id")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	op := &queue.Operation{
		ID:             "op-1",
		Kind:           queue.KindMutation,
		Name:           "shoes:update",
		Args:           json.RawMessage(`{"shoeId":"sh_1"}`),
		IdempotencyKey: "idem-1",
	}

	result, err := client.Call(context.Background(), op)
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	if gotPath != "/api/mutation/shoes:update" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotIdem != "idem-1" {
		t.Errorf("expected idempotency key header, got %q", gotIdem)
	}
	if gotDevice != "device-1" {
		t.Errorf("expected device header, got %q", gotDevice)
	}
	if string(gotBody) != `{"shoeId":"sh_1"}` {
		t.Errorf("unexpected body: %s", gotBody)
	}
	if string(result) != `{"ok":true}` {
		t.Errorf("unexpected result: %s", result)
	}

	// The bearer token must verify against the deployment key.
	deviceID, err := ValidateDeviceToken(strings.TrimPrefix(gotAuth, "Bearer "), []byte("test-deployment-key"))
	if err != nil {
		t.Fatalf("token should validate: %v", err)
	}
	if deviceID != "device-1" {
		t.Errorf("expected device-1 in token, got %s", deviceID)
	}
}

func TestCallActionPath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	op := &queue.Operation{Kind: queue.KindAction, Name: "runs:export"}

	if _, err := client.Call(context.Background(), op); err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotPath != "/api/action/runs:export" {
		t.Errorf("unexpected path: %s", gotPath)
	}
}

func TestCallEmptyArgs(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	if _, err := client.Call(context.Background(), &queue.Operation{Kind: queue.KindMutation, Name: "a"}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotBody != `{}` {
		t.Errorf("expected empty object body, got %q", gotBody)
	}
}

func TestCallServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "write conflict", http.StatusConflict)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Call(context.Background(), &queue.Operation{Kind: queue.KindMutation, Name: "a"})
	if err == nil {
		t.Fatal("expected error on 409")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "write conflict") {
		t.Errorf("error should carry status and body: %v", err)
	}
}

func TestCallTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Call(ctx, &queue.Operation{Kind: queue.KindMutation, Name: "a"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := testClient(server.URL)
	if err := client.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	if gotPath != "/api/ping" {
		t.Errorf("unexpected path: %s", gotPath)
	}
}

func TestCheckUnreachable(t *testing.T) {
	client := testClient("http://127.0.0.1:1")

	if err := client.Check(context.Background()); err == nil {
		t.Fatal("expected error for unreachable backend")
	}
}

func TestCheckServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := testClient(server.URL)
	if err := client.Check(context.Background()); err == nil {
		t.Fatal("expected error on 502 ping")
	}
}

func TestPrioritize(t *testing.T) {
	var gotPath string
	var gotReq struct {
		Operations []classify.OpSummary `json:"operations"`
		Context    classify.UserContext `json:"context"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(classify.RankedIDs{
			Immediate: []string{"op-2"},
			Deferred:  []string{"op-1"},
		})
	}))
	defer server.Close()

	client := testClient(server.URL)
	ops := []classify.OpSummary{
		{ID: "op-1", Kind: queue.KindMutation, Name: "a", Priority: 90},
		{ID: "op-2", Kind: queue.KindMutation, Name: "b", Priority: 10},
	}

	ranked, err := client.Prioritize(context.Background(), ops, classify.UserContext{Route: "/shoes"})
	if err != nil {
		t.Fatalf("prioritize: %v", err)
	}

	if gotPath != "/api/action/sync:prioritize" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if len(gotReq.Operations) != 2 || gotReq.Operations[0].ID != "op-1" {
		t.Errorf("request operations mangled: %+v", gotReq.Operations)
	}
	if gotReq.Context.Route != "/shoes" {
		t.Errorf("request context mangled: %+v", gotReq.Context)
	}
	if len(ranked.Immediate) != 1 || ranked.Immediate[0] != "op-2" {
		t.Errorf("response mangled: %+v", ranked)
	}
}

func TestPrioritizeBadResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	if _, err := client.Prioritize(context.Background(), nil, classify.UserContext{}); err == nil {
		t.Fatal("expected error for malformed response")
	}
}

func TestNoAuthWithoutDeploymentKey(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, DeviceID: "device-1"}, nil)
	if _, err := client.Call(context.Background(), &queue.Operation{Kind: queue.KindMutation, Name: "a"}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("expected no auth header in dev mode, got %q", gotAuth)
	}
}
