package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
	"github.com/ogulcanaydogan/milestone-attestation/internal/config"
	"github.com/ogulcanaydogan/milestone-attestation/internal/sign"
	"github.com/ogulcanaydogan/milestone-attestation/internal/store"
	"github.com/ogulcanaydogan/milestone-attestation/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t testing.TB, km *sign.KeyManager) *attest.Service {
	t.Helper()
	svc, err := attest.NewService(km, attest.Options{
		Now: func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func seededKey(t testing.TB) *sign.KeyManager {
	t.Helper()
	km, err := sign.NewKeyManager(bytes.Repeat([]byte{1}, ed25519.SeedSize))
	if err != nil {
		t.Fatal(err)
	}
	return km
}

func newTestServer(t *testing.T, journal store.Journal) (*Server, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.MaxBodyBytes = 4096
	srv, err := New(cfg, newService(t, seededKey(t)), journal, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return srv, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const scenarioBody = `{"app_id":1234,"milestone_index":0,"status":"PASS","milestone_hash":"QmHash123","proof_hash":"QmProof456","timestamp":1234567890}`

func TestCreateAttestation(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodPost, "/v1/attestations", scenarioBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	var att attest.Attestation
	if err := json.Unmarshal(rec.Body.Bytes(), &att); err != nil {
		t.Fatal(err)
	}
	if att.Message != "app:1234|ms:0|status:PASS|ts:1234567890|hash:QmHash123|proof:QmProof456" {
		t.Errorf("message = %q", att.Message)
	}
	if len(att.VerifierPubKey) != 64 || len(att.Signature) != 128 {
		t.Errorf("pubkey/signature lengths = %d/%d", len(att.VerifierPubKey), len(att.Signature))
	}
	if !att.Verify() {
		t.Error("issued attestation does not verify")
	}
}

func TestCreateAttestationDefaultsTimestampAndProof(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodPost, "/v1/attestations", `{"app_id":1,"milestone_index":2,"status":"PENDING","milestone_hash":"abc"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var att attest.Attestation
	json.Unmarshal(rec.Body.Bytes(), &att)
	if att.Timestamp != 1700000000 {
		t.Errorf("timestamp = %d", att.Timestamp)
	}
	if !strings.HasSuffix(att.Message, "|proof:") {
		t.Errorf("message = %q", att.Message)
	}
}

func TestCreateAttestationValidation(t *testing.T) {
	_, h := newTestServer(t, nil)
	cases := map[string]string{
		"bad status":       `{"app_id":1,"milestone_index":0,"status":"MAYBE","milestone_hash":"a"}`,
		"zero app":         `{"app_id":0,"milestone_index":0,"status":"PASS","milestone_hash":"a"}`,
		"negative index":   `{"app_id":1,"milestone_index":-3,"status":"PASS","milestone_hash":"a"}`,
		"missing hash":     `{"app_id":1,"milestone_index":0,"status":"PASS"}`,
		"delimiter":        `{"app_id":1,"milestone_index":0,"status":"PASS","milestone_hash":"a|ms:9"}`,
		"not json":         `{"app_id":`,
		"empty":            ``,
		"huge app id":      `{"app_id":99999999999999999999999,"milestone_index":0,"status":"PASS","milestone_hash":"a"}`,
		"string app id":    `{"app_id":"1","milestone_index":0,"status":"PASS","milestone_hash":"a"}`,
		"negative ts":      `{"app_id":1,"milestone_index":0,"status":"PASS","milestone_hash":"a","timestamp":-5}`,
		"metadata non-obj": `{"app_id":1,"milestone_index":0,"status":"PASS","milestone_hash":"a","metadata":[1]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/attestations", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
			var resp types.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Error == "" || resp.RequestID == "" {
				t.Errorf("unstructured error: %+v", resp)
			}
		})
	}
}

func TestCreateAttestationBodyLimit(t *testing.T) {
	_, h := newTestServer(t, nil)
	body := `{"app_id":1,"milestone_index":0,"status":"PASS","milestone_hash":"a","metadata":{"pad":"` + strings.Repeat("x", 5000) + `"}}`
	rec := do(t, h, http.MethodPost, "/v1/attestations", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateAttestationWithoutKey(t *testing.T) {
	var km *sign.KeyManager
	srv, err := New(config.Default(), newService(t, km), nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/attestations", scenarioBody)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodPost, "/v1/attestations", scenarioBody)
	var att attest.Attestation
	json.Unmarshal(rec.Body.Bytes(), &att)

	verify := func(msg, sig, pub string) types.VerifyResponse {
		t.Helper()
		body, _ := json.Marshal(types.VerifyRequest{Message: msg, Signature: sig, PublicKey: pub})
		rec := do(t, h, http.MethodPost, "/v1/verify", string(body))
		if rec.Code != http.StatusOK {
			t.Fatalf("verify status = %d, body = %s", rec.Code, rec.Body)
		}
		var resp types.VerifyResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		return resp
	}

	ok := verify(att.Message, att.Signature, att.VerifierPubKey)
	if !ok.Valid {
		t.Fatal("valid triple rejected")
	}
	if ok.Message != att.Message || ok.Signature != att.Signature || ok.PublicKey != att.VerifierPubKey {
		t.Errorf("response does not echo request: %+v", ok)
	}

	failMsg := strings.Replace(att.Message, "status:PASS", "status:FAIL", 1)
	bad := []struct{ msg, sig, pub string }{
		{failMsg, att.Signature, att.VerifierPubKey},
		{att.Message, "zz" + att.Signature[2:], att.VerifierPubKey},
		{att.Message, att.Signature, "not-hex"},
		{att.Message, "", ""},
		{att.Message, att.Signature[:64], att.VerifierPubKey},
		{att.Message, att.Signature, strings.Repeat("00", 32)},
	}
	for _, b := range bad {
		if verify(b.msg, b.sig, b.pub).Valid {
			t.Errorf("verify(%q, %q, %q) = true", b.msg, b.sig, b.pub)
		}
	}
}

func TestVerifyEndpointRejectsMissingFields(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodPost, "/v1/verify", `{"message":"m"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPublicKeyEndpoint(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/v1/public-key", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp types.PublicKeyResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Algorithm != "Ed25519" {
		t.Errorf("algorithm = %q", resp.Algorithm)
	}
	if resp.PublicKey != seededKey(t).PublicKeyHex() {
		t.Errorf("public key = %q", resp.PublicKey)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodDelete, "/v1/public-key", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	_, h := newTestServer(t, nil)
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}

	km, err := sign.GenerateKeyManager()
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(config.Default(), newService(t, km), nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	eh := srv.Handler()
	if rec := do(t, eh, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("ephemeral healthz = %d", rec.Code)
	}
	if rec := do(t, eh, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ephemeral readyz = %d, want 503", rec.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	_, h := newTestServer(t, nil)
	id := "0b6b1a52-8d5f-4b9a-9f0e-3c1f2d7e4a11"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != id {
		t.Errorf("request id = %q, want %q", got, id)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "<script>")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got == "<script>" || got == "" {
		t.Errorf("untrusted request id echoed: %q", got)
	}
}

func TestJournalRecordsAndLists(t *testing.T) {
	j, err := store.OpenSQLite(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	_, h := newTestServer(t, j)

	body := `{"app_id":77,"milestone_index":1,"status":"PASS","milestone_hash":"abc","metadata":{"title":"Pier 4 foundations"}}`
	rec := do(t, h, http.MethodPost, "/v1/attestations", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var created struct {
		RecordID string `json:"record_id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)
	if !strings.HasPrefix(created.RecordID, "sha256:") {
		t.Fatalf("record_id = %q", created.RecordID)
	}

	rec = do(t, h, http.MethodGet, "/v1/attestations?app_id=77", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed struct {
		Records []store.Record `json:"records"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listed)
	if len(listed.Records) != 1 || listed.Records[0].ID != created.RecordID {
		t.Fatalf("listed = %+v", listed)
	}
	if !strings.Contains(string(listed.Records[0].Metadata), "Pier 4 foundations") {
		t.Errorf("metadata = %s", listed.Records[0].Metadata)
	}

	if rec := do(t, h, http.MethodGet, "/v1/attestations?app_id=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad app_id status = %d", rec.Code)
	}
}

func TestListWithoutJournal(t *testing.T) {
	_, h := newTestServer(t, nil)
	if rec := do(t, h, http.MethodGet, "/v1/attestations?app_id=1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

type failingJournal struct{}

func (failingJournal) Append(context.Context, store.Record) error { return fmt.Errorf("disk full") }
func (failingJournal) List(context.Context, uint64) ([]store.Record, error) {
	return nil, fmt.Errorf("disk full")
}
func (failingJournal) Close() error { return nil }

func TestJournalFailureIsReported(t *testing.T) {
	_, h := newTestServer(t, failingJournal{})
	rec := do(t, h, http.MethodPost, "/v1/attestations", scenarioBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "disk full") {
		t.Error("internal error detail leaked to client")
	}
	if rec := do(t, h, http.MethodGet, "/v1/attestations?app_id=1", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("list status = %d", rec.Code)
	}
}

func TestServeAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/v1/public-key"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewRequiresService(t *testing.T) {
	if _, err := New(config.Default(), nil, nil, nil); err == nil {
		t.Fatal("expected error without service")
	}
}
