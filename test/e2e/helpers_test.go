//go:build e2e

package e2e

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/registry"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
	"github.com/ogulcanaydogan/milestone-attestation/internal/config"
	policyyaml "github.com/ogulcanaydogan/milestone-attestation/internal/policy/yaml"
	"github.com/ogulcanaydogan/milestone-attestation/internal/server"
	"github.com/ogulcanaydogan/milestone-attestation/internal/sign"
	"github.com/ogulcanaydogan/milestone-attestation/internal/store"
)

const issuedAt = 1767225600

// verifierService starts the attestation API over a local journal in dir
// and returns its base URL and key.
func verifierService(t *testing.T, dir string) (string, *sign.KeyManager) {
	t.Helper()
	km, err := sign.NewKeyManager(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	if err != nil {
		t.Fatal(err)
	}
	svc, err := attest.NewService(km, attest.Options{
		Now: func() time.Time { return time.Unix(issuedAt, 0) },
	})
	if err != nil {
		t.Fatal(err)
	}
	journal, err := store.OpenLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := server.New(config.Default(), svc, journal, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, km
}

func startRegistry(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", url, err)
		}
	}
	return resp.StatusCode
}

func releasePolicy(t *testing.T, pubHex string, appID uint64) policyyaml.Policy {
	t.Helper()
	doc := fmt.Sprintf(`version: "1"
trusted_keys:
  - name: milestone-verifier
    public_key: %s
    app_ids: [%d]
require_status: PASS
max_age_seconds: 3600
`, pubHex, appID)
	p, err := policyyaml.ParsePolicy([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	return p
}
