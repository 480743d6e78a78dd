package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestServiceSmokeSingleMode(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("operator-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	cfg := fmt.Sprintf(`
[service]
name = "alertdesk"
mode = "single"

[log.console]
enabled = true
level = "error"
format = "line"

[http]
enabled = true
listen = "127.0.0.1:%d"
jwt_secret = "smoke-test-secret"
token_ttl_mins = 60

[[http.users]]
name = "operator1"
password_hash = "%s"
role = "OPERATOR"

[sweep]
interval_sec = 60

[rule.overspeed-burst]
source_type = "OVERSPEEDING"
name = "overspeed burst"
priority = 1

[rule.overspeed-burst.conditions]
escalate_if_count = 3
window_mins = 60
`, port, string(hash))

	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, port)

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200, got %d", resp.StatusCode)
	}

	loginBody := []byte(`{"username":"operator1","password":"operator-pass"}`)
	resp, err = http.Post(baseURL+"/api/auth/login", "application/json", bytes.NewReader(loginBody))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(&login); decodeErr != nil {
		t.Fatalf("decode login: %v", decodeErr)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || login.AccessToken == "" {
		t.Fatalf("expected login 200 with token, got %d", resp.StatusCode)
	}

	createBody := []byte(`{"source_type":"OVERSPEEDING","entity_key":"DRV001","metadata":{"speed":{"t":"n","n":92.4}}}`)
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/alerts", bytes.NewReader(createBody))
	if err != nil {
		t.Fatalf("build create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	var created struct {
		AlertID string `json:"alert_id"`
		Status  string `json:"status"`
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(&created); decodeErr != nil {
		t.Fatalf("decode create: %v", decodeErr)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected create 201, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(created.AlertID, "OSP-") {
		t.Fatalf("unexpected alert id %q", created.AlertID)
	}
	if created.Status != "OPEN" {
		t.Fatalf("expected OPEN alert, got %q", created.Status)
	}

	req, err = http.NewRequest(http.MethodGet, baseURL+"/api/dashboard/summary", nil)
	if err != nil {
		t.Fatalf("build summary request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("summary request: %v", err)
	}
	var summary struct {
		Total int `json:"total"`
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(&summary); decodeErr != nil {
		t.Fatalf("decode summary: %v", decodeErr)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || summary.Total != 1 {
		t.Fatalf("expected summary total 1, got status %d total %d", resp.StatusCode, summary.Total)
	}

	cancel()
	waitServiceStop(t, done)
}
