package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	oauth "github.com/giantswarm/oauth2-engine"
	"github.com/giantswarm/oauth2-engine/internal/config"
	"github.com/giantswarm/oauth2-engine/internal/testutil"
	"github.com/giantswarm/oauth2-engine/security"
)

func executeRootCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeRootCommand(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if stdout != "oauth2d "+version+"\n" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestHashSecretCommand(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{name: "argument", args: []string{"hash-secret", "s3cret"}},
		{name: "stdin", stdin: "s3cret\n", args: []string{"hash-secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := executeRootCommand(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatalf("hash-secret failed: %v", err)
			}
			hash := strings.TrimSpace(stdout)
			if err := security.CompareSecret(hash, "s3cret"); err != nil {
				t.Errorf("printed hash does not match the secret: %v", err)
			}
		})
	}

	if _, _, err := executeRootCommand(t, "", "hash-secret", ""); err == nil {
		t.Error("hash-secret should reject an empty secret")
	}
}

func TestServeCommand_InvalidConfig(t *testing.T) {
	_, _, err := executeRootCommand(t, "", "serve", "--env-file=", "--storage=etcd")
	if err == nil || !strings.Contains(err.Error(), "unknown storage backend") {
		t.Errorf("serve error = %v, want unknown storage backend", err)
	}
}

func loadTestConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	v, err := config.NewViper(flags, "")
	if err != nil {
		t.Fatalf("NewViper() error = %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func writeFixtures(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	content := `
clients:
  - id: worker
    secret: worker-secret
    grants: [client_credentials]
    scope: read write
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func newTestApp(t *testing.T, args ...string) *httptest.Server {
	t.Helper()
	cfg := loadTestConfig(t, args...)
	a, err := newApp(context.Background(), cfg, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(a.Close)

	ts := httptest.NewServer(a.routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestNewApp_StartupErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing fixtures file",
			args:    []string{"--fixtures=" + filepath.Join(t.TempDir(), "missing.yaml")},
			wantErr: "load fixtures",
		},
		{
			name:    "short jwt signing key",
			args:    []string{"--jwt-signing-key=short"},
			wantErr: "invalid jwt-signing-key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadTestConfig(t, tt.args...)
			a, err := newApp(context.Background(), cfg, testutil.DiscardLogger())
			if err == nil {
				a.Close()
				t.Fatal("newApp() should fail")
			}
			if a != nil {
				t.Error("newApp() returned an app along with an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func requestToken(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	form := testutil.Form("grant_type", "client_credentials", "scope", "read")
	req, err := http.NewRequest(http.MethodPost, ts.URL+oauth.TokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", testutil.BasicAuth("worker", "worker-secret"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token status = %d, want 200", resp.StatusCode)
	}

	var body oauth.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	return body.AccessToken
}

func TestApp_TokenRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "opaque tokens", args: nil},
		{name: "jwt tokens with client cache", args: []string{
			"--jwt-signing-key=" + strings.Repeat("k", 32),
			"--client-cache-ttl=1m",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--fixtures=" + writeFixtures(t), "--rate-limit=0"}, tt.args...)
			ts := newTestApp(t, args...)

			accessToken := requestToken(t, ts)

			req, err := http.NewRequest(http.MethodGet, ts.URL+TokenInfoPath, nil)
			if err != nil {
				t.Fatalf("NewRequest() error = %v", err)
			}
			req.Header.Set("Authorization", "Bearer "+accessToken)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("tokeninfo request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("tokeninfo status = %d, want 200", resp.StatusCode)
			}
			if resp.Header.Get("X-Frame-Options") != "DENY" {
				t.Error("security headers missing")
			}
			var info tokenInfo
			if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
				t.Fatalf("failed to decode tokeninfo: %v", err)
			}
			if info.ClientID != "worker" || info.Scope != "read" {
				t.Errorf("tokeninfo = %+v", info)
			}
			if info.ExpiresIn <= 0 || info.ExpiresIn > 3600 {
				t.Errorf("expires_in = %d, want (0, 3600]", info.ExpiresIn)
			}
		})
	}
}

func TestApp_Routes(t *testing.T) {
	ts := newTestApp(t, "--issuer=https://auth.example.com")

	resp, err := http.Get(ts.URL + oauth.MetadataPath)
	if err != nil {
		t.Fatalf("metadata request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metadata status = %d, want 200", resp.StatusCode)
	}
	var meta oauth.AuthorizationServerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}
	if meta.TokenEndpoint != "https://auth.example.com"+oauth.TokenPath {
		t.Errorf("token_endpoint = %q", meta.TokenEndpoint)
	}

	resp, err = http.Get(ts.URL + TokenInfoPath)
	if err != nil {
		t.Fatalf("tokeninfo request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("tokeninfo without token status = %d, want 400", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("WWW-Authenticate"), "Bearer ") {
		t.Errorf("WWW-Authenticate = %q", resp.Header.Get("WWW-Authenticate"))
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}
