package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient_SetsTimeoutAndTransport(t *testing.T) {
	client := NewOutboundGuard().NewClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected a guarded transport")
	}
}

// httptestサーバーは127.0.0.1で起動するため、保護されたクライアントからは接続できない。
func TestNewClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	if _, err := NewOutboundGuard().NewClient(time.Second).Get(ts.URL); err == nil {
		t.Fatal("expected loopback request to be blocked")
	}
}

func TestValidateEndpoint(t *testing.T) {
	guard := NewOutboundGuard()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://ndlsearch.ndl.go.jp/api/opensearch", false},
		{"http://catalog.example.org/search", false},
		{"", true},
		{"ftp://example.com/", true},
		{"file:///etc/passwd", true},
		{"https:///path", true},
		{"http://localhost:8080/", true},
		{"http://127.0.0.1/", true},
		{"http://10.0.0.5/", true},
		{"http://192.168.1.1/", true},
		{"http://169.254.169.254/latest/meta-data", true},
		{"http://[::1]/", true},
		{"http://0.0.0.0/", true},
		{"http://8.8.8.8/", false},
		{"://bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := guard.ValidateEndpoint(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEndpoint(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
