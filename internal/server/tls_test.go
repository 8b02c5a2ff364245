package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/sessionctl/internal/testutil/testlog"
	"github.com/danmuck/sessionctl/internal/testutil/tlstest"
)

func serveTLS(t *testing.T, opts Options) string {
	t.Helper()
	h := newHarness(t, "")
	srv, err := New(h.reg, opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("server did not stop")
		}
	})
	return "https://" + ln.Addr().String()
}

func tlsClient(cfg *tls.Config) *http.Client {
	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: cfg},
	}
}

func TestServeTLS(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewCA(t, "sessionctl-test-ca")
	pair := ca.Server(t, "sessiond")
	base := serveTLS(t, Options{TLSCertFile: pair.CertFile, TLSKeyFile: pair.KeyFile})

	resp, err := tlsClient(&tls.Config{RootCAs: ca.Pool()}).Get(base + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	if _, err := tlsClient(&tls.Config{}).Get(base + "/health"); err == nil {
		t.Fatalf("expected untrusted server certificate to fail")
	}
}

func TestServeMutualTLS(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewCA(t, "sessionctl-test-ca")
	pair := ca.Server(t, "sessiond")
	client := ca.Client(t, "operator")
	base := serveTLS(t, Options{
		TLSCertFile:  pair.CertFile,
		TLSKeyFile:   pair.KeyFile,
		ClientCAFile: ca.File,
	})

	ok := tlsClient(&tls.Config{RootCAs: ca.Pool(), Certificates: []tls.Certificate{client.Load(t)}})
	resp, err := ok.Get(base + "/sessions")
	if err != nil {
		t.Fatalf("get sessions: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	if _, err := tlsClient(&tls.Config{RootCAs: ca.Pool()}).Get(base + "/sessions"); err == nil {
		t.Fatalf("expected request without client certificate to fail")
	}

	rogue := tlstest.NewCA(t, "rogue-ca").Client(t, "mallory")
	bad := tlsClient(&tls.Config{RootCAs: ca.Pool(), Certificates: []tls.Certificate{rogue.Load(t)}})
	if _, err := bad.Get(base + "/sessions"); err == nil {
		t.Fatalf("expected foreign client certificate to fail")
	}
}

func TestLoadTLSErrors(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewCA(t, "sessionctl-test-ca")
	pair := ca.Server(t, "sessiond")
	missing := filepath.Join(t.TempDir(), "missing.pem")

	tests := []struct {
		name string
		opts Options
	}{
		{"cert without key", Options{TLSCertFile: pair.CertFile}},
		{"client ca without cert", Options{ClientCAFile: ca.File}},
		{"missing key pair", Options{TLSCertFile: missing, TLSKeyFile: missing}},
		{"missing client ca", Options{TLSCertFile: pair.CertFile, TLSKeyFile: pair.KeyFile, ClientCAFile: missing}},
		{"client ca not pem", Options{TLSCertFile: pair.CertFile, TLSKeyFile: pair.KeyFile, ClientCAFile: pair.KeyFile}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadTLS(tc.opts); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	cfg, err := loadTLS(Options{})
	if err != nil || cfg != nil {
		t.Fatalf("plain http expected, got %v,%v", cfg, err)
	}
}
