package utils

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"boundary-overlay/internal/config"
)

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "certs", "server.crt")
	key := filepath.Join(dir, "certs", "server.key")
	if err := EnsureSelfSignedCert(cert, key, "boundary.local"); err != nil {
		t.Fatalf("EnsureSelfSignedCert() error = %v", err)
	}
	if _, err := tls.LoadX509KeyPair(cert, key); err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
	if err := EnsureSelfSignedCert(cert, key, "other"); err != nil {
		t.Fatalf("second call error = %v", err)
	}
}

func TestOpenDisabled(t *testing.T) {
	if rc := OpenRedis(config.Redis{}); rc != nil {
		t.Error("OpenRedis() without host returned a client")
	}
	db, err := OpenPostgres(config.Postgres{})
	if db != nil || err != nil {
		t.Errorf("OpenPostgres() without host = %v, %v", db, err)
	}
	rc := OpenRedis(config.Redis{Host: "127.0.0.1", DB: 3})
	defer rc.Close()
	if rc.Options().Addr != "127.0.0.1:6379" || rc.Options().DB != 3 {
		t.Errorf("options = %+v", rc.Options())
	}
}
