package database

import (
	"strings"
	"testing"
	"time"
)

func TestConfig_ConnString(t *testing.T) {
	cfg := Config{
		Host:            "db.internal",
		Port:            5433,
		Database:        "facturacion",
		User:            "svc",
		Password:        "secret",
		SSLMode:         "require",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}

	got := cfg.ConnString()
	for _, want := range []string{
		"host=db.internal", "port=5433", "dbname=facturacion", "user=svc", "sslmode=require",
		"pool_max_conns=25", "pool_min_conns=5", "pool_max_conn_lifetime=30m0s",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
}

func TestMigrations_Embedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".sql") {
			t.Errorf("unexpected file %s", e.Name())
		}
	}
}
