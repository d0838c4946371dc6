package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/migrate"
)

// 需要一个可写的 PostgreSQL：PG_TEST_DSN=postgres://postgres@localhost:5432/boundaries_test?sslmode=disable
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE _boundaries`); err != nil {
		t.Fatal(err)
	}
	return AttachDB(db)
}

func TestUpsertAndFind(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	b := geo.Boundary{
		Name:     "Kampala",
		Geometry: geo.Geometry{Type: "Polygon", Coordinates: json.RawMessage(`[[[32.5,0.2],[32.7,0.2],[32.7,0.4],[32.5,0.2]]]`)},
		Center:   geo.Point{Lat: 0.31, Lon: 32.58},
	}
	if err := s.Upsert(ctx, "Uganda", "Kampala", b); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	b.Name = "Kampala Capital City"
	if err := s.Upsert(ctx, "uganda", "KAMPALA", b); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count() = %d, %v", n, err)
	}
	r, err := s.Find(ctx, " Uganda ", "kampala")
	if err != nil || r == nil {
		t.Fatalf("Find() = %v, %v", r, err)
	}
	if r.Boundary.Name != "Kampala Capital City" || r.Boundary.Center != b.Center {
		t.Errorf("record = %+v", r.Boundary)
	}
	if err := r.Boundary.Geometry.Validate(); err != nil {
		t.Errorf("stored geometry invalid: %v", err)
	}
	if r, err := s.Find(ctx, "Uganda", ""); err != nil || r != nil {
		t.Errorf("Find(country level) = %v, %v, want miss", r, err)
	}
}

func TestUpsertRejectsBadInput(t *testing.T) {
	s := &Store{}
	ctx := context.Background()
	if err := s.Upsert(ctx, " ", "", geo.Boundary{}); err == nil {
		t.Error("empty country accepted")
	}
	bad := geo.Boundary{Geometry: geo.Geometry{Type: "Point", Coordinates: json.RawMessage(`[1,2]`)}}
	if err := s.Upsert(ctx, "Uganda", "", bad); err == nil {
		t.Error("point geometry accepted")
	}
}
