package migrate

import (
	"testing"

	"marketbot/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if v, err := Current(conn); err != nil || v != 0 {
		t.Fatalf("fresh db version = %d, %v", v, err)
	}
	for i := 0; i < 2; i++ {
		if err := Migrate(conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	latest, err := Latest()
	if err != nil {
		t.Fatal(err)
	}
	v, err := Current(conn)
	if err != nil || v != latest {
		t.Fatalf("version = %d (%v), want %d", v, err, latest)
	}
	if _, err := conn.Exec(`SELECT tenant_id, room_id, item_ref FROM listings LIMIT 1`); err != nil {
		t.Fatalf("listings table missing: %v", err)
	}
}
