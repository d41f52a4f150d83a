package datalog

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mailmindlin/MOEnet-2024/internal/codec"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datalog.db")
	db, err := Open(path, "test")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestOpen_Migrates(t *testing.T) {
	db, _ := openTestDB(t)
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("got version %d dirty %v, want 1 clean", version, dirty)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}
}

func TestAppendAndRecords(t *testing.T) {
	db, _ := openTestDB(t)
	for i, ts := range []int64{30, 10, 20} {
		if err := db.Append("moenet/client_ping", "int", []byte{byte(i)}, ts); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := db.Append("moenet/other", "raw", nil, 5); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	records, err := db.Records("moenet/client_ping")
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i, want := range []int64{30, 10, 20} {
		r := records[i]
		if r.TsMicros != want || !bytes.Equal(r.Data, []byte{byte(i)}) {
			t.Errorf("record %d = %+v, want ts %d in insertion order", i, r, want)
		}
		if r.Session != db.Session().String() {
			t.Errorf("record %d session = %s, want %s", i, r.Session, db.Session())
		}
	}

	counts, err := db.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if counts["moenet/client_ping"] != 3 || counts["moenet/other"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datalog.db")
	first, err := Open(path, "a")
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Append("e", "raw", []byte{1}, 1); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := Open(path, "b")
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if first.Session() == second.Session() {
		t.Fatal("sessions share an id")
	}
	if err := second.Append("e", "raw", []byte{2}, 2); err != nil {
		t.Fatal(err)
	}

	records, err := second.Records("e")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].Session != first.Session().String() {
		t.Errorf("records = %+v", records)
	}
}

func TestRegisterSchema_Replaces(t *testing.T) {
	db, _ := openTestDB(t)
	if err := db.RegisterSchema("struct:A", codec.SchemaTypeStruct, []byte("double x")); err != nil {
		t.Fatal(err)
	}
	if err := db.RegisterSchema("struct:A", codec.SchemaTypeStruct, []byte("double y")); err != nil {
		t.Fatal(err)
	}
	schemas, err := db.Schemas()
	if err != nil {
		t.Fatal(err)
	}
	if len(schemas) != 1 || string(schemas[0].Data) != "double y" {
		t.Errorf("schemas = %+v", schemas)
	}
}

func TestStructEntry(t *testing.T) {
	db, _ := openTestDB(t)
	e, err := NewStructEntry[geom.Pose3D](db, "moenet/tf_field_odom", codec.Pose3DStruct{})
	if err != nil {
		t.Fatalf("NewStructEntry failed: %v", err)
	}

	poses := []geom.Pose3D{
		geom.IdentityPose,
		{Translation: geom.Translation3D{X: 1, Y: -2, Z: 0.5}, Rotation: geom.RotationFromRPY(0.1, 0.2, 0.3)},
	}
	for i, p := range poses {
		if err := e.Append(p, int64(i+1)*1000); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := e.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(got) != 2 || got[1].Value != poses[1] || got[1].TsMicros != 2000 {
		t.Errorf("records = %+v", got)
	}

	schemas, err := db.Schemas()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	want := []string{"struct:Pose3d", "struct:Quaternion", "struct:Rotation3d", "struct:Translation3d"}
	if len(names) != len(want) {
		t.Fatalf("schemas = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("schema %d = %s, want %s", i, names[i], want[i])
		}
	}

	if err := db.Append("moenet/tf_field_odom", "int", []byte{1}, 3000); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Records(); err == nil {
		t.Error("expected an error for a record of another type")
	}
}

func TestServeBackup(t *testing.T) {
	db, _ := openTestDB(t)
	if err := db.Append("e", "raw", []byte("payload"), 1); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	db.serveBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %s", ct)
	}

	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("not gzip: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("SQLite format 3\x00")) {
		t.Errorf("backup is not a SQLite database")
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	db, _ := openTestDB(t)
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}

	ts := httptest.NewServer(mux)
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/debug/backup")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
