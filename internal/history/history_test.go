package history

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordStartAndFinish(t *testing.T) {
	db := openTestDB(t)

	id, err := db.RecordStart("/movies/one.mkv", "cpu", 1024)
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero entry id")
	}

	err = db.RecordFinish(id, FinishOptions{
		OutputPath:  "/movies/one.h264.mkv",
		Status:      StatusDone,
		EncodeTimeS: 12.5,
		OutputSize:  512,
		DurationMs:  60000,
	})
	if err != nil {
		t.Fatalf("RecordFinish: %v", err)
	}

	entries, err := db.GetRecent(10)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Status != StatusDone || entries[0].OutputSize != 512 {
		t.Errorf("got %+v", entries[0])
	}
}

func TestRecordSkip(t *testing.T) {
	db := openTestDB(t)

	if err := db.RecordSkip("/movies/bad.mkv", "not a real mkv", "cpu"); err != nil {
		t.Fatalf("RecordSkip: %v", err)
	}

	entries, err := db.GetRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != StatusSkipped || entries[0].ErrorMsg != "not a real mkv" {
		t.Fatalf("got %+v", entries)
	}
}

func TestGetStatsAggregates(t *testing.T) {
	db := openTestDB(t)

	id1, _ := db.RecordStart("/a.mkv", "cpu", 1000)
	_ = db.RecordFinish(id1, FinishOptions{Status: StatusDone, EncodeTimeS: 10, OutputSize: 500})

	id2, _ := db.RecordStart("/b.mkv", "cpu", 2000)
	_ = db.RecordFinish(id2, FinishOptions{Status: StatusDone, EncodeTimeS: 20, OutputSize: 1000})

	_ = db.RecordSkip("/c.mkv", "too small", "cpu")

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.ByStatus[StatusDone] != 2 || stats.ByStatus[StatusSkipped] != 1 {
		t.Errorf("by_status = %+v", stats.ByStatus)
	}
	if stats.AvgEncodeTimeS != 15 {
		t.Errorf("avg encode time = %v, want 15", stats.AvgEncodeTimeS)
	}
	if stats.TotalInputSize != 3000 || stats.TotalOutputSize != 1500 {
		t.Errorf("sizes = %d/%d, want 3000/1500", stats.TotalInputSize, stats.TotalOutputSize)
	}
}

func TestOpenRecoversInterruptedRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.RecordStart("/crashed.mkv", "cpu", 1024); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	db.Close() // simulate a crash: the row is left in "running"

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	entries, err := db2.GetRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != StatusInterrupted {
		t.Fatalf("got %+v, want status interrupted", entries)
	}
}
