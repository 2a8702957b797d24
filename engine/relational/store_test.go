package relational

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "floatchat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func startBatch(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.CreateBatch(context.Background(), domain.Batch{
		ID:        id,
		Status:    domain.BatchLoading,
		StartedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("create batch %s: %v", id, err)
	}
}

func bengalRecords(batchID string) []domain.ProfileRecord {
	return []domain.ProfileRecord{
		{
			FloatID: "2902746", Cycle: 12,
			Time:     time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
			Latitude: 12.5, Longitude: 88.2,
			Levels: []domain.Level{
				{Pressure: 2.1, Temperature: 28.4, Salinity: 33.1},
				{Pressure: 200, Temperature: 14.3, Salinity: 34.9},
			},
			SourceFile: "R2902746_012.nc", BatchID: batchID,
		},
		{
			FloatID: "5906042", Cycle: 3,
			Time:     time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			Latitude: -2.0, Longitude: 67.5,
			Levels:     []domain.Level{{Pressure: 5, Temperature: 29.1, Salinity: 34.8}},
			SourceFile: "R5906042_003.nc", BatchID: batchID,
		},
	}
}

func TestStagedRowsInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	startBatch(t, s, "b1")

	if err := s.StageProfiles(ctx, "b1", bengalRecords("b1")); err != nil {
		t.Fatalf("stage: %v", err)
	}

	rs, err := s.Query(ctx, "SELECT COUNT(*) FROM argo_measurements")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if n := rs.Rows[0][0].(int64); n != 0 {
		t.Fatalf("staged rows leaked into read view: count = %d", n)
	}

	if err := s.SetBatchStatus(ctx, "b1", domain.BatchCommitted, ""); err != nil {
		t.Fatalf("commit: %v", err)
	}
	rs, _ = s.Query(ctx, "SELECT COUNT(*) FROM argo_measurements")
	if n := rs.Rows[0][0].(int64); n != 3 {
		t.Fatalf("committed measurement count = %d, want 3", n)
	}
}

func TestTerminalBatchNeverMutates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	startBatch(t, s, "b1")
	if err := s.SetBatchStatus(ctx, "b1", domain.BatchFailed, "fetch error"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := s.SetBatchStatus(ctx, "b1", domain.BatchCommitted, ""); err == nil {
		t.Fatal("terminal batch accepted a status change")
	}
	batches, err := s.Batches(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if batches[0].Status != domain.BatchFailed || batches[0].Detail != "fetch error" {
		t.Fatalf("batch = %+v", batches[0])
	}
}

func TestLatestCommittedBatchWins(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	startBatch(t, s, "b1")
	recs := bengalRecords("b1")[:1]
	if err := s.StageProfiles(ctx, "b1", recs); err != nil {
		t.Fatal(err)
	}
	s.SetBatchStatus(ctx, "b1", domain.BatchCommitted, "")

	// A correction for the same float:cycle arrives in a later batch.
	startBatch(t, s, "b2")
	corrected := recs
	corrected[0].Levels = []domain.Level{{Pressure: 2.1, Temperature: 27.0, Salinity: 33.0}}
	corrected[0].BatchID = "b2"
	if err := s.StageProfiles(ctx, "b2", corrected); err != nil {
		t.Fatal(err)
	}
	s.SetBatchStatus(ctx, "b2", domain.BatchCommitted, "")

	rs, err := s.Query(ctx, "SELECT temp FROM argo_measurements WHERE float_id = '2902746'")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rs.Rows) != 1 {
		t.Fatalf("got %d rows, want 1 (older copy must be superseded)", len(rs.Rows))
	}
	if temp := rs.Rows[0][0].(float64); temp != 27.0 {
		t.Fatalf("temp = %g, want corrected 27.0", temp)
	}
}

func TestDeleteBatchCompensates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	startBatch(t, s, "b1")
	if err := s.StageProfiles(ctx, "b1", bengalRecords("b1")); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFile(ctx, "abc123", "R2902746_012.nc", "b1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteBatch(ctx, "b1"); err != nil {
		t.Fatalf("delete batch: %v", err)
	}
	s.SetBatchStatus(ctx, "b1", domain.BatchFailed, "vector store unavailable")

	rs, _ := s.Query(ctx, "SELECT COUNT(*) FROM argo_measurements")
	if n := rs.Rows[0][0].(int64); n != 0 {
		t.Fatalf("compensated rows survived: count = %d", n)
	}
	ok, err := s.IsIngested(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("checksum from a failed batch counted as ingested")
	}
}

func TestChecksumLedger(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	startBatch(t, s, "b1")
	if err := s.RecordFile(ctx, "abc123", "R2902746_012.nc", "b1"); err != nil {
		t.Fatal(err)
	}

	// Not committed yet, so a crash before commit must not skip the file.
	ok, _ := s.IsIngested(ctx, "abc123")
	if ok {
		t.Fatal("uncommitted checksum counted as ingested")
	}
	s.SetBatchStatus(ctx, "b1", domain.BatchCommitted, "")
	ok, _ = s.IsIngested(ctx, "abc123")
	if !ok {
		t.Fatal("committed checksum not found")
	}
	ok, _ = s.IsIngested(ctx, "different")
	if ok {
		t.Fatal("unknown checksum reported as ingested")
	}
}

func TestIDsInRegion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	startBatch(t, s, "b1")
	if err := s.StageProfiles(ctx, "b1", bengalRecords("b1")); err != nil {
		t.Fatal(err)
	}
	s.SetBatchStatus(ctx, "b1", domain.BatchCommitted, "")

	bengal := domain.NamedRegions["bay of bengal"]
	ids, err := s.IDsInRegion(ctx, bengal)
	if err != nil {
		t.Fatalf("ids in region: %v", err)
	}
	if len(ids) != 1 || ids[0] != "2902746:12" {
		t.Fatalf("ids = %v, want [2902746:12]", ids)
	}

	// A triangle whose bounding box covers the point but whose interior
	// does not: the exact containment check must reject it.
	tri := domain.Region{Name: "triangle", Vertices: []domain.Point{
		{Lat: 20, Lon: 80}, {Lat: 20, Lon: 95}, {Lat: 22, Lon: 80},
	}}
	ids, err = s.IDsInRegion(ctx, tri)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("bbox-only match leaked through polygon filter: %v", ids)
	}
}

func TestProfileAndTrajectory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	startBatch(t, s, "b1")
	recs := bengalRecords("b1")
	later := recs[0]
	later.Cycle = 13
	later.Time = later.Time.Add(10 * 24 * time.Hour)
	later.Latitude = 13.1
	recs = append(recs, later)
	if err := s.StageProfiles(ctx, "b1", recs); err != nil {
		t.Fatal(err)
	}
	s.SetBatchStatus(ctx, "b1", domain.BatchCommitted, "")

	p, err := s.Profile(ctx, "2902746:12")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if len(p.Levels) != 2 || p.Levels[0].Pressure != 2.1 {
		t.Fatalf("profile levels = %+v", p.Levels)
	}

	traj, err := s.Trajectory(ctx, "2902746")
	if err != nil {
		t.Fatalf("trajectory: %v", err)
	}
	if len(traj) != 2 {
		t.Fatalf("trajectory has %d points, want 2", len(traj))
	}
	if !traj[0].Time.Before(traj[1].Time) {
		t.Fatal("trajectory not time ordered")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	startBatch(t, s, "b1")
	if err := s.StageProfiles(ctx, "b1", bengalRecords("b1")); err != nil {
		t.Fatal(err)
	}
	s.SetBatchStatus(ctx, "b1", domain.BatchCommitted, "")

	st, err := s.Stats(ctx, domain.NamedRegions["bay of bengal"])
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Points != 2 || st.Floats != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.MinTemp != 14.3 || st.MaxTemp != 28.4 {
		t.Fatalf("temp range = [%g, %g]", st.MinTemp, st.MaxTemp)
	}
}

func TestValidateQuery(t *testing.T) {
	valid := []string{
		"SELECT AVG(temp) FROM argo_measurements WHERE latitude BETWEEN 8 AND 22",
		"select float_id, count(*) from argo_measurements group by float_id order by count(*) desc limit 10",
		"SELECT temp, psal FROM argo_measurements WHERE pres <= 10 AND float_id = '2902746';",
		"SELECT MIN(pres), MAX(pres) FROM argo_measurements",
	}
	for _, q := range valid {
		if err := ValidateQuery(q); err != nil {
			t.Errorf("rejected valid query %q: %v", q, err)
		}
	}

	invalid := []string{
		"",
		"DROP TABLE argo_measurements",
		"DELETE FROM argo_measurements",
		"SELECT * FROM profiles",
		"SELECT temp FROM argo_measurements; DROP TABLE profiles",
		"SELECT temp FROM argo_measurements -- comment",
		"SELECT secret_column FROM argo_measurements",
		"SELECT temp FROM argo_measurements UNION SELECT id FROM batches",
		"PRAGMA table_info(argo_measurements)",
	}
	for _, q := range invalid {
		err := ValidateQuery(q)
		if err == nil {
			t.Errorf("accepted invalid query %q", q)
			continue
		}
		if !errors.Is(err, domain.ErrQueryGeneration) {
			t.Errorf("query %q: error %v does not wrap ErrQueryGeneration", q, err)
		}
	}
}
