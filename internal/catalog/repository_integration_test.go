//go:build integration

package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/camvault/recorder/internal/models"
	"github.com/camvault/recorder/pkg/database"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "recorder",
				"POSTGRES_PASSWORD": "recorder",
				"POSTGRES_DB":       "recorder",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	host, err := pg.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, nat.Port("5432/tcp"))
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://recorder:recorder@%s:%s/recorder?sslmode=disable", host, port.Port())
}

func TestRepository_SegmentLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	dsn := startPostgres(t, ctx)
	pool, err := database.NewPostgresPool(ctx, dsn, database.PoolOptions{MaxConns: 4}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// A second run must be a no-op.
	if err := database.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate again: %v", err)
	}

	repo := NewRepository(pool)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		begin := start.Add(time.Duration(i) * 10 * time.Minute)
		seg := &models.Segment{
			Channel:   2,
			Name:      begin.Format("20060102-150405") + "_2.mkv",
			Path:      "videos/" + begin.Format("20060102-150405") + "_2.mkv",
			StartedAt: begin,
			EndedAt:   begin.Add(10 * time.Minute),
			Bytes:     int64(1000 * (i + 1)),
		}
		if err := repo.Upsert(ctx, seg); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		if seg.Day != "20240301" || seg.ArchiveStatus != models.ArchiveStatusPending {
			t.Fatalf("seg=%+v", seg)
		}
	}

	list, err := repo.ListByDay(ctx, 2, "20240301")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Bytes != 1000 || list[2].Bytes != 3000 {
		t.Fatalf("list=%+v", list)
	}

	first := list[0]
	if err := repo.MarkArchived(ctx, first.ID, "segments/2/20240301/"+first.Name); err != nil {
		t.Fatalf("mark archived: %v", err)
	}
	got, err := repo.GetByName(ctx, 2, first.Name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ArchiveStatus != models.ArchiveStatusArchived || got.S3Key == "" {
		t.Fatalf("got=%+v", got)
	}

	// Re-upserting keeps the archive state.
	first.Bytes = 5
	if err := repo.Upsert(ctx, &first); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if first.ArchiveStatus != models.ArchiveStatusArchived {
		t.Fatalf("archive status reset to %q", first.ArchiveStatus)
	}

	if _, err := repo.GetByName(ctx, 2, "missing.mkv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err=%v", err)
	}
	if _, err := repo.ListByDay(ctx, 2, "2024-03-01"); err == nil {
		t.Fatal("expected invalid day error")
	}
}
