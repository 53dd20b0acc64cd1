package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"codearena/internal/common/cache"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	"codearena/internal/judge/lang"
	"codearena/internal/judge/model"
	appErr "codearena/pkg/errors"
)

func pending(id string) *model.Submission {
	return &model.Submission{
		ID:          id,
		ChallengeID: "two-sum",
		UserID:      "u1",
		SourceCode:  "def twoSum(nums, target): pass",
		Language:    lang.Python,
		Status:      model.StatusPending,
		SubmittedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
}

// exerciseStore runs the lifecycle contract every SubmissionStore must meet.
func exerciseStore(t *testing.T, store SubmissionStore) {
	t.Helper()
	ctx := context.Background()
	if err := store.Create(ctx, pending("s1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, pending("s1")); !appErr.Is(err, appErr.Conflict) {
		t.Fatalf("expected Conflict on duplicate, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}

	ok, err := store.MarkRunning(ctx, "s1", time.Now())
	if err != nil || !ok {
		t.Fatalf("expected first MarkRunning to win, got %v %v", ok, err)
	}
	if ok, _ := store.MarkRunning(ctx, "s1", time.Now()); ok {
		t.Fatalf("expected second MarkRunning to lose")
	}
	if _, err := store.MarkRunning(ctx, "missing", time.Now()); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}

	msg := "expected [0,1]"
	final := pending("s1")
	final.Status = model.StatusWrongAnswer
	final.Score = 50
	final.MaxPoints = 100
	final.FinishedAt = time.Date(2026, 2, 3, 4, 5, 9, 0, time.UTC)
	final.Results = []model.TestCaseResult{
		{TestCaseID: "two-sum-1", Passed: true, ActualOutput: "[0,1]", ExecutionTimeMs: 12},
		{TestCaseID: "two-sum-2", ActualOutput: "[1,0]", ErrorMessage: &msg, Hidden: true},
	}
	if ok, err := store.Finish(ctx, final); err != nil || !ok {
		t.Fatalf("expected finish to apply, got %v %v", ok, err)
	}
	again := *final
	again.Status = model.StatusAccepted
	if ok, _ := store.Finish(ctx, &again); ok {
		t.Fatalf("expected terminal submission to stay unchanged")
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusWrongAnswer || got.Score != 50 || len(got.Results) != 2 {
		t.Fatalf("unexpected stored submission %+v", got)
	}
	if got.Results[1].ErrorMessage == nil || *got.Results[1].ErrorMessage != msg || !got.Results[1].Hidden {
		t.Fatalf("unexpected stored result %+v", got.Results[1])
	}

	later, earlier := pending("s2"), pending("s3")
	later.SubmittedAt = later.SubmittedAt.Add(time.Minute)
	for _, sub := range []*model.Submission{later, earlier} {
		if err := store.Create(ctx, sub); err != nil {
			t.Fatalf("create %s: %v", sub.ID, err)
		}
	}
	if ok, err := store.MarkRunning(ctx, "s2", time.Now()); err != nil || !ok {
		t.Fatalf("mark s2 running: %v %v", ok, err)
	}
	open, err := store.ListUnfinished(ctx)
	if err != nil {
		t.Fatalf("list unfinished: %v", err)
	}
	if len(open) != 2 || open[0].ID != "s3" || open[1].ID != "s2" {
		t.Fatalf("expected [s3 s2], got %d entries", len(open))
	}
	if open[0].Status != model.StatusPending || open[1].Status != model.StatusRunning || open[1].StartedAt.IsZero() {
		t.Fatalf("unexpected unfinished states %s %s", open[0].Status, open[1].Status)
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, pending("s1"))
	got, _ := store.Get(ctx, "s1")
	got.Status = model.StatusAccepted
	again, _ := store.Get(ctx, "s1")
	if again.Status != model.StatusPending {
		t.Fatalf("expected store to be isolated from caller mutation")
	}
}

// fakeConn interprets the handful of statements MySQLStore issues.
type fakeConn struct {
	sqlx.SqlConn
	mu   sync.Mutex
	rows map[string]submissionRow
}

type fakeResult struct{ n int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, nil }

func (c *fakeConn) ExecCtx(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case strings.HasPrefix(query, "CREATE TABLE"):
		return fakeResult{}, nil
	case strings.HasPrefix(query, "INSERT"):
		id := args[0].(string)
		if _, ok := c.rows[id]; ok {
			return nil, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '" + id + "' for key 'submissions.PRIMARY'"}
		}
		c.rows[id] = submissionRow{
			ID: id, ChallengeID: args[1].(string), CompetitionID: args[2].(string), UserID: args[3].(string),
			SourceCode: args[4].(string), Language: args[5].(string), Status: args[6].(string),
			Results: sql.NullString{String: args[7].(string), Valid: true}, Score: int64(args[8].(int)),
			MaxPoints: int64(args[9].(int)), ErrorKind: args[10].(string), ErrorMessage: args[11].(sql.NullString),
			SubmittedAt: args[12].(time.Time), StartedAt: args[13].(sql.NullTime), FinishedAt: args[14].(sql.NullTime),
		}
		return fakeResult{n: 1}, nil
	case strings.Contains(query, "`started_at` = ?"):
		id := args[2].(string)
		row, ok := c.rows[id]
		if !ok || row.Status != args[3].(string) {
			return fakeResult{}, nil
		}
		row.Status = args[0].(string)
		row.StartedAt = sql.NullTime{Time: args[1].(time.Time), Valid: true}
		c.rows[id] = row
		return fakeResult{n: 1}, nil
	case strings.Contains(query, "`results` = ?"):
		id := args[7].(string)
		row, ok := c.rows[id]
		if !ok || (row.Status != args[8].(string) && row.Status != args[9].(string)) {
			return fakeResult{}, nil
		}
		row.Status = args[0].(string)
		row.Results = sql.NullString{String: args[1].(string), Valid: true}
		row.Score = int64(args[2].(int))
		row.MaxPoints = int64(args[3].(int))
		row.ErrorKind = args[4].(string)
		row.ErrorMessage = args[5].(sql.NullString)
		row.FinishedAt = args[6].(sql.NullTime)
		c.rows[id] = row
		return fakeResult{n: 1}, nil
	}
	return nil, sql.ErrConnDone
}

func (c *fakeConn) QueryRowCtx(ctx context.Context, v any, query string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[args[0].(string)]
	if !ok {
		return sqlx.ErrNotFound
	}
	*v.(*submissionRow) = row
	return nil
}

func (c *fakeConn) QueryRowsCtx(ctx context.Context, v any, query string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*submissionRow
	for _, row := range c.rows {
		if row.Status == args[0].(string) || row.Status == args[1].(string) {
			r := row
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	*v.(*[]*submissionRow) = out
	return nil
}

func TestMySQLStoreLifecycle(t *testing.T) {
	t.Parallel()
	store := NewMySQLStore(&fakeConn{rows: make(map[string]submissionRow)})
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	exerciseStore(t, store)
}

func TestMySQLStoreNullColumns(t *testing.T) {
	t.Parallel()
	sub, err := fromRow(&submissionRow{ID: "s", Status: "pending", Language: "go"})
	if err != nil {
		t.Fatalf("fromRow: %v", err)
	}
	if !sub.StartedAt.IsZero() || sub.Results != nil || sub.Language != lang.Go {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if _, err := fromRow(&submissionRow{Results: sql.NullString{String: "{", Valid: true}}); err == nil {
		t.Fatalf("expected corrupt results to fail")
	}
}

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	return c, mr
}

func TestStatusRepository(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t)
	repo := NewStatusRepository(c, time.Minute)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "s1"); !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("expected NotFound miss, got %v", err)
	}
	sub := pending("s1")
	sub.Status = model.StatusRunning
	if err := repo.Save(ctx, sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.Get(ctx, "s1")
	if err != nil || got.Status != model.StatusRunning || got.SourceCode != sub.SourceCode {
		t.Fatalf("unexpected cached status %+v %v", got, err)
	}
	if ttl := mr.TTL(statusKeyPrefix + "s1"); ttl != time.Minute {
		t.Fatalf("expected ttl applied, got %v", ttl)
	}
	var nilRepo *StatusRepository
	if err := nilRepo.Save(ctx, sub); !appErr.Is(err, appErr.CacheError) {
		t.Fatalf("expected CacheError from unconfigured repository, got %v", err)
	}
}

func TestIdempotencyGuard(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t)
	guard := NewIdempotencyGuard(c, time.Minute)
	ctx := context.Background()
	key := IntakeKey{UserID: "u1", ChallengeID: "two-sum", Language: lang.Python, SourceCode: "pass"}

	id, fresh, err := guard.Claim(ctx, key, "first")
	if err != nil || !fresh || id != "first" {
		t.Fatalf("expected fresh claim, got %q %v %v", id, fresh, err)
	}
	id, fresh, _ = guard.Claim(ctx, key, "second")
	if fresh || id != "first" {
		t.Fatalf("expected duplicate to return first id, got %q %v", id, fresh)
	}

	other := key
	other.CompetitionID = "c1"
	if _, fresh, _ := guard.Claim(ctx, other, "third"); !fresh {
		t.Fatalf("expected different competition to be a new submission")
	}

	mr.FastForward(2 * time.Minute)
	if _, fresh, _ := guard.Claim(ctx, key, "fourth"); !fresh {
		t.Fatalf("expected claim to expire")
	}
	if err := guard.Release(ctx, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, fresh, _ := guard.Claim(ctx, key, "fifth"); !fresh {
		t.Fatalf("expected released key to be claimable")
	}

	if id, fresh, err := NewIdempotencyGuard(nil, time.Minute).Claim(ctx, key, "x"); err != nil || !fresh || id != "x" {
		t.Fatalf("expected disabled guard to pass through")
	}
}

func TestIntakeKeyDigestBoundaries(t *testing.T) {
	t.Parallel()
	a := IntakeKey{UserID: "ab", ChallengeID: "c"}
	b := IntakeKey{UserID: "a", ChallengeID: "bc"}
	if a.Digest() == b.Digest() {
		t.Fatalf("expected shifted field boundaries to hash differently")
	}
	if a.Digest() != a.Digest() || len(a.Digest()) != 64 {
		t.Fatalf("expected stable 256-bit hex digest")
	}
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryObjects) EnsureBucket(ctx context.Context, bucket string) error { return nil }

func (m *memoryObjects) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	m.types[bucket+"/"+key] = contentType
	return nil
}

func (m *memoryObjects) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) StatObject(ctx context.Context, bucket, key string) (storage.ObjectStat, error) {
	return storage.ObjectStat{}, nil
}

func (m *memoryObjects) RemoveObject(ctx context.Context, bucket, key string) error { return nil }

func TestArchiveStoreRoundTrip(t *testing.T) {
	t.Parallel()
	objects := newMemoryObjects()
	archive := NewArchiveStore(objects, "verdicts")
	ctx := context.Background()
	sub := pending("s9")
	sub.Status = model.StatusAccepted
	sub.SourceCode = strings.Repeat("x = 1\n", 500)

	if err := archive.Put(ctx, sub); err != nil {
		t.Fatalf("put: %v", err)
	}
	key := ObjectKey(sub)
	if key != "submissions/2026/02/s9.json.zst" {
		t.Fatalf("unexpected key %s", key)
	}
	stored := objects.objects["verdicts/"+key]
	if len(stored) == 0 || len(stored) >= len(sub.SourceCode) {
		t.Fatalf("expected compressed object, got %d bytes", len(stored))
	}
	if objects.types["verdicts/"+key] != archiveContentType {
		t.Fatalf("unexpected content type %q", objects.types["verdicts/"+key])
	}
	got, err := archive.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SourceCode != sub.SourceCode || got.Status != model.StatusAccepted {
		t.Fatalf("archive changed the submission")
	}
	if _, err := archive.Get(ctx, "submissions/2026/02/none.json.zst"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestMQStatusEventPublisher(t *testing.T) {
	t.Parallel()
	queue := mq.NewMemoryQueue()
	ctx := context.Background()
	var got []*mq.Message
	_ = queue.Subscribe(ctx, "judge.verdicts", func(ctx context.Context, m *mq.Message) error {
		got = append(got, m)
		return nil
	})
	sub := pending("s1")
	sub.Status = model.StatusAccepted
	sub.Score = 100
	sub.Results = []model.TestCaseResult{{Passed: true}, {Passed: true}}

	if err := NewMQStatusEventPublisher(queue, "judge.verdicts").PublishFinalStatus(ctx, sub); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s1" {
		t.Fatalf("expected one message keyed by submission, got %+v", got)
	}
	var event VerdictEvent
	if err := json.Unmarshal(got[0].Body, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Status != model.StatusAccepted || event.Passed != 2 || event.Total != 2 || event.Score != 100 {
		t.Fatalf("unexpected event %+v", event)
	}
	if bytes.Contains(got[0].Body, []byte("twoSum")) {
		t.Fatalf("source code must not be published")
	}
	if err := NewMQStatusEventPublisher(queue, "").PublishFinalStatus(ctx, sub); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected InvalidParams for missing topic, got %v", err)
	}
}
