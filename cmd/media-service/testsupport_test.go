package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// fakeRedis is an in-memory RedisClient good enough for task-state and
// tracking-list flows.
type fakeRedis struct {
	mu    sync.Mutex
	kv    map[string]string
	lists map[string][]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{kv: make(map[string]string), lists: make(map[string][]string)}
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case string:
		f.kv[key] = v
	case []byte:
		f.kv[key] = string(v)
	default:
		f.kv[key] = fmt.Sprint(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) LRange(_ context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return redis.NewStringSliceResult([]string{}, nil)
	}
	out := append([]string(nil), list[start:stop+1]...)
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		f.lists[key] = nil
	} else {
		f.lists[key] = append([]string(nil), list[start:stop+1]...)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.lists[key] = append(f.lists[key], fmt.Sprint(v))
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) Close() error { return nil }

type enqueuedTask struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeAsynq struct {
	mu       sync.Mutex
	tasks    []enqueuedTask
	failWith error
}

func (f *fakeAsynq) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.tasks = append(f.tasks, enqueuedTask{task: task, opts: opts})
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeAsynq) Close() error { return nil }

func (f *fakeAsynq) enqueued() []enqueuedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enqueuedTask(nil), f.tasks...)
}

// maxRetryOf digs the MaxRetry value out of the recorded enqueue options.
func maxRetryOf(t *testing.T, opts []asynq.Option) int {
	t.Helper()
	for _, opt := range opts {
		if opt.Type() == asynq.MaxRetryOpt {
			return opt.Value().(int)
		}
	}
	t.Fatal("no MaxRetry option recorded")
	return 0
}

type fakeInspector struct {
	info asynq.QueueInfo
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	info := f.info
	return &info, nil
}

func (f *fakeInspector) Close() error { return nil }

type fakeObjects struct {
	mu      sync.Mutex
	base    string
	blobs   map[string][]byte
	deleted []string
	putErr  error
	delErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{base: "http://blobs.test/media", blobs: make(map[string][]byte)}
}

func (f *fakeObjects) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	f.blobs[key] = append([]byte(nil), data...)
	return f.base + "/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return f.delErr
}

func (f *fakeObjects) KeyFor(id, variant, ext string) string {
	return objectKey(id, variant, ext)
}

func (f *fakeObjects) blob(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blobs[key]
	return b, ok
}

type fakeEnrich struct {
	mu           sync.Mutex
	analyzeCalls int
	result       aiAnalysis
	err          error
}

func (f *fakeEnrich) Analyze(context.Context, []byte) (*aiAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzeCalls++
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	return &r, nil
}

func (f *fakeEnrich) AnalyzeOrFallback(ctx context.Context, image []byte) *aiAnalysis {
	a, err := f.Analyze(ctx, image)
	if err != nil {
		fb := clientFallbackAnalysis
		return &fb
	}
	return a
}

func (f *fakeEnrich) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analyzeCalls
}

type testState struct {
	*appState
	redis   *fakeRedis
	asynq   *fakeAsynq
	objects *fakeObjects
	enrich  *fakeEnrich
	store   *store
}

func newTestState(t *testing.T) *testState {
	t.Helper()
	st, err := openStore(filepath.Join(t.TempDir(), "media.db"))
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rdb := newFakeRedis()
	cli := &fakeAsynq{}
	objects := newFakeObjects()
	enrich := &fakeEnrich{}

	app := &appState{
		cfg: config{
			queueName:      "default",
			maxUploadBytes: 10 << 20,
		},
		redis:              rdb,
		asynqCli:           cli,
		store:              st,
		objects:            objects,
		enrich:             enrich,
		inspector:          &fakeInspector{},
		downloadHTTPClient: &http.Client{Timeout: 10 * time.Second},
		taskRetryInfo:      asynqRetryInfo,
	}
	return &testState{appState: app, redis: rdb, asynq: cli, objects: objects, enrich: enrich, store: st}
}

func makeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func makePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}
