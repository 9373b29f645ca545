package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-assistant-go/internal/model"
	"kb-assistant-go/pkg/tasks"
)

type stubProcessor struct {
	err   error
	calls int
}

func (s *stubProcessor) Process(_ context.Context, task tasks.IngestTask) (model.IngestResult, error) {
	s.calls++
	if s.err != nil {
		return model.IngestResult{Error: s.err.Error()}, s.err
	}
	return model.IngestResult{Success: true, Source: task.FileName, ChunkCount: 2}, nil
}

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string) (int64, error) { return 0, errors.New("redis down") }
func (failingCounter) Reset(context.Context, string) error         { return nil }

func validTask(t *testing.T) []byte {
	b, err := encodeTask(tasks.IngestTask{DocumentID: 1, FileMD5: "abc", ObjectKey: "u/abc/a.md", FileName: "a.md", UserID: "u"})
	require.NoError(t, err)
	return b
}

func TestHandleCommitsMalformedMessages(t *testing.T) {
	p := &stubProcessor{}
	c := &Consumer{processor: p, attempts: NewMemoryAttemptCounter()}

	assert.True(t, c.handle(context.Background(), []byte("not json")))
	assert.True(t, c.handle(context.Background(), []byte(`{"file_md5":"x"}`)))
	assert.Equal(t, 0, p.calls)
}

func TestHandleSuccessCommits(t *testing.T) {
	p := &stubProcessor{}
	c := &Consumer{processor: p, attempts: NewMemoryAttemptCounter()}
	assert.True(t, c.handle(context.Background(), validTask(t)))
	assert.Equal(t, 1, p.calls)
}

func TestHandleRetriesInPlaceUntilMaxAttempts(t *testing.T) {
	p := &stubProcessor{err: errors.New("index down")}
	c := &Consumer{processor: p, attempts: NewMemoryAttemptCounter()}

	assert.True(t, c.handle(context.Background(), validTask(t)))
	assert.Equal(t, MaxAttempts, p.calls)
}

type flakyProcessor struct {
	stubProcessor
	failures int
}

func (f *flakyProcessor) Process(ctx context.Context, task tasks.IngestTask) (model.IngestResult, error) {
	if f.failures > 0 {
		f.failures--
		f.calls++
		return model.IngestResult{}, errors.New("temporary")
	}
	return f.stubProcessor.Process(ctx, task)
}

func TestHandleRecoversOnRetry(t *testing.T) {
	p := &flakyProcessor{failures: MaxAttempts - 1}
	counter := NewMemoryAttemptCounter()
	c := &Consumer{processor: p, attempts: counter}

	assert.True(t, c.handle(context.Background(), validTask(t)))
	assert.Equal(t, MaxAttempts, p.calls)

	// 成功后计数被清零
	n, err := counter.Incr(context.Background(), "kafka:attempts:abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHandleContinuesCountAfterRedelivery(t *testing.T) {
	p := &stubProcessor{err: errors.New("index down")}
	counter := NewMemoryAttemptCounter()
	_, _ = counter.Incr(context.Background(), "kafka:attempts:abc")
	_, _ = counter.Incr(context.Background(), "kafka:attempts:abc")
	c := &Consumer{processor: p, attempts: counter}

	assert.True(t, c.handle(context.Background(), validTask(t)))
	assert.Equal(t, 1, p.calls)
}

func TestHandleCounterFailureFallsBackToLocalCount(t *testing.T) {
	p := &stubProcessor{err: errors.New("boom")}
	c := &Consumer{processor: p, attempts: failingCounter{}}
	assert.True(t, c.handle(context.Background(), validTask(t)))
	assert.Equal(t, MaxAttempts, p.calls)
}

func TestHandleStopsWaitingOnShutdown(t *testing.T) {
	p := &stubProcessor{err: errors.New("index down")}
	c := &Consumer{processor: p, attempts: NewMemoryAttemptCounter(), backoff: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.False(t, c.handle(ctx, validTask(t)))
	assert.Equal(t, 1, p.calls)
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(" a:9092, ,b:9092"))
	assert.Nil(t, brokers(""))
}
