package service

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"kb-assistant-go/internal/model"
	"kb-assistant-go/internal/rag"
	"kb-assistant-go/pkg/llm"
	"kb-assistant-go/pkg/tasks"
)

var errProvider = errors.New("provider unavailable")

type fakeGateway struct {
	mu         sync.Mutex
	reply      string
	err        error
	speechErr  error
	histories  [][]model.Turn
	spoken     []string
	captions   []string
	streamed   int
	audioCalls int
}

func (f *fakeGateway) record(h []model.Turn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, append([]model.Turn(nil), h...))
}

func (f *fakeGateway) Reply(_ context.Context, history []model.Turn) (string, error) {
	f.record(history)
	return f.reply, f.err
}

func (f *fakeGateway) StreamReply(_ context.Context, history []model.Turn, w llm.MessageWriter) (string, error) {
	f.record(history)
	f.streamed++
	if f.err != nil {
		return "", f.err
	}
	_ = w.WriteMessage(websocket.TextMessage, []byte(f.reply))
	return f.reply, nil
}

func (f *fakeGateway) DescribeImage(_ context.Context, history []model.Turn, _ []byte, _ string, caption string) (string, error) {
	f.record(history)
	f.captions = append(f.captions, caption)
	return f.reply, f.err
}

func (f *fakeGateway) ReplyToAudio(_ context.Context, history []model.Turn, _ []byte, _ string) (string, error) {
	f.record(history)
	f.audioCalls++
	return f.reply, f.err
}

func (f *fakeGateway) Speak(_ context.Context, text string) ([]byte, error) {
	f.spoken = append(f.spoken, text)
	if f.speechErr != nil {
		return nil, f.speechErr
	}
	return make([]byte, 2048), nil
}

func (f *fakeGateway) lastHistory() []model.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.histories[len(f.histories)-1]
}

type fakeComposer struct {
	text    string
	queries []string
	history []model.Turn
}

func (f *fakeComposer) Respond(_ context.Context, query string, history []model.Turn) rag.Response {
	f.queries = append(f.queries, query)
	f.history = append([]model.Turn(nil), history...)
	return rag.Response{Text: f.text, Outcome: rag.OutcomeAnswered}
}

type fakeKB struct{ size int }

func (f fakeKB) Size(context.Context) int { return f.size }

type fakeProcessor struct {
	mu     sync.Mutex
	tasks  []tasks.IngestTask
	result model.IngestResult
	err    error
}

func (f *fakeProcessor) Process(_ context.Context, task tasks.IngestTask) (model.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	res := f.result
	res.Source = task.FileName
	return res, f.err
}

func (f *fakeProcessor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type fakeProducer struct {
	tasks []tasks.IngestTask
	err   error
}

func (f *fakeProducer) ProduceIngestTask(_ context.Context, task tasks.IngestTask) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type collectWriter struct{ msgs []string }

func (c *collectWriter) WriteMessage(_ int, data []byte) error {
	c.msgs = append(c.msgs, string(data))
	return nil
}
