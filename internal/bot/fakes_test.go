package bot

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/chatpilot/internal/llm"
	"github.com/ziadkadry99/chatpilot/internal/wassenger"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeMessenger records every call made against the messaging platform.
type fakeMessenger struct {
	mu sync.Mutex

	sent      []wassenger.SendRequest
	labels    [][]string
	metadata  [][]wassenger.MetadataEntry
	owners    []string
	fetches   int
	downloads int

	sendErr  error
	history  []wassenger.Message
	members  []wassenger.TeamMember
	media    []byte
	mediaErr error
	mime     string
}

func (f *fakeMessenger) SendMessage(_ context.Context, req wassenger.SendRequest) (*wassenger.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, req)
	return &wassenger.SendResult{ID: fmt.Sprintf("out-%d", len(f.sent)), Status: "queued"}, nil
}

func (f *fakeMessenger) FetchRecentMessages(_ context.Context, _, _ string, _ int) ([]wassenger.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.history, nil
}

func (f *fakeMessenger) PatchChatLabels(_ context.Context, _, _ string, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, labels)
	return nil
}

func (f *fakeMessenger) PatchContactMetadata(_ context.Context, _, _ string, entries []wassenger.MetadataEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata = append(f.metadata, entries)
	return nil
}

func (f *fakeMessenger) PatchChatOwner(_ context.Context, _, _, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners = append(f.owners, agentID)
	return nil
}

func (f *fakeMessenger) TeamMembers(context.Context, string) ([]wassenger.TeamMember, error) {
	return f.members, nil
}

func (f *fakeMessenger) DownloadMedia(context.Context, string, string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	return f.media, f.mime, f.mediaErr
}

func (f *fakeMessenger) sentMessages() []wassenger.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wassenger.SendRequest(nil), f.sent...)
}

// scriptedProvider replays responses in order and records requests.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.CompletionResponse
	repeat    *llm.CompletionResponse
	err       error
	requests  []llm.CompletionRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) > 0 {
		r := p.responses[0]
		p.responses = p.responses[1:]
		return r, nil
	}
	if p.repeat != nil {
		return p.repeat, nil
	}
	return &llm.CompletionResponse{Content: "ok", FinishReason: llm.FinishStop}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type fakeTranscriber struct {
	text string
	err  error
	req  llm.TranscriptionRequest
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req llm.TranscriptionRequest) (string, error) {
	f.req = req
	return f.text, f.err
}

type fakeSynthesizer struct {
	audio []byte
	err   error
	calls int
}

func (f *fakeSynthesizer) Synthesize(context.Context, llm.SpeechRequest) ([]byte, error) {
	f.calls++
	return f.audio, f.err
}

type memoryAudioStore struct {
	files map[string][]byte
}

func (m *memoryAudioStore) Save(data []byte, ext string) (string, error) {
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	id := fmt.Sprintf("audio-%d.%s", len(m.files)+1, ext)
	m.files[id] = data
	return id, nil
}

// recorder collects observed events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) has(kind EventKind) bool {
	for _, k := range r.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
