package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/familyspace/callcore/internal/authctx"
	"github.com/familyspace/callcore/internal/callerr"
	"github.com/familyspace/callcore/internal/callstate"
	"github.com/familyspace/callcore/internal/callstore"
	"github.com/familyspace/callcore/internal/recordingqueue"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) NoteIngestEvent(callID string, ok bool, detail string) {
	status := "ok"
	if !ok {
		status = "fail"
	}
	f.events = append(f.events, callID+":"+status)
}

func setupProcessingCall(t *testing.T, store *callstore.MemStore) (*callstate.Aggregate, *authctx.AuthContext) {
	t.Helper()
	agg := &callstate.Aggregate{
		Call: &callstate.Call{
			GroupID:     "group-1",
			Kind:        callstate.KindVideo,
			InitiatorID: "member-a",
			Status:      callstate.StatusActive,
			StartedAt:   time.Now(),
			Recording:   callstate.Recording{Status: callstate.RecordingProcessing},
		},
		Participants: []*callstate.Participant{
			{MemberID: "member-b", Status: callstate.ParticipantJoined},
		},
	}
	if err := store.CreateCall(context.Background(), agg); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	auth := &authctx.AuthContext{UserID: "u-a", MemberID: "member-a", GroupID: "group-1", Role: authctx.RoleOwner}
	return agg, auth
}

func newTestQueue() *recordingqueue.Queue {
	q := recordingqueue.New(recordingqueue.Config{MaxConcurrent: 2, QueueTimeout: time.Minute, CleanupInterval: time.Minute, AlertCooldown: time.Minute}, nil, testLogger())
	q.SyncActive(1)
	return q
}

func TestIngestPersistsAndMarksReady(t *testing.T) {
	store := callstore.NewMemStore()
	agg, auth := setupProcessingCall(t, store)

	dir := t.TempDir()
	storage, err := NewLocalStorage(dir, "https://api.example.com")
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	queue := newTestQueue()
	audit := &fakeAudit{}
	coord := New(store, storage, nil, queue, audit, testLogger())

	data := bytes.NewReader([]byte("fake-mp4-bytes"))
	if err := coord.Ingest(context.Background(), auth, agg.Call.CallID, callstate.KindVideo, data, "video/mp4"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	got, err := store.GetCall(context.Background(), agg.Call.CallID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Call.Recording.Status != callstate.RecordingReady {
		t.Fatalf("expected ready, got %s", got.Call.Recording.Status)
	}
	if got.Call.Recording.FileID == "" || got.Call.Recording.URL == "" {
		t.Fatalf("expected fileId/url populated, got %+v", got.Call.Recording)
	}
	if got.Call.Recording.SizeBytes != int64(len("fake-mp4-bytes")) {
		t.Fatalf("expected sizeBytes=%d, got %d", len("fake-mp4-bytes"), got.Call.Recording.SizeBytes)
	}

	if queue.Status().Active != 0 {
		t.Fatalf("expected queue slot released, active=%d", queue.Status().Active)
	}
	if len(audit.events) != 1 || audit.events[0] != agg.Call.CallID+":ok" {
		t.Fatalf("expected one ok audit event, got %v", audit.events)
	}
}

func TestIngestRejectsNonParticipant(t *testing.T) {
	store := callstore.NewMemStore()
	agg, _ := setupProcessingCall(t, store)

	dir := t.TempDir()
	storage, _ := NewLocalStorage(dir, "https://api.example.com")
	queue := newTestQueue()
	coord := New(store, storage, nil, queue, nil, testLogger())

	stranger := &authctx.AuthContext{UserID: "u-z", MemberID: "member-z", GroupID: "group-1", Role: authctx.RoleAdult}
	err := coord.Ingest(context.Background(), stranger, agg.Call.CallID, callstate.KindVideo, strings.NewReader("x"), "video/mp4")
	if err != callerr.ErrParticipantNotFound {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
	// Queue slot must not be released on a pre-persist rejection.
	if queue.Status().Active != 1 {
		t.Fatalf("expected active still 1, got %d", queue.Status().Active)
	}
}

func TestIngestTranscodeFailureMarksRecordingFailed(t *testing.T) {
	store := callstore.NewMemStore()
	agg, auth := setupProcessingCall(t, store)

	dir := t.TempDir()
	storage, _ := NewLocalStorage(dir, "https://api.example.com")
	queue := newTestQueue()
	audit := &fakeAudit{}
	coord := New(store, storage, NoopTranscoder{}, queue, audit, testLogger())

	err := coord.Ingest(context.Background(), auth, agg.Call.CallID, callstate.KindVideo, strings.NewReader("raw-webm"), "video/webm")
	if !errors.Is(err, callerr.ErrTranscodeFailed) {
		t.Fatalf("expected ErrTranscodeFailed, got %v", err)
	}

	got, err := store.GetCall(context.Background(), agg.Call.CallID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Call.Recording.Status != callstate.RecordingFailed {
		t.Fatalf("expected failed, got %s", got.Call.Recording.Status)
	}
	if queue.Status().Active != 0 {
		t.Fatalf("expected queue slot released even on failure, active=%d", queue.Status().Active)
	}
	if len(audit.events) != 1 || audit.events[0] != agg.Call.CallID+":fail" {
		t.Fatalf("expected one fail audit event, got %v", audit.events)
	}
}

func TestLocalStoragePersistWritesFile(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewLocalStorage(dir, "https://api.example.com")
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	fileID, url, size, err := storage.Persist(context.Background(), "call-1", strings.NewReader("hello"), ".mp3")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if size != 5 {
		t.Fatalf("expected size=5, got %d", size)
	}
	if !strings.HasSuffix(url, fileID+".mp3") {
		t.Fatalf("expected url to end with %s.mp3, got %s", fileID, url)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file written, got %d", len(entries))
	}
}
