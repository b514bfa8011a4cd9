package voice

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/MrWong99/verbe/pkg/types"
)

func TestEnumStrings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		got, want string
	}{
		{ModeNone.String(), "none"},
		{ModeLive.String(), "live"},
		{Mode(9).String(), "Mode(9)"},
		{ProcessingProcessing.String(), "processing"},
		{LiveSpeaking.String(), "speaking"},
		{LiveStatus(-1).String(), "LiveStatus(-1)"},
		{ErrorTransport.String(), "transport"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestState_Lifecycle(t *testing.T) {
	t.Parallel()
	var s State

	s.StartRecording(ModeCommand)
	if s.Mode() != ModeCommand || s.Processing() != ProcessingRecording {
		t.Fatalf("after start: %v/%v", s.Mode(), s.Processing())
	}
	if !s.VoiceUIVisible() {
		t.Error("voice UI should be visible while recording")
	}
	s.StopRecording()
	if s.Processing() != ProcessingProcessing {
		t.Fatalf("after stop: %v", s.Processing())
	}
	s.SetResult(types.DraftResult{Form: "Hello"})
	snap := s.Snapshot()
	if snap.Processing != ProcessingCompleted || snap.Draft == nil || snap.Draft.Form != "Hello" {
		t.Fatalf("after result: %+v", snap)
	}

	s.Reset()
	if s.VoiceUIVisible() {
		t.Error("voice UI should be hidden after reset")
	}
}

func TestState_LiveStopResets(t *testing.T) {
	t.Parallel()
	var s State
	s.StartRecording(ModeLive)
	if s.LiveStatus() != LiveConnecting {
		t.Fatalf("LiveStatus = %v, want connecting", s.LiveStatus())
	}
	s.SetLiveStatus(LiveListening)
	s.StopRecording()
	if s.Mode() != ModeNone || s.LiveStatus() != LiveOff {
		t.Fatalf("after stop: %v/%v", s.Mode(), s.LiveStatus())
	}
}

func TestState_ErrorKeepsMode(t *testing.T) {
	t.Parallel()
	var s State
	s.StartRecording(ModeCommand)
	s.SetError(ErrorPermission, "denied", true)
	snap := s.Snapshot()
	if snap.Mode != ModeCommand || !snap.NeedsPermissionSettings || snap.ErrorKind != ErrorPermission {
		t.Fatalf("snapshot = %+v", snap)
	}
	s.StartRecording(ModeCommand)
	if snap := s.Snapshot(); snap.Error != "" || snap.NeedsPermissionSettings {
		t.Fatalf("start should clear the error: %+v", snap)
	}
}

func TestState_SnapshotIsCopy(t *testing.T) {
	t.Parallel()
	var s State
	s.SetResult(types.DraftResult{Form: "a"})
	snap := s.Snapshot()
	snap.Draft.Form = "mutated"
	if s.Snapshot().Draft.Form != "a" {
		t.Fatal("snapshot shares draft with state")
	}
}

func TestState_Seq(t *testing.T) {
	t.Parallel()
	var s State
	a := s.Next()
	b := s.Next()
	if s.Current(a) || !s.Current(b) {
		t.Fatalf("Current(a)=%v Current(b)=%v", s.Current(a), s.Current(b))
	}
}

func TestState_Image(t *testing.T) {
	t.Parallel()
	var s State
	s.BeginImage("a cat")
	if r := s.Snapshot().Response; !r.GeneratingImage || r.Instruction != "a cat" {
		t.Fatalf("response = %+v", r)
	}
	s.FinishImage(nil, "boom")
	if r := s.Snapshot().Response; r.GeneratingImage || r.Text != "Error: boom" {
		t.Fatalf("response = %+v", r)
	}
	s.FinishImage(&Image{MIMEType: "image/png", Data: []byte{1}}, "")
	if r := s.Snapshot().Response; r.Image == nil || r.Text != "" {
		t.Fatalf("response = %+v", r)
	}
	s.SetOverlayVisible(false)
	if s.ShowingResponse() {
		t.Fatal("hiding the overlay should clear the response")
	}
}

func TestSnapshot_JSON(t *testing.T) {
	t.Parallel()
	var s State
	s.StartRecording(ModeLive)
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"mode":"live"`, `"live_status":"connecting"`, `"processing":"recording"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("json %s missing %s", data, want)
		}
	}
	if strings.Contains(string(data), "error_kind") {
		t.Errorf("json %s should omit empty error_kind", data)
	}
}
