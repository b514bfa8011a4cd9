package app

import (
	"sync"

	"github.com/MrWong99/verbe/internal/controller"
	"github.com/MrWong99/verbe/pkg/audio"
)

var _ controller.Environment = (*Host)(nil)

// HostContext is what the UI shell reports about the user's surroundings.
type HostContext struct {
	ForegroundApp string `json:"foreground_app"`
	SelectedText  string `json:"selected_text"`
}

// Host is the [controller.Environment] backed by the audio permission check,
// the configured user name and the latest context pushed over the bridge.
type Host struct {
	perm audio.PermissionChecker

	mu   sync.Mutex
	user string
	ctx  HostContext
}

// NewHost creates a Host. perm may be nil, in which case the microphone is
// assumed to be authorized.
func NewHost(perm audio.PermissionChecker, userName string) *Host {
	return &Host{perm: perm, user: userName}
}

// MicrophonePermitted implements [controller.Environment].
func (h *Host) MicrophonePermitted() bool {
	return h.perm == nil || h.perm.MicrophoneAuthorized()
}

// UserName implements [controller.Environment].
func (h *Host) UserName() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.user
}

// ForegroundApp implements [controller.Environment].
func (h *Host) ForegroundApp() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctx.ForegroundApp
}

// SelectedText implements [controller.Environment].
func (h *Host) SelectedText() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctx.SelectedText
}

// SetContext replaces the reported surroundings.
func (h *Host) SetContext(c HostContext) {
	h.mu.Lock()
	h.ctx = c
	h.mu.Unlock()
}

// SetUserName replaces the user name. Used on config reload.
func (h *Host) SetUserName(name string) {
	h.mu.Lock()
	h.user = name
	h.mu.Unlock()
}
