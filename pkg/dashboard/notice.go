package dashboard

import (
	"context"
	"errors"

	"github.com/small-frappuccino/guilddash/pkg/backend"
)

// NoticeKind distinguishes confirmations from failures.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeError
)

// Notice is a blocking, acknowledge-to-dismiss message shown after an operation.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// IsError reports whether the notice reports a failure.
func (n Notice) IsError() bool { return n.Kind == NoticeError }

// Notice texts.
const (
	MsgSaved             = "Saved"
	MsgSaveFailed        = "Save failed"
	MsgInvalidJSON       = "Invalid JSON"
	MsgUploadOK          = "Upload successful"
	MsgUploadFailed      = "Upload failed"
	MsgPreviewFailed     = "Preview generation failed"
	MsgPreviewSaved      = "Preview saved to uploads"
	MsgPreviewSaveFailed = "Save preview failed"
	MsgOperationInFlight = "Still working on the previous request"
)

func info(msg string) Notice   { return Notice{Kind: NoticeInfo, Message: msg} }
func failed(msg string) Notice { return Notice{Kind: NoticeError, Message: msg} }

var (
	// ErrEmptyGuildID is returned when load or save is attempted without a guild id.
	ErrEmptyGuildID = backend.ErrEmptyGuildID
	// ErrInvalidGuildID is returned when the guild id is not a snowflake.
	ErrInvalidGuildID = backend.ErrInvalidGuildID
	// ErrInvalidJSON is returned when the raw editor text does not parse.
	ErrInvalidJSON = errors.New("invalid configuration JSON")
	// ErrNoConfig is returned when the settings editor is toggled before a load.
	ErrNoConfig = errors.New("no configuration loaded")
	// ErrNoFile is returned when an upload is attempted without a file.
	ErrNoFile = errors.New("no file selected")
	// ErrBusy is returned when the same operation is already running.
	ErrBusy = errors.New("operation already in progress")
	// ErrClosed is returned by operations on a closed view.
	ErrClosed = errors.New("view closed")
)

// inflight tracks running operations so a second trigger of the same operation is
// rejected instead of racing the first. Callers hold the owning view's mutex.
type inflight map[string]bool

func (f inflight) begin(op string) bool {
	if f[op] {
		return false
	}
	f[op] = true
	return true
}

func (f inflight) end(op string) { delete(f, op) }

// bindLifetime derives a context from the request context that is also cancelled
// when the owning view's lifetime ends.
func bindLifetime(req, lifetime context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(req)
	stop := context.AfterFunc(lifetime, func() { cancel(ErrClosed) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
