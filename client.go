package flowdrop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowdrop/flowdrop/internal/tfa"
)

const (
	defaultResolveTimeout = 10 * time.Second
	defaultAskTimeout     = 60 * time.Second
)

// SendRequest sends a set of Files to a discovered peer. Construct with
// NewSendRequest and call Execute once.
type SendRequest struct {
	deviceInfo     DeviceInfo
	receiverID     string
	files          []File
	resolveTimeout time.Duration
	askTimeout     time.Duration
	listener       EventListener
	logger         Logger

	httpClient *http.Client

	// resolveFunc performs the actual mDNS lookup; swappable so tests can
	// drive Execute's ask-then-send flow against an httptest.Server without
	// real multicast networking, the same way internal/mdns's querier tests
	// substitute a fake transport.
	resolveFunc func(ctx context.Context, id string) (*Remote, error)
}

// NewSendRequest prepares a send from deviceInfo to receiverID carrying
// files, with resolveTimeout=10s and askTimeout=60s unless overridden.
func NewSendRequest(deviceInfo DeviceInfo, receiverID string, files []File, opts ...SendOption) *SendRequest {
	r := &SendRequest{
		deviceInfo:     deviceInfo,
		receiverID:     receiverID,
		files:          files,
		resolveTimeout: defaultResolveTimeout,
		askTimeout:     defaultAskTimeout,
		listener:       NoopEventListener{},
		logger:         NopLogger{},
		httpClient:     &http.Client{},
		resolveFunc:    resolveAndQuery,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs the five-step send algorithm synchronously. Files are
// borrowed read-only: Execute never closes them, win or lose, leaving
// that to whatever opened them (NativeFile.Close, typically deferred by
// the caller alongside this call).
func (r *SendRequest) Execute(ctx context.Context) bool {
	remote, ok := r.resolveReceiver(ctx)
	if !ok {
		return false
	}

	baseURL := fmt.Sprintf("http://%s/", hostPort(remote))

	if !r.askReceiver(ctx, baseURL) {
		return false
	}

	return r.sendFiles(ctx, baseURL)
}

func (r *SendRequest) resolveReceiver(ctx context.Context) (*Remote, bool) {
	r.listener.OnResolving()

	resolveCtx, cancel := context.WithTimeout(ctx, r.resolveTimeout)
	defer cancel()

	type result struct {
		remote *Remote
		err    error
	}
	done := make(chan result, 1)
	go func() {
		remote, err := r.resolveFunc(resolveCtx, r.receiverID)
		done <- result{remote, err}
	}()

	select {
	case <-resolveCtx.Done():
		r.listener.OnReceiverNotFound()
		return nil, false
	case res := <-done:
		if res.err != nil || res.remote == nil {
			r.listener.OnReceiverNotFound()
			return nil, false
		}
		r.listener.OnResolved(*res.remote)
		return res.remote, true
	}
}

func (r *SendRequest) askReceiver(ctx context.Context, baseURL string) bool {
	r.listener.OnAskingReceiver()

	files := make([]FileInfo, len(r.files))
	for i, f := range r.files {
		files[i] = FileInfo{Name: f.RelativePath(), Size: f.Size()}
	}
	ask := SendAsk{Sender: r.deviceInfo, Files: files}

	body, err := json.Marshal(ask)
	if err != nil {
		r.logger.Error("encoding send ask", "err", err)
		return false
	}

	askCtx, cancel := context.WithTimeout(ctx, r.askTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(askCtx, http.MethodPost, baseURL+"ask", bytes.NewReader(body))
	if err != nil {
		r.logger.Error("building /ask request", "err", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Error("posting /ask", "err", &AskError{Op: "post", Err: err})
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Error("ask rejected by transport", "status", resp.StatusCode)
		return false
	}

	var reply struct {
		Accepted bool `json:"accepted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		r.logger.Error("decoding /ask response", "err", err)
		return false
	}
	if !reply.Accepted {
		r.listener.OnReceiverDeclined()
		return false
	}

	r.listener.OnReceiverAccepted()
	return true
}

func (r *SendRequest) sendFiles(ctx context.Context, baseURL string) bool {
	entries := make([]tfa.EntrySpec, len(r.files))
	for i, f := range r.files {
		entries[i] = tfa.EntrySpec{Entry: fileEntryAdapter{f}, Name: f.RelativePath()}
	}

	progress := &sendingProgress{listener: r.listener}
	writer, err := tfa.NewWriter(entries, progress)
	if err != nil {
		r.logger.Error("building tfa writer", "err", err)
		return false
	}

	infoJSON, err := json.Marshal(r.deviceInfo)
	if err != nil {
		r.logger.Error("encoding device info", "err", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"send", writer)
	if err != nil {
		r.logger.Error("building /send request", "err", err)
		return false
	}
	req.Header.Set("X-DeviceInfo", string(infoJSON))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(writer.CalcSize())

	r.listener.OnSendingStart()

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Error("send transport failure", "err", &SendTransportError{Err: err})
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Error("send transport failure", "err", &SendTransportError{Err: fmt.Errorf("status %d", resp.StatusCode)})
		return false
	}

	r.listener.OnSendingEnd()
	return true
}

// fileEntryAdapter satisfies internal/tfa's Entry interface over a File,
// so the root package's File abstraction never leaks into the codec.
type fileEntryAdapter struct{ f File }

func (a fileEntryAdapter) Size() int64          { return int64(a.f.Size()) }
func (a fileEntryAdapter) ModTime() int64       { return a.f.ModifiedTime() }
func (a fileEntryAdapter) Mode() uint32         { return uint32(a.f.Permissions()) }
func (a fileEntryAdapter) Seek(pos int64) error { return a.f.Seek(uint64(pos)) }
func (a fileEntryAdapter) Read(buf []byte) (int, error) {
	return a.f.Read(buf)
}

// sendingProgress bridges the TFA writer's listener to EventListener's
// total-progress callback; FlowDrop's sender-side events don't include
// per-file callbacks, only the aggregate.
type sendingProgress struct {
	listener EventListener
}

func (p *sendingProgress) TotalProgress(n uint64)          { p.listener.OnSendingTotalProgress(n) }
func (p *sendingProgress) FileStart(tfa.FileInfo)          {}
func (p *sendingProgress) FileProgress(tfa.FileInfo, uint64) {}
func (p *sendingProgress) FileEnd(tfa.FileInfo)            {}
