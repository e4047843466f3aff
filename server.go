package flowdrop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"

	"github.com/flowdrop/flowdrop/internal/tfa"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server owns a DeviceInfo, a destination directory, and the HTTP/mDNS
// machinery that advertises and receives on its behalf (spec.md §4.D).
type Server struct {
	info        DeviceInfo
	destDir     string
	askCallback func(SendAsk) bool
	listener    EventListener
	logger      Logger
	portFinder  AvailablePortFinder
	preferIPv4  bool

	infoJSON []byte
	port     uint16
	httpSrv  *http.Server

	stopOnce sync.Once
	stopCh   chan struct{}
	runDone  chan error
	stopErr  error
}

// NewServer validates options and prepares a Server for Run. destDir must
// already exist and be a directory.
func NewServer(info DeviceInfo, opts ...ServerOption) (*Server, error) {
	s := &Server{
		info:        info,
		askCallback: func(SendAsk) bool { return true },
		listener:    NoopEventListener{},
		logger:      NopLogger{},
		portFinder:  defaultPortFinder{},
		stopCh:      make(chan struct{}),
		runDone:     make(chan error, 1),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.destDir == "" {
		return nil, errors.New("flowdrop: WithDestDir is required")
	}
	fi, err := os.Stat(s.destDir)
	if err != nil {
		return nil, fmt.Errorf("flowdrop: destination directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("flowdrop: destination %q is not a directory", s.destDir)
	}
	return s, nil
}

func (s *Server) isStopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Run acquires a port, starts the announcer and HTTP listener, and blocks
// until Stop is called (or ctx is cancelled). It returns the first error
// raised by either goroutine.
func (s *Server) Run(ctx context.Context) error {
	port, err := s.portFinder.FindPort()
	if err != nil {
		return err
	}
	s.port = port

	infoJSON, err := json.Marshal(s.info)
	if err != nil {
		return fmt.Errorf("flowdrop: encoding device info: %w", err)
	}
	s.infoJSON = infoJSON

	ln, err := s.listenDualStack(port)
	if err != nil {
		return fmt.Errorf("flowdrop: binding port %d: %w", port, err)
	}

	s.httpSrv = &http.Server{Handler: s.buildRouter(), ReadHeaderTimeout: readHeaderTimeout}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return Announce(egCtx, s.info.ID, s.port, s.preferIPv4, s.isStopped)
	})
	eg.Go(func() error {
		err := s.httpSrv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		select {
		case <-ctx.Done():
			return s.httpSrv.Close()
		case <-s.stopCh:
			return nil
		}
	})

	s.listener.OnReceiverStarted(s.port)

	runErr := eg.Wait()
	s.runDone <- runErr
	return runErr
}

// Stop shuts down the HTTP listener, signals the announcer to exit, and
// waits for both to quiesce, aggregating any cleanup errors. It is
// idempotent: a second call is a no-op and returns the first call's
// result.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		var errs *multierror.Error
		if s.httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}

		select {
		case err := <-s.runDone:
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("run: %w", err))
			}
		case <-time.After(shutdownTimeout):
			errs = multierror.Append(errs, errors.New("timed out waiting for server goroutines to quiesce"))
		}

		s.stopErr = errs.ErrorOrNil()
	})
	return s.stopErr
}

// Port reports the port Run acquired; valid only after Run has started.
func (s *Server) Port() uint16 { return s.port }

// listenDualStack binds "::" (dual-stack) when the platform supports it,
// falling back to "0.0.0.0" otherwise, per spec.md §4.D step 4.
func (s *Server) listenDualStack(port uint16) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("[::]:%d", port))
	if err == nil {
		return ln, nil
	}
	return net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
}

func (s *Server) buildRouter() *httprouter.Router {
	r := httprouter.New()
	r.HandlerFunc(http.MethodGet, "/device_info", s.handleDeviceInfo)
	r.HandlerFunc(http.MethodPost, "/ask", s.handleAsk)
	r.HandlerFunc(http.MethodPost, "/send", s.handleSend)
	return r
}

func (s *Server) handleDeviceInfo(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.infoJSON)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var ask SendAsk
	if err := json.NewDecoder(r.Body).Decode(&ask); err != nil {
		s.logger.Error("malformed /ask body", "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.listener.OnSenderAsk(ask.Sender)
	accepted := s.askCallback(ask)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Accepted bool `json:"accepted"`
	}{Accepted: accepted})
}

// handleSend drives the TFA consumer over the request body. net/http has
// already completed header parsing by the time this handler runs, so the
// spec's HEADERS_COMPLETE phase corresponds to the top of this function;
// BODY corresponds to the io.Copy loop; MESSAGE_COMPLETE/ERROR to its two
// exit paths.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rawInfo := r.Header.Get("X-DeviceInfo")
	if rawInfo == "" || r.ContentLength < 0 {
		s.logger.Error("malformed /send handshake", "err", &MalformedHandshakeError{Details: "missing X-DeviceInfo or Content-Length"})
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var sender DeviceInfo
	if err := json.Unmarshal([]byte(rawInfo), &sender); err != nil {
		s.logger.Error("malformed /send handshake", "err", &MalformedHandshakeError{Details: "bad X-DeviceInfo JSON"})
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	totalSize := uint64(r.ContentLength)

	adapter := &receivingAdapter{listener: s.listener}
	reader := tfa.NewReader(s.destDir, adapter)

	s.listener.OnReceivingStart(sender, totalSize)

	written, err := io.Copy(reader, r.Body)
	if err != nil {
		s.logger.Error("tfa stream error", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if uint64(written) != totalSize {
		s.logger.Error("content-length mismatch", "written", written, "want", totalSize)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	s.listener.OnReceivingEnd(sender, totalSize, adapter.received)
}

// receivingAdapter bridges internal/tfa's Listener to EventListener,
// collecting received_files in the order their files closed.
type receivingAdapter struct {
	listener EventListener
	received []FileInfo
}

func (a *receivingAdapter) TotalProgress(n uint64) { a.listener.OnReceivingTotalProgress(n) }
func (a *receivingAdapter) FileStart(info tfa.FileInfo) {
	a.listener.OnReceivingFileStart(FileInfo(info))
}
func (a *receivingAdapter) FileProgress(info tfa.FileInfo, n uint64) {
	a.listener.OnReceivingFileProgress(FileInfo(info), n)
}
func (a *receivingAdapter) FileEnd(info tfa.FileInfo) {
	fi := FileInfo(info)
	a.received = append(a.received, fi)
	a.listener.OnReceivingFileEnd(fi)
}
