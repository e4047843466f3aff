package flowdrop

// EventListener receives lifecycle events from both Server and
// SendRequest. Methods may be called concurrently from multiple HTTP
// handler goroutines (one per in-flight request); implementations that
// keep mutable state must synchronise internally.
//
// Ordering within a single transfer is guaranteed: OnReceivingStart
// precedes every OnReceivingFileStart; each OnReceivingFileStart precedes
// its own OnReceivingFileProgress calls, which precede the matching
// OnReceivingFileEnd; all file events precede OnReceivingEnd.
// OnReceivingTotalProgress is monotonically non-decreasing.
type EventListener interface {
	// Receiver (Server) side.
	OnReceiverStarted(port uint16)
	OnSenderAsk(sender DeviceInfo)
	OnReceivingStart(sender DeviceInfo, totalSize uint64)
	OnReceivingFileStart(info FileInfo)
	OnReceivingFileProgress(info FileInfo, bytesInFile uint64)
	OnReceivingFileEnd(info FileInfo)
	OnReceivingTotalProgress(bytesSoFar uint64)
	OnReceivingEnd(sender DeviceInfo, totalSize uint64, receivedFiles []FileInfo)

	// Sender (SendRequest) side.
	OnResolving()
	OnResolved(remote Remote)
	OnReceiverNotFound()
	OnAskingReceiver()
	OnReceiverAccepted()
	OnReceiverDeclined()
	OnSendingStart()
	OnSendingTotalProgress(bytesSoFar uint64)
	OnSendingEnd()
}

// NoopEventListener implements EventListener with no-ops. Embed it in a
// struct that only overrides the callbacks it cares about.
type NoopEventListener struct{}

func (NoopEventListener) OnReceiverStarted(uint16)                       {}
func (NoopEventListener) OnSenderAsk(DeviceInfo)                         {}
func (NoopEventListener) OnReceivingStart(DeviceInfo, uint64)            {}
func (NoopEventListener) OnReceivingFileStart(FileInfo)                  {}
func (NoopEventListener) OnReceivingFileProgress(FileInfo, uint64)       {}
func (NoopEventListener) OnReceivingFileEnd(FileInfo)                    {}
func (NoopEventListener) OnReceivingTotalProgress(uint64)                {}
func (NoopEventListener) OnReceivingEnd(DeviceInfo, uint64, []FileInfo)  {}
func (NoopEventListener) OnResolving()                                   {}
func (NoopEventListener) OnResolved(Remote)                              {}
func (NoopEventListener) OnReceiverNotFound()                            {}
func (NoopEventListener) OnAskingReceiver()                              {}
func (NoopEventListener) OnReceiverAccepted()                            {}
func (NoopEventListener) OnReceiverDeclined()                            {}
func (NoopEventListener) OnSendingStart()                                {}
func (NoopEventListener) OnSendingTotalProgress(uint64)                  {}
func (NoopEventListener) OnSendingEnd()                                  {}
