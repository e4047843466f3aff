package flowdrop

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/flowdrop/flowdrop/internal/mdns"
)

// maxConcurrentDeviceInfoFetches bounds Discover's fire-and-forget
// /device_info fetches so a noisy LAN with many advertisers cannot
// unbound the goroutine count. This caps concurrency only; ordering
// between peers remains unspecified, as spec.md §4.B requires.
const maxConcurrentDeviceInfoFetches = 16

const deviceInfoFetchTimeout = 5 * time.Second

// Announce advertises id on port until isStopped reports true, setting
// the TXT map {v: ProtocolVersion, ipf: "4"} when preferIPv4 is set. It
// is a blocking call meant to run on its own goroutine.
func Announce(ctx context.Context, id string, port uint16, preferIPv4 bool, isStopped func() bool) error {
	txt := map[string]string{"v": ProtocolVersion}
	if preferIPv4 {
		txt["ipf"] = "4"
	}
	return mdns.Register(ctx, id, serviceRegType, serviceDomain, port, txt, isStopped)
}

// resolveAndQuery resolves id to a Remote, verifying the advertised
// protocol version matches ours. A version mismatch or unresolved id
// yields (nil, nil): failure is reported by absence, per the adapter's
// non-aborting failure model (spec.md §4.A, §4.B).
func resolveAndQuery(ctx context.Context, id string) (*Remote, error) {
	resolved, err := mdns.Resolve(ctx, id, serviceRegType, serviceDomain)
	if err != nil {
		return nil, &DiscoveryError{Op: "resolve", Err: err}
	}
	return remoteFromResolved(ctx, resolved, mdns.QueryA, mdns.QueryAAAA)
}

// addrQueryFunc matches mdns.QueryA/mdns.QueryAAAA's signature; tests
// substitute a fake to exercise remoteFromResolved without real multicast.
type addrQueryFunc func(ctx context.Context, host string) (net.IP, error)

// remoteFromResolved turns a resolved mDNS reply into a Remote, holding all
// the version-check and address-family decision logic that resolveAndQuery
// itself has no need to own. A version mismatch, a nil resolved, or a failed
// follow-up A/AAAA query all yield (nil, nil).
func remoteFromResolved(ctx context.Context, resolved *mdns.Resolved, queryA, queryAAAA addrQueryFunc) (*Remote, error) {
	if resolved == nil {
		return nil, nil
	}
	if v := resolved.TXT["v"]; v != ProtocolVersion {
		return nil, nil
	}

	if resolved.IP != nil {
		return remoteFromIP(resolved.IP, resolved.Port), nil
	}
	if resolved.HostName == "" {
		return nil, nil
	}

	preferIPv4 := resolved.TXT["ipf"] == "4"
	if preferIPv4 {
		ip, err := queryA(ctx, resolved.HostName)
		if err != nil || ip == nil {
			return nil, nil
		}
		return remoteFromIP(ip, resolved.Port), nil
	}
	ip, err := queryAAAA(ctx, resolved.HostName)
	if err != nil || ip == nil {
		return nil, nil
	}
	return remoteFromIP(ip, resolved.Port), nil
}

func remoteFromIP(ip net.IP, port uint16) *Remote {
	ipType := IPv6
	if ip.To4() != nil {
		ipType = IPv4
	}
	return &Remote{IP: ip.String(), Port: port, IPType: ipType}
}

// Discover browses for FlowDrop peers and delivers a DeviceInfo to
// onDevice for each newly-seen, successfully-resolved, successfully-
// queried instance, until isStopped reports true. Each device-info fetch
// runs independently; a fetch failure never interrupts browsing.
func Discover(ctx context.Context, onDevice func(DeviceInfo), isStopped func() bool) error {
	seen := make(map[string]struct{})
	var seenMu sync.Mutex

	sem := semaphore.NewWeighted(maxConcurrentDeviceInfoFetches)
	var wg sync.WaitGroup
	client := &http.Client{Timeout: deviceInfoFetchTimeout}

	err := mdns.Browse(ctx, serviceRegType, serviceDomain, func(found mdns.Found) {
		if !markSeen(seen, &seenMu, found.ServiceName) {
			return
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			defer sem.Release(1)
			fetchDeviceInfo(ctx, client, name, onDevice)
		}(found.ServiceName)
	}, isStopped)

	wg.Wait()
	if err != nil {
		return &DiscoveryError{Op: "browse", Err: err}
	}
	return nil
}

func fetchDeviceInfo(ctx context.Context, client *http.Client, id string, onDevice func(DeviceInfo)) {
	remote, err := resolveAndQuery(ctx, id)
	if err != nil || remote == nil {
		return
	}
	fetchDeviceInfoFromRemote(ctx, client, remote, onDevice)
}

// fetchDeviceInfoFromRemote GETs /device_info from an already-resolved
// Remote; split out from fetchDeviceInfo so the HTTP/JSON half can be
// exercised against an httptest.Server without a real mDNS resolve.
func fetchDeviceInfoFromRemote(ctx context.Context, client *http.Client, remote *Remote, onDevice func(DeviceInfo)) {
	url := fmt.Sprintf("http://%s/device_info", hostPort(remote))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var info DeviceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return
	}
	onDevice(info)
}

// markSeen reports whether name is newly recorded in seen, guarding access
// with mu. mdns.Browse calls Discover's callback from its own receive loop,
// one sighting at a time; the lock keeps seen safe for any concurrent use.
func markSeen(seen map[string]struct{}, mu *sync.Mutex, name string) bool {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := seen[name]; ok {
		return false
	}
	seen[name] = struct{}{}
	return true
}

// hostPort renders remote as a host:port pair, bracketing IPv6 addresses.
func hostPort(remote *Remote) string {
	if remote.IPType == IPv6 {
		return fmt.Sprintf("[%s]:%d", remote.IP, remote.Port)
	}
	return fmt.Sprintf("%s:%d", remote.IP, remote.Port)
}
