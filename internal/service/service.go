// Package service implements the embedder-facing service shell (§4.9):
// it owns the local SPINE device, the local TLS credentials and SKI, the
// discovery collaborator, and the set of SHIP connections, and exposes
// the register/unregister-remote-SKI surface.
package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/enbility/eebus-core/internal/eebuserrors"
	"github.com/enbility/eebus-core/internal/logging"
	"github.com/enbility/eebus-core/internal/metrics"
	"github.com/enbility/eebus-core/internal/ratelimit"
	"github.com/enbility/eebus-core/internal/ship"
	"github.com/enbility/eebus-core/internal/spine/device"
	"github.com/enbility/eebus-core/internal/spine/dispatch"
	"github.com/enbility/eebus-core/internal/spine/frame"
	"github.com/enbility/eebus-core/internal/tlscred"
	"github.com/enbility/eebus-core/pkg/api"
)

// trustEntry tracks one registered remote SKI's trust and connection state.
type trustEntry struct {
	autoAccept bool
	conn       *ship.Connection
	sme        *ship.SME
	dialing    bool
}

// Service is the embeddable EEBUS service shell.
type Service struct {
	mu      sync.Mutex
	started bool
	pairing bool

	cred       *tlscred.Credential
	local      *device.Device
	dispatcher *dispatch.Dispatcher
	discovery  api.Discovery
	codec      frame.Codec
	callbacks  api.Callbacks

	trust map[string]*trustEntry // ski -> entry

	logger  *logging.Logger
	metrics *metrics.Metrics
	limiter *ratelimit.Limiter

	debugRouter *mux.Router
	httpServer  *http.Server
	debugAddr   string

	serviceName string
	shipID      string
	dialer      *websocket.Dialer
	upgrader    websocket.Upgrader
	listenAddr  string
	listener    net.Listener
	shipServer  *http.Server
}

// New constructs a Service around a local device, its TLS credential,
// the discovery collaborator, and the frame codec used to put datagrams
// on the wire. listenAddr, if non-empty, is the address Start listens on
// for inbound SHIP connections (§4.9); debugAddr, if non-empty, serves
// the debug HTTP surface. callbacks may be zero-valued.
func New(info device.Info, cred *tlscred.Credential, discovery api.Discovery, codec frame.Codec, listenAddr, debugAddr string, callbacks api.Callbacks) *Service {
	logger := logging.NewFromEnv("service")
	local := device.New(info)

	serviceName := info.Vendor + "-eebus"
	// Each embedded service owns its own registry: a process hosting more
	// than one Service (as tests do, repeatedly) must not collide on
	// prometheus.DefaultRegisterer's global collector names.
	m := metrics.NewWithRegistry(serviceName, prometheus.NewRegistry())

	s := &Service{
		cred:        cred,
		local:       local,
		discovery:   discovery,
		codec:       codec,
		callbacks:   callbacks,
		trust:       make(map[string]*trustEntry),
		logger:      logger,
		metrics:     m,
		limiter:     ratelimit.New(ratelimit.DefaultConfig()),
		debugAddr:   debugAddr,
		serviceName: serviceName,
		shipID:      uuid.NewString(),
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		upgrader:    websocket.Upgrader{HandshakeTimeout: 10 * time.Second},
		listenAddr:  listenAddr,
	}
	s.dispatcher = dispatch.New(local, s, logger)
	s.dispatcher.SetMetrics(serviceName, m)
	s.debugRouter = s.buildDebugRouter()
	return s
}

// SendDatagram implements dispatch.Sender: it encodes dg with the
// configured frame codec and writes it to ski's SHIP connection.
func (s *Service) SendDatagram(ski string, dg frame.Datagram) error {
	s.mu.Lock()
	entry, ok := s.trust[ski]
	s.mu.Unlock()
	if !ok || entry.conn == nil {
		return eebuserrors.NotSupported("send-datagram", "no open connection for ski "+ski)
	}
	data, err := s.codec.EncodeDatagram(dg)
	if err != nil {
		return eebuserrors.Wrap(eebuserrors.KindParse, "failed to encode outbound datagram", err)
	}
	return entry.conn.SendData(data)
}

// LocalDevice returns the local SPINE device for the embedder to add
// entities, features, and use-case supports onto.
func (s *Service) LocalDevice() *device.Device {
	return s.local
}

// Dispatcher returns the dispatcher wired to the local device, for use
// cases registering write-approval or call handlers.
func (s *Service) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// GetLocalSKI returns this service's local SKI, derived from its TLS
// credential (§4.9).
func (s *Service) GetLocalSKI() string {
	return s.cred.SKI
}

// Start wires discovery and begins connecting to trusted remote SKIs
// (§4.9). Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if s.discovery != nil {
		if err := s.discovery.Start(s.handleDiscoveryUpdate); err != nil {
			return eebuserrors.Wrap(eebuserrors.KindActivate, "failed to start discovery", err)
		}
	}

	if s.listenAddr != "" && s.cred != nil {
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{s.cred.Certificate},
			ClientAuth:   tls.RequireAnyClientCert,
		}
		ln, err := tls.Listen("tcp", s.listenAddr, tlsConfig)
		if err != nil {
			return eebuserrors.Wrap(eebuserrors.KindActivate, "failed to open ship listener", err)
		}
		s.listener = ln
		s.shipServer = &http.Server{Handler: http.HandlerFunc(s.handleInboundUpgrade)}
		go func() {
			if err := s.shipServer.Serve(ln); err != nil && err != http.ErrServerClosed {
				s.logger.WithError(err).Error("ship listener stopped unexpectedly")
			}
		}()
	}

	if s.debugAddr != "" {
		s.httpServer = &http.Server{Addr: s.debugAddr, Handler: s.debugRouter}
		go func() {
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.WithError(err).Error("debug http server stopped unexpectedly")
			}
		}()
	}

	s.started = true
	return nil
}

// Stop closes every connection in parallel, then stops discovery, the
// SHIP listener and the debug HTTP server (§7 stop policy). The local
// device tree is left in place. Idempotent.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	// Connections are closed without holding s.mu: closing one fires
	// onRemoteDisconnected, which takes s.mu itself.
	var conns []*ship.Connection
	for _, entry := range s.trust {
		if entry.conn != nil {
			conns = append(conns, entry.conn)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn *ship.Connection) {
			defer wg.Done()
			conn.Close(ship.CloseReason{})
		}(conn)
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discovery != nil {
		_ = s.discovery.Stop()
	}
	if s.shipServer != nil {
		_ = s.shipServer.Shutdown(ctx)
		s.shipServer = nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}

	s.started = false
	return nil
}

// handleInboundUpgrade is the http.Handler mounted on the SHIP TLS
// listener: it derives the peer's SKI from its client certificate, then
// upgrades the request to a WebSocket and drives it the same way as an
// outbound dial (§4.9).
func (s *Service) handleInboundUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		http.Error(w, "client certificate required", http.StatusUnauthorized)
		return
	}
	ski, err := tlscred.ComputeSKI(r.TLS.PeerCertificates[0].RawSubjectPublicKeyInfo)
	if err != nil {
		http.Error(w, "invalid client certificate", http.StatusUnauthorized)
		return
	}

	if !s.inboundTrustAllowed(ski) {
		http.Error(w, "ski not trusted", http.StatusForbidden)
		s.logger.WithSKI(ski).Warn("rejecting inbound connection: not a registered ski and pairing is closed")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithSKI(ski).WithError(err).Warn("failed to upgrade inbound ship connection")
		return
	}

	s.acceptSHIPConnection(ski, conn, s.logger.WithSKI(ski))
}

// inboundTrustAllowed reports whether ski may proceed past the initial
// SHIP handshake (§4.9 set_pairing_possible "opens/closes the window in
// which new, untrusted remote SKIs may proceed past the initial
// handshake"): either ski is already a registered trust entry, or the
// pairing window is open for a new SKI — and, in either case, the
// embedder's trust callback, if set, is given the final veto (§9 "a
// conforming implementation must call it and honour false").
func (s *Service) inboundTrustAllowed(ski string) bool {
	s.mu.Lock()
	_, registered := s.trust[ski]
	pairing := s.pairing
	s.mu.Unlock()

	if !registered && !pairing {
		return false
	}
	if s.callbacks.IsWaitingForTrustAllowed != nil {
		return s.callbacks.IsWaitingForTrustAllowed(ski)
	}
	return true
}

func (s *Service) acceptSHIPConnection(ski string, conn *websocket.Conn, logger *logging.Logger) {
	sme := ship.NewSME(ski, ship.RoleServer, ship.Callbacks{
		OnStateUpdate: func(ski string, state ship.State) {
			if s.callbacks.OnShipStateUpdate != nil {
				s.callbacks.OnShipStateUpdate(ski, state)
			}
		},
		OnSKIConnected:    s.callbacks.OnRemoteSKIConnected,
		OnSKIDisconnected: s.onRemoteDisconnected,
		OnShipIDUpdate:    s.callbacks.OnShipIDUpdate,
	}, s.logger)
	sme.SetMetrics(s.serviceName, s.metrics)

	remote := device.NewRemote(ski)
	s.dispatcher.RegisterRemote(ski, remote)

	shipConn := ship.NewConnection(ski, conn, sme, s.logger, func(payload []byte) {
		if !s.limiter.Allow() {
			logger.Warn("dropping inbound frame: rate limit exceeded")
			return
		}
		dg, err := s.codec.DecodeDatagram(payload)
		if err != nil {
			logger.WithError(err).Warn("failed to decode inbound datagram")
			return
		}
		s.dispatcher.Dispatch(ski, dg)
	})

	s.mu.Lock()
	entry, ok := s.trust[ski]
	if !ok {
		entry = &trustEntry{autoAccept: true}
		s.trust[ski] = entry
	}
	entry.conn = shipConn
	entry.sme = sme
	s.mu.Unlock()

	shipConn.SetLocalShipID(s.shipID)
	sme.StartHello(false)
	if err := shipConn.SendHello(false, 0); err != nil {
		logger.WithError(err).Warn("failed to send hello")
	}

	if err := shipConn.Run(context.Background()); err != nil {
		logger.WithError(err).Warn("inbound ship connection terminated")
	}
}

// RegisterRemoteSKI adds ski to the trust set; registration triggers a
// connection attempt once the peer becomes visible via discovery
// (§4.9).
func (s *Service) RegisterRemoteSKI(ski string, autoAccept bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, exists := s.trust[ski]; exists {
		existing.autoAccept = autoAccept
		return
	}
	s.trust[ski] = &trustEntry{autoAccept: autoAccept}
}

// UnregisterRemoteSKI removes ski from the trust set and tears down any
// existing connection.
func (s *Service) UnregisterRemoteSKI(ski string) {
	s.mu.Lock()
	entry, ok := s.trust[ski]
	delete(s.trust, ski)
	s.mu.Unlock()

	if ok && entry.conn != nil {
		entry.conn.Close(ship.CloseReason{})
	}
	s.dispatcher.RemoveRemote(ski)
}

// CancelPairingWithSKI aborts an in-progress, not-yet-trusted handshake
// with ski.
func (s *Service) CancelPairingWithSKI(ski string) {
	s.mu.Lock()
	entry, ok := s.trust[ski]
	s.mu.Unlock()
	if ok && entry.conn != nil && entry.sme.State() != ship.StateCompleted {
		entry.conn.Close(ship.CloseReason{Message: "pairing cancelled"})
	}
}

// SetPairingPossible opens or closes the window in which new, untrusted
// remote SKIs may proceed past the initial handshake (§4.9).
func (s *Service) SetPairingPossible(possible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairing = possible
}

// PairingPossible reports the current pairing window state.
func (s *Service) PairingPossible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairing
}

// GetConnectionStateWithSKI reports the current SME state for ski, if a
// connection exists.
func (s *Service) GetConnectionStateWithSKI(ski string) (api.ConnectionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.trust[ski]
	if !ok || entry.sme == nil {
		return api.ConnectionState{}, false
	}
	return api.ConnectionState{
		SKI:     ski,
		State:   entry.sme.State(),
		Trusted: entry.sme.State() == ship.StateCompleted,
	}, true
}

func (s *Service) handleDiscoveryUpdate(entries []api.DiscoveryEntry) {
	valid := make([]api.DiscoveryEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Valid() || e.SKI == s.GetLocalSKI() {
			continue
		}
		valid = append(valid, e)
	}
	if s.callbacks.OnRemoteServicesUpdate != nil {
		s.callbacks.OnRemoteServicesUpdate(valid)
	}
	s.maybeConnectToVisiblePeers(valid)
}

func (s *Service) maybeConnectToVisiblePeers(entries []api.DiscoveryEntry) {
	var toDial []api.DiscoveryEntry

	s.mu.Lock()
	for _, e := range entries {
		entry, trusted := s.trust[e.SKI]
		if !trusted && !s.pairing {
			continue
		}
		if trusted && (entry.conn != nil || entry.dialing) {
			continue
		}
		allowed := true
		if s.callbacks.IsWaitingForTrustAllowed != nil {
			allowed = s.callbacks.IsWaitingForTrustAllowed(e.SKI)
		}
		if !allowed {
			continue
		}
		if !trusted {
			// Pairing window is open for an as-yet-unregistered peer: track
			// it provisionally so a concurrent discovery update doesn't
			// dial it twice.
			s.trust[e.SKI] = &trustEntry{autoAccept: true, dialing: true}
		} else {
			entry.dialing = true
		}
		toDial = append(toDial, e)
	}
	s.mu.Unlock()

	for _, e := range toDial {
		go s.connectToPeer(e)
	}
}

// connectToPeer dials e's WebSocket endpoint, verifies the peer presents
// the SKI discovery advertised, and drives the resulting SHIP connection
// to completion (§4.9 "registration triggers a connection attempt").
func (s *Service) connectToPeer(e api.DiscoveryEntry) {
	logger := s.logger.WithSKI(e.SKI)

	wantSKI := e.SKI
	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{s.cred.Certificate},
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("ship: peer presented no certificate")
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("ship: failed to parse peer certificate: %w", err)
			}
			got, err := tlscred.ComputeSKI(leaf.RawSubjectPublicKeyInfo)
			if err != nil {
				return fmt.Errorf("ship: failed to compute peer SKI: %w", err)
			}
			if got != wantSKI {
				return fmt.Errorf("ship: peer SKI %s does not match advertised SKI %s", got, wantSKI)
			}
			return nil
		},
	}

	dialer := *s.dialer
	dialer.TLSClientConfig = tlsConfig

	u := url.URL{Scheme: "wss", Host: fmt.Sprintf("%s:%d", e.Host, e.Port), Path: e.Path}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		logger.WithError(err).Warn("failed to dial remote SHIP endpoint")
		s.clearDialing(e.SKI)
		return
	}

	sme := ship.NewSME(e.SKI, ship.RoleClient, ship.Callbacks{
		OnStateUpdate: func(ski string, state ship.State) {
			if s.callbacks.OnShipStateUpdate != nil {
				s.callbacks.OnShipStateUpdate(ski, state)
			}
		},
		OnSKIConnected:    s.callbacks.OnRemoteSKIConnected,
		OnSKIDisconnected: s.onRemoteDisconnected,
		OnShipIDUpdate:    s.callbacks.OnShipIDUpdate,
	}, s.logger)
	sme.SetMetrics(s.serviceName, s.metrics)

	remote := device.NewRemote(e.SKI)
	s.dispatcher.RegisterRemote(e.SKI, remote)

	shipConn := ship.NewConnection(e.SKI, conn, sme, s.logger, func(payload []byte) {
		if !s.limiter.Allow() {
			logger.Warn("dropping inbound frame: rate limit exceeded")
			return
		}
		dg, err := s.codec.DecodeDatagram(payload)
		if err != nil {
			logger.WithError(err).Warn("failed to decode inbound datagram")
			return
		}
		s.dispatcher.Dispatch(e.SKI, dg)
	})

	s.mu.Lock()
	s.trust[e.SKI] = &trustEntry{autoAccept: true, conn: shipConn, sme: sme}
	s.mu.Unlock()

	shipConn.SetLocalShipID(s.shipID)
	sme.StartHello(false)
	if err := shipConn.SendHello(false, 0); err != nil {
		logger.WithError(err).Warn("failed to send hello")
	}

	if err := shipConn.Run(context.Background()); err != nil {
		logger.WithError(err).Warn("ship connection terminated")
	}
}

func (s *Service) clearDialing(ski string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.trust[ski]; ok {
		entry.dialing = false
	}
}

func (s *Service) onRemoteDisconnected(ski string) {
	s.dispatcher.RemoveRemote(ski)

	s.mu.Lock()
	if entry, ok := s.trust[ski]; ok {
		entry.conn = nil
		entry.sme = nil
		entry.dialing = false
	}
	s.mu.Unlock()

	if s.callbacks.OnRemoteSKIDisconnected != nil {
		s.callbacks.OnRemoteSKIDisconnected(ski)
	}
}

// buildDebugRouter wires the debug HTTP surface: health and a JSON dump
// of per-SKI connection states.
func (s *Service) buildDebugRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/connections", func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		states := make(map[string]string, len(s.trust))
		for ski, entry := range s.trust {
			if entry.sme != nil {
				states[ski] = entry.sme.State().String()
			} else {
				states[ski] = "disconnected"
			}
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(states); err != nil {
			s.logger.WithError(err).Warn("failed to encode /connections response")
		}
	}).Methods(http.MethodGet)

	return r
}
