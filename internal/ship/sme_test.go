package ship

import (
	"testing"
	"time"
)

func runHandshake(t *testing.T, s *SME) {
	t.Helper()
	s.StartHello(false)
	if err := s.HandlePeerHello(false, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleProtocolHandshake("1.0"); err != nil {
		t.Fatal(err)
	}
	if err := s.HandlePinAdvertised("none"); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleLocalShipIDSent("ship-local"); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleRemoteShipIDReceived("ship-remote"); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleSpineAttachConfirmed(); err != nil {
		t.Fatal(err)
	}
}

func TestSME_FullHandshakeReachesCompleted(t *testing.T) {
	s := NewSME("test-ski", RoleClient, Callbacks{}, nil)
	runHandshake(t, s)
	if s.State() != StateCompleted {
		t.Fatalf("State() = %v, want completed", s.State())
	}
}

func TestSME_OnSKIConnectedFiresExactlyOnce(t *testing.T) {
	connected := 0
	s := NewSME("test-ski", RoleClient, Callbacks{OnSKIConnected: func(string) { connected++ }}, nil)
	runHandshake(t, s)
	s.Close(CloseReason{})
	if connected != 1 {
		t.Fatalf("OnSKIConnected fired %d times, want 1", connected)
	}
}

func TestSME_NonNonePinVariantClosesWithError(t *testing.T) {
	s := NewSME("test-ski", RoleClient, Callbacks{}, nil)
	s.StartHello(false)
	s.HandlePeerHello(false, 0)
	s.HandleProtocolHandshake("1.0")
	if err := s.HandlePinAdvertised("request"); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateCloseError {
		t.Fatalf("State() = %v, want close-error", s.State())
	}
}

func TestSME_ProtocolMismatchClosesWithError(t *testing.T) {
	s := NewSME("test-ski", RoleClient, Callbacks{}, nil)
	s.StartHello(false)
	s.HandlePeerHello(false, 0)
	if err := s.HandleProtocolHandshake(""); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateCloseError {
		t.Fatalf("State() = %v, want close-error", s.State())
	}
}

func TestSME_ProlongationTimeoutClosesWithErrorAndFiresDisconnectOnce(t *testing.T) {
	disconnected := 0
	s := NewSME("test-ski", RoleClient, Callbacks{OnSKIDisconnected: func(string) { disconnected++ }}, nil)
	s.StartHello(false)
	s.HandlePeerHello(true, 10e9)

	s.HandleProlongationTimeout()
	s.HandleProlongationTimeout() // idempotent: must not double-fire

	if s.State() != StateCloseError {
		t.Fatalf("State() = %v, want close-error", s.State())
	}
	if disconnected != 1 {
		t.Fatalf("OnSKIDisconnected fired %d times, want 1", disconnected)
	}
}

func TestSME_CloseFromAnyStateReachesCloseInOneTransition(t *testing.T) {
	states := []func(*SME){
		func(s *SME) {},
		func(s *SME) { s.StartHello(false) },
		func(s *SME) { s.StartHello(false); s.HandlePeerHello(false, 0) },
	}
	for i, setup := range states {
		s := NewSME("test-ski", RoleClient, Callbacks{}, nil)
		setup(s)
		s.Close(CloseReason{})
		if !s.State().Closed() {
			t.Errorf("case %d: expected Close to reach a terminal state, got %v", i, s.State())
		}
	}
}

func TestSME_ShipIDUpdateCallbackFiresOnRemoteReceive(t *testing.T) {
	var gotSKI, gotShipID string
	s := NewSME("test-ski", RoleClient, Callbacks{OnShipIDUpdate: func(ski, shipID string) {
		gotSKI, gotShipID = ski, shipID
	}}, nil)
	s.StartHello(false)
	s.HandlePeerHello(false, 0)
	s.HandleProtocolHandshake("1.0")
	s.HandlePinAdvertised("none")
	s.HandleLocalShipIDSent("local")
	s.HandleRemoteShipIDReceived("remote-id")

	if gotSKI != "test-ski" || gotShipID != "remote-id" {
		t.Errorf("OnShipIDUpdate got (%q, %q)", gotSKI, gotShipID)
	}
}

func TestProlongationRequestInterval_IsHalfPeerTimeout(t *testing.T) {
	if got, want := ProlongationRequestInterval(20e9), time.Duration(10e9); got != want {
		t.Errorf("ProlongationRequestInterval(20s) = %v, want %v", got, want)
	}
}
