// Command demo wires a minimal embedder around the service shell: a
// MonitoredUnit entity exposing a power-measurement feature, using a
// JSON-backed codec the embedder supplies per §6.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/enbility/eebus-core/internal/address"
	"github.com/enbility/eebus-core/internal/config"
	"github.com/enbility/eebus-core/internal/logging"
	"github.com/enbility/eebus-core/internal/model"
	"github.com/enbility/eebus-core/internal/service"
	"github.com/enbility/eebus-core/internal/spine/device"
	"github.com/enbility/eebus-core/internal/spine/feature"
	"github.com/enbility/eebus-core/internal/spine/frame"
	"github.com/enbility/eebus-core/internal/tlscred"
	"github.com/enbility/eebus-core/pkg/api"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logging.InitDefault(cfg.ServiceName, "info", "text")
	logger := logging.Default()

	cred, err := loadOrSelfSignedCredential(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to load TLS credential")
	}

	info := device.Info{
		Vendor:  cfg.Vendor,
		Brand:   cfg.Brand,
		Model:   cfg.Model,
		Serial:  cfg.Serial,
		Address: address.DeriveDeviceAddress(cfg.Vendor, cfg.Serial),
	}

	svc := service.New(info, cred, nil, jsonFrameCodec{}, cfg.ListenAddr, cfg.DebugAddr, api.Callbacks{
		OnRemoteSKIConnected: func(ski string) { logger.WithSKI(ski).Info("remote connected") },
		OnRemoteSKIDisconnected: func(ski string) { logger.WithSKI(ski).Info("remote disconnected") },
		IsWaitingForTrustAllowed: func(ski string) bool { return true },
	})

	registerMonitoredUnit(svc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start service")
	}
	logger.WithFields(map[string]interface{}{"ski": svc.GetLocalSKI()}).Info("service started")

	<-ctx.Done()
	_ = svc.Stop(context.Background())
}

func powerMeasurementShape() *model.Shape {
	element := &model.Shape{
		Name: "measurementDataType",
		Kind: model.KindSequence,
		Fields: []model.FieldDecl{
			{Name: "measurementId", Shape: &model.Shape{Name: "measurementId", Kind: model.KindSimple, ScalarKind: model.ScalarInt}},
			{Name: "value", Shape: &model.Shape{Name: "value", Kind: model.KindSimple, ScalarKind: model.ScalarScaledNumber}},
		},
	}
	return &model.Shape{
		Name:       "measurementListData",
		Kind:       model.KindList,
		Element:    element,
		ElementKey: []string{"measurementId"},
	}
}

// registerMonitoredUnit adds a single MonitoredUnit entity with a power
// measurement feature, demonstrating the embedder-facing tree-building
// surface (§6).
func registerMonitoredUnit(svc *service.Service) {
	local := svc.LocalDevice()
	h := local.Lock()
	defer h.Unlock()

	entity, err := local.AddEntity(h, local.Root(), "MonitoredUnit")
	if err != nil {
		logging.Default().WithError(err).Fatal("failed to add MonitoredUnit entity")
	}

	addr := address.Feature{Entity: entity.Address, FeatureID: entity.NextFeatureID()}
	f := feature.New(addr, feature.RoleServer, "Measurement")
	f.RegisterFunction("measurementListData", powerMeasurementShape(), feature.Operations{Read: true, ReadPartial: true})

	if err := local.AddFeature(h, entity, f); err != nil {
		logging.Default().WithError(err).Fatal("failed to add Measurement feature")
	}
}

func loadOrSelfSignedCredential(cfg config.Config) (*tlscred.Credential, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("cert_file and key_file must be configured")
	}
	certPEM, err := os.ReadFile(cfg.CertFile)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return tlscred.Load(certPEM, keyPEM)
}

// jsonFrameCodec is a minimal embedder-supplied frame.Codec: it encodes
// a datagram's addresses, classifier, message counter and function name
// as JSON, without the payload, and decodes only the message counter and
// function name back. A production embedder would
// instead follow the SHIP/SPINE XML wire format; JSON keeps this demo
// self-contained.
type jsonFrameCodec struct{}

type wireDatagram struct {
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Classifier  string          `json:"classifier"`
	MsgCounter  uint64          `json:"msgCounter"`
	Function    string          `json:"function"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func (jsonFrameCodec) EncodeDatagram(d frame.Datagram) ([]byte, error) {
	w := wireDatagram{
		Source:      d.Source.String(),
		Destination: d.Destination.String(),
		Classifier:  d.Classifier.String(),
		MsgCounter:  d.MsgCounter,
		Function:    d.Command.Function,
	}
	return json.Marshal(w)
}

func (jsonFrameCodec) DecodeDatagram(data []byte) (frame.Datagram, error) {
	var w wireDatagram
	if err := json.Unmarshal(data, &w); err != nil {
		return frame.Datagram{}, err
	}
	return frame.Datagram{MsgCounter: w.MsgCounter, Command: frame.Command{Function: w.Function}}, nil
}
