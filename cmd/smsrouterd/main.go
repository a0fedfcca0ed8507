// smsrouterd routes outbound and inbound short messages between the two
// message encoding families of an SMS-capable modem. Inbound messages are
// published to NATS, send requests are consumed from NATS, sent messages and
// premium permissions are optionally persisted in Postgres.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/telgo/smsrouter/cdma"
	"github.com/telgo/smsrouter/com"
	"github.com/telgo/smsrouter/dispatch"
	"github.com/telgo/smsrouter/events"
	"github.com/telgo/smsrouter/gsm"
	"github.com/telgo/smsrouter/internal/config"
	"github.com/telgo/smsrouter/internal/logging"
	"github.com/telgo/smsrouter/serial"
	"github.com/telgo/smsrouter/sms"
	"github.com/telgo/smsrouter/storage"
)

const sendSubject = "sms.send"

// sendRequest is the wire form of a send request consumed from NATS.
type sendRequest struct {
	DestAddr string `json:"dest_addr"`
	SCAddr   string `json:"sc_addr,omitempty"`
	Text     string `json:"text"`
	Persist  bool   `json:"persist,omitempty"`
}

// sendResponse is the reply to a send request.
type sendResponse struct {
	Result string `json:"result"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("cannot load configuration", zap.Error(err))
	}
	logger := logging.Setup(cfg)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	portName := cfg.SerialPort
	if portName == "" {
		portName, err = serial.FindModemPortName()
		if err != nil {
			logger.Fatal("cannot find modem", zap.Error(err))
		}
	}
	channel, err := openChannel(portName, cfg)
	if err != nil {
		logger.Fatal("cannot open modem", zap.String("port", portName), zap.Error(err))
	}
	logger.Info("modem opened", zap.String("port", portName))

	modem := com.NewModem(channel, logger)
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()
	if err := modem.Init(initCtx); err != nil {
		logger.Fatal("cannot initialize modem", zap.Error(err))
	}

	nc, err := events.Connect(cfg.NATSURL, cfg.NATSName, logger)
	if err != nil {
		logger.Fatal("cannot connect to NATS", zap.Error(err))
	}
	defer nc.Drain()
	publisher := events.NewPublisher(nc, logger)

	var store dispatch.Store
	if cfg.DatabaseURL != "" {
		pg, err := storage.Connect(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("cannot connect to database", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	} else {
		store = storage.NewMemory()
	}

	defaultFormat := sms.Format(cfg.DefaultFormat)
	ctrl, err := dispatch.New(dispatch.Options{
		Radio:         modem,
		Codecs:        []dispatch.Codec{gsm.NewCodec(), cdma.NewCodec()},
		DefaultFormat: func() sms.Format { return defaultFormat },
		Inbound: map[sms.Format]dispatch.InboundHandler{
			sms.Format3GPP:  publisher,
			sms.Format3GPP2: publisher,
		},
		Store:      store,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("cannot create dispatch controller", zap.Error(err))
	}
	defer ctrl.Dispose()

	modem.OnMessage(func(pdu []byte, format sms.Format) {
		ctrl.Receive(pdu, format)
	})
	modem.OnDeliveryReport(func(pdu []byte, format sms.Format) {
		ctrl.DeliveryReport(pdu, format)
	})
	modem.OnRegistrationChanged(func() {
		ctrl.RegistrationChanged()
	})
	ctrl.RadioUp()

	sub, err := nc.Subscribe(sendSubject, func(msg *nats.Msg) {
		handleSendRequest(ctrl, msg, logger)
	})
	if err != nil {
		logger.Fatal("cannot subscribe to send requests", zap.Error(err))
	}
	defer sub.Unsubscribe()

	logger.Info("smsrouterd running",
		zap.String("defaultFormat", cfg.DefaultFormat),
		zap.String("sendSubject", sendSubject))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	logger.Info("shutting down")
}

func openChannel(portName string, cfg *config.Config) (*com.Channel, error) {
	if cfg.TraceFile == "" {
		return serial.Open(portName)
	}
	tracer, err := os.Create(cfg.TraceFile)
	if err != nil {
		return nil, err
	}
	return serial.OpenWithTrace(portName, tracer)
}

func handleSendRequest(ctrl *dispatch.Controller, msg *nats.Msg, logger *zap.Logger) {
	var request sendRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		logger.Error("invalid send request", zap.Error(err))
		respond(msg, sms.ResultGenericFailure, logger)
		return
	}

	sent := sms.NewResultHandle(func(code sms.ResultCode) {
		respond(msg, code, logger)
	})
	ctrl.SendText(request.DestAddr, request.SCAddr, request.Text, sent, nil, request.Persist)
}

func respond(msg *nats.Msg, code sms.ResultCode, logger *zap.Logger) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(sendResponse{Result: code.String()})
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		logger.Error("cannot respond to send request", zap.Error(err))
	}
}
