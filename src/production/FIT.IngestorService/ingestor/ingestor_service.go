package fitingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Config"
	"gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.IngestorService/client"
	logger "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Logger"
	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
)

// hubPayload is the JSON body hubs publish per reading. deviceType and
// name ride along on the first publish so the bridge can register the
// device with the relay.
type hubPayload struct {
	DeviceType string `json:"deviceType"`
	Name       string `json:"name"`
	fitmodels.SensorFields
}

// queuedReading is one parsed MQTT message waiting for a batch flush.
type queuedReading struct {
	HubID      string
	DeviceID   string
	DeviceType string
	Name       string
	Fields     fitmodels.SensorFields
	ReceivedAt time.Time
}

// relayAPI is the slice of the API client the bridge forwards through.
type relayAPI interface {
	RegisterDevice(ctx context.Context, deviceID, deviceType, name string) error
	CreateReadingsBatch(ctx context.Context, readings []client.BatchReading) error
}

// Ingestor bridges MQTT-speaking hubs onto the relay's REST surface.
// Topic layout is fitness/<hubId>/<deviceId>.
type Ingestor struct {
	cfg        *config.IngestorConfig
	apiClient  relayAPI
	mqttClient mqtt.Client
	msgCh      chan queuedReading
	done       chan struct{}
	stopOnce   sync.Once
	registered map[string]bool
	wg         sync.WaitGroup
	logger     *logger.Logger
}

func New(cfg *config.IngestorConfig, apiClient relayAPI, log *logger.Logger) *Ingestor {
	return &Ingestor{
		cfg:        cfg,
		apiClient:  apiClient,
		msgCh:      make(chan queuedReading, 4096),
		done:       make(chan struct{}),
		registered: make(map[string]bool),
		logger:     log.WithComponent("bridge"),
	}
}

func (i *Ingestor) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(i.cfg.GetMQTTBrokerURL()).
		SetClientID(i.cfg.MQTT.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(i.cfg.MQTT.KeepAlive).
		SetPingTimeout(i.cfg.MQTT.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)

	if i.cfg.MQTT.BrokerUser != "" {
		opts.SetUsername(i.cfg.MQTT.BrokerUser)
		opts.SetPassword(i.cfg.MQTT.BrokerPass)
	}

	if i.cfg.MQTT.UseTLS {
		tlsCfg, err := i.tlsConfig(i.cfg.MQTT.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		i.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		topic := i.cfg.MQTT.Topic
		if i.cfg.MQTT.SharedGroup != "" {
			topic = fmt.Sprintf("$share/%s/%s", i.cfg.MQTT.SharedGroup, i.cfg.MQTT.Topic)
		}
		i.logger.Logger.Info().Str("topic", topic).Msg("MQTT connected, subscribing to topic")
		if token := c.Subscribe(topic, 1, i.onMessage); token.Wait() && token.Error() != nil {
			i.logger.Logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		}
	}

	i.mqttClient = mqtt.NewClient(opts)
	if tk := i.mqttClient.Connect(); tk.Wait() && tk.Error() != nil {
		return tk.Error()
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.batchWriter(ctx)
	}()

	return nil
}

// Stop signals shutdown, disconnects from the broker, and waits for
// the batch writer to flush. msgCh is never closed: message handlers
// can still be running when Stop is called, and they bail out on the
// done channel instead of sending into a closed channel.
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() {
		close(i.done)
	})
	if i.mqttClient != nil && i.mqttClient.IsConnected() {
		i.mqttClient.Disconnect(500)
	}
	i.wg.Wait()
}

func (i *Ingestor) IsConnected() bool {
	return i.mqttClient != nil && i.mqttClient.IsConnected()
}

func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	i.logger.Logger.Debug().Str("topic", m.Topic()).Msg("Received MQTT message")

	// Expected format: fitness/<hubId>/<deviceId>
	parts := strings.Split(m.Topic(), "/")
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		i.logger.Logger.Warn().Str("topic", m.Topic()).Str("expected", "fitness/<hubId>/<deviceId>").Msg("Invalid topic format")
		return
	}

	var payload hubPayload
	if err := json.Unmarshal(m.Payload(), &payload); err != nil {
		i.logger.Logger.Warn().Err(err).Str("topic", m.Topic()).Msg("Malformed payload, dropping message")
		return
	}

	rd := queuedReading{
		HubID:      parts[1],
		DeviceID:   parts[2],
		DeviceType: payload.DeviceType,
		Name:       payload.Name,
		Fields:     payload.SensorFields,
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case <-i.done:
	case i.msgCh <- rd:
	}
}

func (i *Ingestor) batchWriter(ctx context.Context) {
	batch := make([]queuedReading, 0, i.cfg.Batch.Size)
	timer := time.NewTimer(i.cfg.Batch.Window)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		i.logger.Logger.Info().Int("batch_size", len(batch)).Msg("Flushing batch to relay")

		// Register devices the relay has not seen from this bridge yet;
		// registration needs a device type on the payload.
		for _, rd := range batch {
			if i.registered[rd.DeviceID] || rd.DeviceType == "" {
				continue
			}
			name := rd.Name
			if name == "" {
				name = rd.DeviceID
			}
			if err := i.apiClient.RegisterDevice(ctx, rd.DeviceID, rd.DeviceType, name); err != nil {
				i.logger.Logger.Error().Err(err).Str("device_id", rd.DeviceID).Msg("Failed to register device")
				continue
			}
			i.registered[rd.DeviceID] = true
		}

		readings := make([]client.BatchReading, 0, len(batch))
		for _, rd := range batch {
			if rd.Fields.IsEmpty() {
				continue
			}
			readings = append(readings, client.BatchReading{
				DeviceID:     rd.DeviceID,
				SensorFields: rd.Fields,
			})
		}

		if err := i.apiClient.CreateReadingsBatch(ctx, readings); err != nil {
			i.logger.Logger.Error().Err(err).Int("count", len(readings)).Msg("Failed to forward readings batch")
		} else {
			i.logger.Logger.Info().Int("count", len(readings)).Msg("Forwarded readings batch")
		}

		batch = batch[:0]
	}

	// drain empties whatever is already queued, then flushes once.
	drain := func() {
		for {
			select {
			case rd := <-i.msgCh:
				batch = append(batch, rd)
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return
		case <-i.done:
			drain()
			return
		case rd := <-i.msgCh:
			batch = append(batch, rd)
			if len(batch) >= i.cfg.Batch.Size {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(i.cfg.Batch.Window)
			}
		case <-timer.C:
			flush()
			timer.Reset(i.cfg.Batch.Window)
		}
	}
}

func (i *Ingestor) tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}
