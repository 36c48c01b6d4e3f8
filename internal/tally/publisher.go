// Package tally publishes the program scene to an MQTT broker so studio
// tally lights and displays can follow what is on air.
package tally

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"obs-control-backend/config"
	"obs-control-backend/internal/obs"
)

const publishTimeout = 5 * time.Second

// publisher is the part of mqtt.Client used here.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the retained payload on the tally topic.
type Message struct {
	Scene      string    `json:"scene"`
	At         time.Time `json:"at"`
	ScheduleID *string   `json:"schedule_id,omitempty"`
}

// Publisher is an obs.Observer that mirrors each switch to MQTT.
type Publisher struct {
	client publisher
	topic  string
	qos    byte
}

// Connect opens the broker connection described by cfg.
func Connect(cfg config.TallyConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(publishTimeout)
	opts.OnConnect = func(client mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("connected to mqtt broker")
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("timed out connecting to mqtt broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return client, nil
}

func NewPublisher(client publisher, cfg config.TallyConfig) *Publisher {
	return &Publisher{client: client, topic: cfg.Topic, qos: cfg.QoS}
}

// SceneChanged implements obs.Observer. It never waits on the broker.
func (p *Publisher) SceneChanged(change obs.SceneChange) {
	payload, err := json.Marshal(Message{Scene: change.Scene, At: change.At.UTC(), ScheduleID: change.ScheduleID})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode tally message")
		return
	}

	token := p.client.Publish(p.topic, p.qos, true, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Warn().Str("topic", p.topic).Str("scene", change.Scene).Msg("tally publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", p.topic).Msg("tally publish failed")
		}
	}()
}
