package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/mastercactapus/wellcnc/logger"
	"github.com/mastercactapus/wellcnc/machine"
)

const publishTimeout = 2 * time.Second

// publisher sends each machine state, retained, to <topic>/state.
type publisher struct {
	c     paho.Client
	topic string
	log   logger.Logger
}

func newPublisher(broker, topic, clientID string) (*publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(broker).
		SetClientID(strings.ReplaceAll(clientID, " ", "_")).
		SetAutoReconnect(true).
		SetCleanSession(true)

	p := &publisher{
		topic: strings.TrimSuffix(topic, "/"),
		log:   logger.With("component", "mqtt", "broker", broker),
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.log.Warn("connection lost", "error", err)
	})

	p.c = paho.NewClient(opts)
	tok := p.c.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect %s: timeout", broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, err)
	}
	return p, nil
}

func (p *publisher) Publish(s machine.State) {
	data, err := json.Marshal(s)
	if err != nil {
		p.log.Error("marshal state", "error", err)
		return
	}
	tok := p.c.Publish(p.topic+"/state", 0, true, data)
	if !tok.WaitTimeout(publishTimeout) {
		p.log.Warn("publish timeout")
		return
	}
	if err := tok.Error(); err != nil {
		p.log.Warn("publish", "error", err)
	}
}

func (p *publisher) Close() { p.c.Disconnect(250) }
