// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/shot_detector/internal/config"
	"github.com/relabs-tech/shot_detector/internal/link/mqttlink"
)

// RunConsoleMQTT prints every link frame seen on the broker until ctx is
// done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer, logger zerolog.Logger) error {
	log := logger.With().Str("component", "console").Logger()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect %s: %w", cfg.MQTTBroker, token.Error())
	}
	defer client.Disconnect(250)
	log.Info().Str("broker", cfg.MQTTBroker).Msg("connected to MQTT broker")

	filter := cfg.LinkTopicPrefix + "/#"
	token := client.Subscribe(filter, 1, func(_ mqtt.Client, msg mqtt.Message) {
		printFrame(out, time.Now(), msg.Topic(), msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", filter, token.Error())
	}
	log.Info().Str("filter", filter).Msg("subscribed")

	<-ctx.Done()
	log.Info().Msg("console shutting down")
	return nil
}

func printFrame(out io.Writer, at time.Time, topic string, payload []byte) {
	fmt.Fprintf(out, "%s %s\n", at.Format("15:04:05.000"), mqttlink.Describe(topic, payload))
}
