package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/garage2mqtt/internal/cover"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const TopicPrefix = "garage2mqtt"

const (
	mqttOpenCmd   = "open"
	mqttCloseCmd  = "close"
	mqttStopCmd   = "stop"
	mqttToggleCmd = "toggle"
	mqttPressCmd  = "press"
)

const restoreTimeout = 5 * time.Second

// Positions travel as integer percents, 0 closed and 100 open.
const (
	percentClosed = 0
	percentOpen   = 100
)

type attributes struct {
	Position  float64         `json:"position"`
	Operation cover.Operation `json:"operation"`
	Fault     cover.Fault     `json:"fault"`
}

type Bridge struct {
	mqtt  mqtt.Client
	cover cover.Cover

	StateTopic      string
	PositionTopic   string
	AttributesTopic string
	MetadataTopic   string

	CommandTopic        string
	PositionChangeTopic string

	Device HADevice

	restoreOnce sync.Once
}

func NewBridge(client mqtt.Client, c cover.Cover) (*Bridge, error) {
	bridge := &Bridge{mqtt: client, cover: c}
	bridge.StateTopic = fmt.Sprintf("%s/%s/state", TopicPrefix, c.Name())
	bridge.PositionTopic = fmt.Sprintf("%s/%s/position", TopicPrefix, c.Name())
	bridge.AttributesTopic = fmt.Sprintf("%s/%s/attributes", TopicPrefix, c.Name())
	bridge.MetadataTopic = fmt.Sprintf("%s/%s/metadata", TopicPrefix, c.Name())
	bridge.CommandTopic = fmt.Sprintf("%s/%s/set", TopicPrefix, c.Name())
	bridge.PositionChangeTopic = fmt.Sprintf("%s/%s/position/set", TopicPrefix, c.Name())

	if err := bridge.restorePosition(); err != nil {
		return nil, err
	}

	c.OnUpdate(bridge.onCoverUpdateHandler())

	return bridge, nil
}

func (b *Bridge) SetMetadata(value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if token := b.mqtt.Publish(b.MetadataTopic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT metadata publish failed", b.cover.Name())
	}

	return nil
}

// Subscribe listens for commands until ctx is done. It is called again on
// every broker reconnect.
func (b *Bridge) Subscribe(ctx context.Context) error {
	if token := b.mqtt.Subscribe(b.CommandTopic, 0, b.onCommandHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT command topic subscription failed", b.cover.Name())
	}
	logrus.Infof("%s: MQTT command topic subscribed", b.cover.Name())
	if token := b.mqtt.Subscribe(b.PositionChangeTopic, 0, b.onPositionChangeHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position change topic subscription failed", b.cover.Name())
	}
	logrus.Infof("%s: MQTT position change topic subscribed", b.cover.Name())

	return nil
}

// Unsubscribe drops the command subscriptions.
func (b *Bridge) Unsubscribe() error {
	if token := b.mqtt.Unsubscribe(b.PositionChangeTopic, b.CommandTopic); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT topics unsubscribe failed", b.cover.Name())
	}

	return nil
}

func (b *Bridge) onCoverUpdateHandler() cover.UpdateHandler {
	return func(state cover.State) {
		if token := b.mqtt.Publish(b.StateTopic, 0, true, state.Name()); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT state publish failed: %s", b.cover.Name(), token.Error())
		}
		if token := b.mqtt.Publish(b.PositionTopic, 0, true, strconv.Itoa(toPercent(state.Position))); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT position publish failed: %s", b.cover.Name(), token.Error())
		}

		payload, err := json.Marshal(attributes{Position: state.Position, Operation: state.Operation, Fault: state.Fault})
		if err != nil {
			logrus.Errorf("%s: MQTT attributes encode failed: %s", b.cover.Name(), err)
			return
		}
		if token := b.mqtt.Publish(b.AttributesTopic, 0, true, payload); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT attributes publish failed: %s", b.cover.Name(), token.Error())
		}
	}
}

func (b *Bridge) onCommandHandler(ctx context.Context) mqtt.MessageHandler {
	return func(c mqtt.Client, msg mqtt.Message) {
		cmd := strings.TrimSpace(string(msg.Payload()))

		var err error
		switch cmd {
		case mqttOpenCmd:
			err = b.cover.Open(ctx)
		case mqttCloseCmd:
			err = b.cover.Close(ctx)
		case mqttStopCmd:
			err = b.cover.Stop(ctx)
		case mqttToggleCmd:
			err = b.cover.Toggle(ctx)
		case mqttPressCmd:
			err = b.cover.Press(ctx)
		default:
			logrus.Errorf("%s: MQTT unsupported %s command received", b.cover.Name(), cmd)
			return
		}

		if err != nil {
			logrus.Errorf("%s: MQTT %s command failed: %s", b.cover.Name(), cmd, err)
		}
	}
}

func (b *Bridge) onPositionChangeHandler(ctx context.Context) mqtt.MessageHandler {
	return func(c mqtt.Client, msg mqtt.Message) {
		pos, err := parsePercent(msg.Payload())
		if err != nil {
			logrus.Errorf("%s: MQTT position change: %s", b.cover.Name(), err)
			return
		}
		if err := b.cover.SetPosition(ctx, pos); err != nil {
			logrus.Error(err)
		}
	}
}

// restorePosition reads the retained position once so a restart does not lose
// the estimate of a door parked between the endstops.
func (b *Bridge) restorePosition() error {
	restorable, ok := b.cover.(cover.Restorable)
	if !ok {
		logrus.Warnf("%s: MQTT position restore: cover is not restorable", b.cover.Name())
		return nil
	}

	restoreHandler := func(c mqtt.Client, msg mqtt.Message) {
		if !msg.Retained() {
			return
		}

		b.restoreOnce.Do(func() {
			// waiting on a token inside a message handler would block the router
			go b.stopRestore()

			pos, err := parsePercent(msg.Payload())
			if err != nil {
				logrus.Errorf("%s: MQTT position restore: %s", b.cover.Name(), err)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
			defer cancel()

			if err := restorable.RestorePosition(ctx, pos); err != nil {
				logrus.Warnf("%s: MQTT position restore failed: %s", b.cover.Name(), err)
				return
			}

			logrus.Infof("%s: MQTT position restored to %.2f", b.cover.Name(), pos)
		})
	}

	if token := b.mqtt.Subscribe(b.PositionTopic, 0, restoreHandler); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position restore topic subscription failed", b.cover.Name())
	}

	return nil
}

func (b *Bridge) stopRestore() {
	if token := b.mqtt.Unsubscribe(b.PositionTopic); token.Wait() && token.Error() != nil {
		logrus.Errorf("%s: MQTT position restore topic unsubscribe failed: %s", b.cover.Name(), token.Error())
		return
	}

	logrus.Debugf("%s: MQTT position restore topic unsubscribed", b.cover.Name())
}

func toPercent(position float64) int {
	return int(math.Round(position * percentOpen))
}

// parsePercent converts a percent payload into a position. Values outside
// 0-100 are passed on as they are; the controller clamps them.
func parsePercent(payload []byte) (float64, error) {
	pos, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid position %q", payload)
	}
	return float64(pos) / percentOpen, nil
}
