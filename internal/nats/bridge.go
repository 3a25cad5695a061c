// Package nats mirrors cover states and commands onto NATS subjects as JSON.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jkaflik/garage2mqtt/internal/cover"
	nats "github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultSubjectPrefix = "garage2mqtt"

// Conn is the part of *nats.Conn the bridge uses.
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type StateMessage struct {
	Position  float64         `json:"position"`
	State     string          `json:"state"`
	Operation cover.Operation `json:"operation"`
	Fault     cover.Fault     `json:"fault"`
}

// CommandMessage carries either a command name or a target position in the
// 0 to 1 range. Positions outside of it are clamped by the controller.
type CommandMessage struct {
	Command  string   `json:"command,omitempty"`
	Position *float64 `json:"position,omitempty"`
}

type Bridge struct {
	conn  Conn
	cover cover.Cover

	StateSubject   string
	CommandSubject string

	sub *nats.Subscription
}

func NewBridge(conn Conn, c cover.Cover, prefix string) *Bridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	b := &Bridge{
		conn:           conn,
		cover:          c,
		StateSubject:   fmt.Sprintf("%s.%s.state", prefix, c.Name()),
		CommandSubject: fmt.Sprintf("%s.%s.set", prefix, c.Name()),
	}
	c.OnUpdate(b.onCoverUpdate)

	return b
}

func (b *Bridge) onCoverUpdate(state cover.State) {
	payload, err := json.Marshal(StateMessage{
		Position:  state.Position,
		State:     state.Name(),
		Operation: state.Operation,
		Fault:     state.Fault,
	})
	if err != nil {
		logrus.Errorf("%s: NATS state encode failed: %s", b.cover.Name(), err)
		return
	}

	if err := b.conn.Publish(b.StateSubject, payload); err != nil {
		logrus.Errorf("%s: NATS state publish failed: %s", b.cover.Name(), err)
	}
}

// Subscribe listens for commands. ctx is passed on to every command.
func (b *Bridge) Subscribe(ctx context.Context) error {
	sub, err := b.conn.Subscribe(b.CommandSubject, func(msg *nats.Msg) {
		if err := b.handle(ctx, msg.Data); err != nil {
			logrus.Errorf("%s: NATS command failed: %s", b.cover.Name(), err)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "%s: NATS command subject subscription failed", b.cover.Name())
	}
	b.sub = sub

	logrus.Infof("%s: NATS command subject %s subscribed", b.cover.Name(), b.CommandSubject)
	return nil
}

func (b *Bridge) Close() error {
	if b.sub == nil {
		return nil
	}

	return errors.Wrapf(b.sub.Unsubscribe(), "%s: NATS unsubscribe failed", b.cover.Name())
}

func (b *Bridge) handle(ctx context.Context, data []byte) error {
	var msg CommandMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return errors.Wrap(err, "invalid command message")
	}

	if msg.Position != nil {
		if msg.Command != "" {
			return errors.New("command and position are mutually exclusive")
		}
		return b.cover.SetPosition(ctx, *msg.Position)
	}

	switch msg.Command {
	case "open":
		return b.cover.Open(ctx)
	case "close":
		return b.cover.Close(ctx)
	case "stop":
		return b.cover.Stop(ctx)
	case "toggle":
		return b.cover.Toggle(ctx)
	case "press":
		return b.cover.Press(ctx)
	}

	return errors.Errorf("unsupported command %q", msg.Command)
}
