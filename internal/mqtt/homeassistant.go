package mqtt

import (
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/garage2mqtt/internal/cover"
)

type haDevice struct {
	Identifiers  []string `json:"ids,omitempty"`
	Manufacturer string   `json:"mf,omitempty"`
	Model        string   `json:"mdl,omitempty"`
	Name         string   `json:"name,omitempty"`
	SWVersion    string   `json:"sw,omitempty"`
}

type haEntity struct {
	AvailabilityTopic string `json:"avty_t,omitempty"`
	UniqueID          string `json:"uniq_id,omitempty"`
	Name              string `json:"name,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`

	Device haDevice `json:"device,omitempty"`
}

type haCover struct {
	haEntity
	StateTopic          string `json:"stat_t"`
	CommandTopic        string `json:"cmd_t"`
	PositionTopic       string `json:"pos_t"`
	SetPositionTopic    string `json:"set_pos_t"`
	JSONAttributesTopic string `json:"json_attr_t,omitempty"`
	PositionOpen        int    `json:"pos_open"`
	PositionClosed      int    `json:"pos_clsd"`
	PayloadOpen         string `json:"pl_open"`
	PayloadStop         string `json:"pl_stop"`
	PayloadClose        string `json:"pl_cls"`
	StateOpen           string `json:"stat_open"`
	StateOpening        string `json:"stat_opening"`
	StateClosed         string `json:"stat_clsd"`
	StateClosing        string `json:"stat_closing"`
	StateStopped        string `json:"stat_stopped"`
}

// HADevice describes the door hardware in the discovery payload.
type HADevice struct {
	Manufacturer string
	Model        string
}

func NewHACoverFromMQTTBridge(bridge *Bridge) haCover {
	name := bridge.cover.Name()

	return haCover{
		haEntity: haEntity{
			UniqueID:    fmt.Sprintf("%s_%s", TopicPrefix, name),
			Name:        name,
			DeviceClass: "garage",

			Device: haDevice{
				Identifiers:  []string{fmt.Sprintf("%s_%s", TopicPrefix, name)},
				Manufacturer: bridge.Device.Manufacturer,
				Model:        bridge.Device.Model,
				Name:         name,
				SWVersion:    TopicPrefix,
			},
		},
		StateTopic:          bridge.StateTopic,
		CommandTopic:        bridge.CommandTopic,
		PositionTopic:       bridge.PositionTopic,
		SetPositionTopic:    bridge.PositionChangeTopic,
		JSONAttributesTopic: bridge.AttributesTopic,
		PositionOpen:        percentOpen,
		PositionClosed:      percentClosed,
		PayloadOpen:         mqttOpenCmd,
		PayloadStop:         mqttStopCmd,
		PayloadClose:        mqttCloseCmd,
		StateOpen:           cover.CoverOpenState,
		StateOpening:        cover.CoverOpeningState,
		StateClosed:         cover.CoverClosedState,
		StateClosing:        cover.CoverClosingState,
		StateStopped:        cover.CoverStoppedState,
	}
}

func PublishHAAutoDiscovery(client paho.Client, homeAssistantDiscoveryTopicPrefix string, haCover haCover) error {
	topic := fmt.Sprintf("%s/cover/%s/%s/config", homeAssistantDiscoveryTopicPrefix, TopicPrefix, haCover.Name)

	payload, err := json.Marshal(haCover)
	if err != nil {
		return err
	}

	if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	return nil
}
