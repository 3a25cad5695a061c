package main

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/garage2mqtt/internal/cover/driver/relay"
	"github.com/jkaflik/garage2mqtt/internal/cover/driver/toggle"
	"github.com/jkaflik/garage2mqtt/internal/cover/runner"
	"github.com/jkaflik/garage2mqtt/internal/endstop"
	"github.com/jkaflik/garage2mqtt/internal/mqtt"
	nats "github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
	"github.com/sirupsen/logrus"
	"github.com/stianeikeland/go-rpio"
	"go.bug.st/serial"
	"gopkg.in/yaml.v2"
)

const (
	defaultSwitchPulse         = 300 * time.Millisecond
	defaultSwitchPressInterval = time.Second
	defaultGpioChip            = "gpiochip0"
	defaultSerialBaudRate      = 9600
)

type cfgSwitchPin struct {
	Kind string `yaml:"kind"`

	// mcp23017 and rpio
	Pin      uint8 `yaml:"pin"`
	Mcp23017 int   `yaml:"mcp23017"`

	// gpiocdev
	Chip   string `yaml:"chip"`
	Offset int    `yaml:"offset"`

	// serial
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	Channel  uint8  `yaml:"channel"`
}

type cfgSwitch struct {
	Kind string `yaml:"kind"`

	Pulse        time.Duration `yaml:"pulse"`
	Pin          cfgSwitchPin  `yaml:"pin"`
	NormalClosed bool          `yaml:"normal_closed"`
}

type cfgEndstop struct {
	Kind string `yaml:"kind"`

	// gpiocdev
	Chip      string        `yaml:"chip"`
	Offset    int           `yaml:"offset"`
	ActiveLow bool          `yaml:"active_low"`
	Debounce  time.Duration `yaml:"debounce"`

	// fake
	State bool `yaml:"state"`
}

type cfgCoverMQTTBridge struct {
	Metadata map[string]interface{} `yaml:"metadata"`
	Device   struct {
		Manufacturer string `yaml:"manufacturer"`
		Model        string `yaml:"model"`
	} `yaml:"device"`
}

type cfgCover struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	Tick                time.Duration `yaml:"tick"`
	SwitchPressInterval time.Duration `yaml:"switch_press_interval"`
	OpenDuration        time.Duration `yaml:"open_duration"`
	CloseDuration       time.Duration `yaml:"close_duration"`
	SetupDelay          time.Duration `yaml:"setup_delay"`

	MQTTBridge cfgCoverMQTTBridge `yaml:"mqtt_bridge"`

	Switch       cfgSwitch  `yaml:"switch"`
	OpenEndstop  cfgEndstop `yaml:"open_endstop"`
	CloseEndstop cfgEndstop `yaml:"close_endstop"`
}

type cfgDrivers struct {
	Relay struct {
		Pool     int `yaml:"pool" default:"0"`
		Mcp23017 map[int]struct {
			Bus          uint8 `yaml:"bus" default:"1"`
			DeviceNumber uint8 `yaml:"device_number" default:"0"`
		} `yaml:"mcp23017"`
	} `yaml:"relay"`
}

type cfgMQTT struct {
	ClientID string `yaml:"client_id" default:"garage2mqtt" env:"CLIENT_ID"`
	Broker   string `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

type cfgNATS struct {
	Enabled       bool   `yaml:"enabled" default:"false" env:"ENABLED"`
	URL           string `yaml:"url" default:"nats://127.0.0.1:4222" env:"URL"`
	SubjectPrefix string `yaml:"subject_prefix" default:"garage2mqtt" env:"SUBJECT_PREFIX"`
}

type cfgHTTP struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

var Cfg struct {
	LogLevel string `yaml:"log_level" default:"info" env:"LOG_LEVEL"`

	MQTT cfgMQTT `yaml:"mqtt" env:"MQTT"`
	HASS cfgHASS `yaml:"hass" env:"HASS"`
	NATS cfgNATS `yaml:"nats" env:"NATS"`
	HTTP cfgHTTP `yaml:"http" env:"HTTP"`

	Covers []cfgCover `yaml:"covers"`

	Drivers cfgDrivers `yaml:"drivers"`
}

var configLoader = aconfig.LoaderFor(&Cfg, aconfig.Config{
	EnvPrefix: "G2M",
	SkipFiles: true,
	SkipFlags: true,
})

var relaysPool *relay.Pool

func loadConfigFromYamlFile(filename string) {
	f, err := os.Open(filename)
	if err != nil {
		logrus.Error(err)
		return
	}
	defer f.Close()

	if err := decodeConfig(f); err != nil {
		logrus.Fatalf("%s: %s", filename, err)
	}

	if Cfg.Drivers.Relay.Pool > 0 {
		relaysPool = relay.NewPool(Cfg.Drivers.Relay.Pool)
	}
}

func decodeConfig(r io.Reader) error {
	if err := yaml.NewDecoder(r).Decode(&Cfg); err != nil {
		return err
	}

	for i := range Cfg.Covers {
		applyCoverDefaults(&Cfg.Covers[i])
		if err := validateCover(Cfg.Covers[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateCover rejects a switch pulse that outlasts the press interval: the
// next press would find the relay still held and fail.
func validateCover(cfg cfgCover) error {
	if cfg.Switch.Pulse >= cfg.SwitchPressInterval {
		return errors.Errorf("%s: switch pulse %s must be shorter than switch_press_interval %s",
			cfg.Name, cfg.Switch.Pulse, cfg.SwitchPressInterval)
	}

	return nil
}

func applyCoverDefaults(cfg *cfgCover) {
	if cfg.Kind == "" {
		cfg.Kind = "single_control"
	}
	if cfg.Tick <= 0 {
		cfg.Tick = runner.DefaultTickInterval
	}
	if cfg.SwitchPressInterval <= 0 {
		cfg.SwitchPressInterval = defaultSwitchPressInterval
	}
	if cfg.Switch.Pulse <= 0 {
		cfg.Switch.Pulse = defaultSwitchPulse
	}
	if cfg.Switch.Pin.Chip == "" {
		cfg.Switch.Pin.Chip = defaultGpioChip
	}
	if cfg.Switch.Pin.BaudRate == 0 {
		cfg.Switch.Pin.BaudRate = defaultSerialBaudRate
	}
	for _, e := range []*cfgEndstop{&cfg.OpenEndstop, &cfg.CloseEndstop} {
		if e.Chip == "" {
			e.Chip = defaultGpioChip
		}
	}
}

func toggleConfigFromConfig(cfg cfgCover) toggle.Config {
	return toggle.Config{
		SwitchPressInterval: uint32(cfg.SwitchPressInterval.Milliseconds()),
		OpenDuration:        uint32(cfg.OpenDuration.Milliseconds()),
		CloseDuration:       uint32(cfg.CloseDuration.Milliseconds()),
		SetupDelay:          uint32(cfg.SetupDelay.Milliseconds()),
	}
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(Cfg.MQTT.ClientID).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(time.Second).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}

func natsOptsFromConfig() []nats.Option {
	return []nats.Option{
		nats.Name(Cfg.MQTT.ClientID),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logrus.Errorf("NATS connection lost: %s", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}
}

// devices collects what has to be released on shutdown.
type devices struct {
	mu         sync.Mutex
	closers    []io.Closer
	switches   []*relay.Momentary
	mcp23017   map[int]*mcp23017.Device
	serial     map[string]*serialPort
	rpioOpened bool
}

type serialPort struct {
	port serial.Port
	mu   sync.Mutex
}

func newDevices() *devices {
	return &devices{
		mcp23017: map[int]*mcp23017.Device{},
		serial:   map[string]*serialPort{},
	}
}

func (d *devices) addCloser(c io.Closer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closers = append(d.closers, c)
}

// Close waits for switch pulses in flight and releases every device.
func (d *devices) Close() {
	for _, sw := range d.switches {
		sw.Wait()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			logrus.Errorf("device close failed: %s", err)
		}
	}
	if d.rpioOpened {
		if err := rpio.Close(); err != nil {
			logrus.Errorf("rpio: close failed: %s", err)
		}
	}
}

func coversFromConfig(ctx context.Context, d *devices) (runners []*runner.Runner) {
	for _, cfg := range Cfg.Covers {
		runners = append(runners, coverFromConfig(ctx, d, cfg))
	}

	return runners
}

func coverFromConfig(ctx context.Context, d *devices, cfg cfgCover) *runner.Runner {
	if cfg.Kind != "single_control" {
		logrus.Fatalf("%s is not supported cover kind", cfg.Kind)
		return nil
	}
	if cfg.Name == "" {
		logrus.Fatal("cover name is required")
	}

	sw := switchFromConfig(ctx, d, cfg.Name, cfg.Switch)

	controller, err := toggle.New(cfg.Name, sw, toggleConfigFromConfig(cfg))
	if err != nil {
		logrus.Fatal(err)
	}

	open := endstopFromConfig(d, cfg.Name+" open endstop", cfg.OpenEndstop)
	closed := endstopFromConfig(d, cfg.Name+" close endstop", cfg.CloseEndstop)

	return runner.New(controller, open, closed, runner.WithTickInterval(cfg.Tick))
}

func mqttBridgesFromConfig(client paho.Client, runners []*runner.Runner) (bridges []*mqtt.Bridge) {
	for i, r := range runners {
		bridge, err := mqtt.NewBridge(client, r)
		if err != nil {
			logrus.Fatal(err)
			continue
		}
		bridge.Device = mqtt.HADevice{
			Manufacturer: Cfg.Covers[i].MQTTBridge.Device.Manufacturer,
			Model:        Cfg.Covers[i].MQTTBridge.Device.Model,
		}
		if err := bridge.SetMetadata(Cfg.Covers[i].MQTTBridge.Metadata); err != nil {
			logrus.Fatal(err)
			continue
		}
		bridges = append(bridges, bridge)
	}

	return bridges
}

func switchFromConfig(ctx context.Context, d *devices, name string, cfg cfgSwitch) *relay.Momentary {
	sw := relay.NewMomentary(ctx, name, relayFromConfig(d, name, cfg), cfg.Pulse)
	d.switches = append(d.switches, sw)

	return sw
}

func relayFromConfig(d *devices, name string, cfg cfgSwitch) relay.Relay {
	if cfg.Kind == "wired" {
		wired := &relay.Wired{
			Pin:          wiredRelaySetPinFromConfig(d, cfg.Pin, cfg.NormalClosed),
			NormalClosed: cfg.NormalClosed,
		}
		if err := wired.Release(); err != nil {
			logrus.Fatalf("%s: switch release failed: %s", name, err)
		}
		return wrapRelayWithPool(wired)
	}

	if cfg.Kind == "dumb" {
		return wrapRelayWithPool(&relay.Dumb{Name: name})
	}

	logrus.Fatalf("%s is not supported relay kind", cfg.Kind)
	return nil
}

func wrapRelayWithPool(r relay.Relay) relay.Relay {
	if relaysPool == nil {
		return r
	}

	return relaysPool.Wrap(r)
}

// wiredRelaySetPinFromConfig requests the pin at its disabled level.
func wiredRelaySetPinFromConfig(d *devices, cfg cfgSwitchPin, normalClosed bool) relay.SetPin {
	switch cfg.Kind {
	case "mcp23017":
		device := mcp23017DeviceFromConfigByID(d, cfg.Mcp23017)

		p, err := relay.NewMcp23017Pin(device, cfg.Pin)
		if err != nil {
			logrus.Fatal(err)
		}
		return p
	case "gpiocdev":
		initial := 1
		if normalClosed {
			initial = 0
		}
		p, err := relay.NewGpiocdevPin(cfg.Chip, cfg.Offset, initial)
		if err != nil {
			logrus.Fatal(err)
		}
		d.addCloser(p)
		return p
	case "rpio":
		if !d.rpioOpened {
			if err := rpio.Open(); err != nil {
				logrus.Fatalf("rpio: open failed: %s", err)
			}
			d.rpioOpened = true
		}
		return relay.NewRpioPin(cfg.Pin, !normalClosed)
	case "serial":
		port := serialPortFromConfig(d, cfg)
		return relay.NewSerialPin(port.port, &port.mu, cfg.Channel)
	}

	logrus.Fatalf("%s is not supported wired relay set pin kind", cfg.Kind)
	return nil
}

func serialPortFromConfig(d *devices, cfg cfgSwitchPin) *serialPort {
	if p, found := d.serial[cfg.Port]; found {
		return p
	}

	port, err := relay.OpenSerialPort(cfg.Port, cfg.BaudRate)
	if err != nil {
		logrus.Fatal(err)
	}
	d.addCloser(port)

	p := &serialPort{port: port}
	d.serial[cfg.Port] = p
	return p
}

func mcp23017DeviceFromConfigByID(d *devices, id int) *mcp23017.Device {
	if Cfg.Drivers.Relay.Mcp23017 == nil {
		logrus.Fatal("drivers.relay.mcp23017 not defined")
	}

	cfg, found := Cfg.Drivers.Relay.Mcp23017[id]
	if !found {
		logrus.Fatalf("%d is not valid defined drivers.relay.mcp23017", id)
		return nil
	}

	dev := d.mcp23017[id]
	if dev == nil {
		var err error
		dev, err = mcp23017.Open(cfg.Bus, cfg.DeviceNumber)
		if err != nil {
			logrus.Fatal(err)
		}
		if err := dev.Reset(); err != nil {
			logrus.Fatal(err)
		}
		d.addCloser(mcp23017Closer{dev})

		d.mcp23017[id] = dev
	}

	return dev
}

type mcp23017Closer struct {
	dev *mcp23017.Device
}

func (c mcp23017Closer) Close() error {
	if err := c.dev.Close(); err != nil {
		return err
	}

	logrus.Infof("mcp23017: close")
	return nil
}

// endstopFromConfig returns nil when the cover has no such endstop.
func endstopFromConfig(d *devices, name string, cfg cfgEndstop) endstop.Sensor {
	switch cfg.Kind {
	case "":
		return nil
	case "fake":
		return endstop.NewFake(cfg.State)
	case "gpiocdev":
		line, err := endstop.NewLine(name, cfg.Chip, cfg.Offset, cfg.ActiveLow, cfg.Debounce)
		if err != nil {
			logrus.Fatal(err)
		}
		d.addCloser(line)
		return line
	}

	logrus.Fatalf("%s is not supported endstop kind", cfg.Kind)
	return nil
}
