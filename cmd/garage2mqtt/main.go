package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/garage2mqtt/internal/cover/runner"
	"github.com/jkaflik/garage2mqtt/internal/mqtt"
	gnats "github.com/jkaflik/garage2mqtt/internal/nats"
	"github.com/jkaflik/garage2mqtt/internal/status"
	"github.com/jkaflik/garage2mqtt/internal/web"
	nats "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})

	configPath := flag.String("config", "config.yaml", "config.yaml file path")
	flag.Parse()

	if err := configLoader.Load(); err != nil {
		logrus.Fatal(err)
	}
	loadConfigFromYamlFile(*configPath)

	level, err := logrus.ParseLevel(Cfg.LogLevel)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	devs := newDevices()
	defer devs.Close()

	runners := coversFromConfig(ctx, devs)
	if len(runners) == 0 {
		logrus.Fatal("no covers configured")
	}

	tracker := status.NewTracker()
	for _, r := range runners {
		tracker.Track(r)
	}

	var (
		bridgesMu sync.Mutex
		bridges   []*mqtt.Bridge
	)
	cfg := pahoOptsFromConfig()
	cfg.OnConnect = func(m paho.Client) {
		logrus.Info("MQTT broker connected")

		bridgesMu.Lock()
		defer bridgesMu.Unlock()
		subscribe(ctx, m, bridges)
	}
	cfg.OnConnectionLost = func(_ paho.Client, err error) {
		logrus.Errorf("MQTT broker connection lost: %s", err.Error())
	}

	m := paho.NewClient(cfg)
	if token := m.Connect(); token.Wait() && token.Error() != nil {
		logrus.Fatal(token.Error())
	}
	defer m.Disconnect(250)

	bridgesMu.Lock()
	bridges = mqttBridgesFromConfig(m, runners)
	subscribe(ctx, m, bridges)
	bridgesMu.Unlock()

	if Cfg.NATS.Enabled {
		nc, err := nats.Connect(Cfg.NATS.URL, natsOptsFromConfig()...)
		if err != nil {
			logrus.Fatalf("NATS connect failed: %s", err)
		}
		defer nc.Close()
		logrus.Infof("NATS connected to %s", Cfg.NATS.URL)

		for _, r := range runners {
			b := gnats.NewBridge(nc, r, Cfg.NATS.SubjectPrefix)
			if err := b.Subscribe(ctx); err != nil {
				logrus.Fatal(err)
			}
			defer b.Close()
		}
	}

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *runner.Runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				logrus.Error(err)
				cancel()
			}
		}(r)
	}

	if Cfg.HTTP.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := web.NewServer(Cfg.HTTP.Addr, tracker).Run(ctx); err != nil {
				logrus.Error(err)
			}
		}()
	}

	<-ctx.Done()
	logrus.Info("shutting down")

	wg.Wait()

	bridgesMu.Lock()
	for _, bridge := range bridges {
		if err := bridge.Unsubscribe(); err != nil {
			logrus.Error(err)
		}
	}
	bridgesMu.Unlock()
}

func subscribe(ctx context.Context, m paho.Client, bridges []*mqtt.Bridge) {
	for _, bridge := range bridges {
		if Cfg.HASS.Enabled {
			entity := mqtt.NewHACoverFromMQTTBridge(bridge)
			if err := mqtt.PublishHAAutoDiscovery(m, Cfg.HASS.TopicPrefix, entity); err != nil {
				logrus.Error(err)
			}
		}

		if err := bridge.Subscribe(ctx); err != nil {
			logrus.Error(err)
		}
	}
}
