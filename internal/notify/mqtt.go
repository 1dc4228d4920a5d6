package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/zsiec/camview/internal/config"
	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/metrics"
	"github.com/zsiec/camview/internal/player"
)

const publishTimeout = 2 * time.Second

// DialMQTT connects to the configured broker. The client reconnects on its
// own after the first connection succeeds.
func DialMQTT(cfg config.MQTTConfig, log logger.Logger) (mqtt.Client, error) {
	log = logger.WithComponent(logger.OrNull(log), "mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)

	opts.OnConnect = func(mqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("MQTT connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).WithField("broker", cfg.Broker).Warn("MQTT connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

// MQTTObserver publishes events as JSON on <prefix>/<session>/events.
// OnEvent only queues; a worker goroutine publishes in order and drops
// events when the queue is full.
type MQTTObserver struct {
	client mqtt.Client
	prefix string
	qos    byte
	logger logger.Logger

	queue  chan player.Event
	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	published *metrics.Counter
	dropped   *metrics.Counter
	failed    *metrics.Counter
}

func NewMQTTObserver(client mqtt.Client, prefix string, qos byte, queueSize int, log logger.Logger) *MQTTObserver {
	if queueSize <= 0 {
		queueSize = 256
	}
	o := &MQTTObserver{
		client:    client,
		prefix:    prefix,
		qos:       qos,
		logger:    logger.WithComponent(logger.OrNull(log), "mqtt"),
		queue:     make(chan player.Event, queueSize),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		published: metrics.NewCounter("notify_mqtt_published_total", nil),
		dropped:   metrics.NewCounter("notify_mqtt_dropped_total", nil),
		failed:    metrics.NewCounter("notify_mqtt_failed_total", nil),
	}
	go o.run()
	return o
}

// Topic returns the topic events of session are published on.
func (o *MQTTObserver) Topic(session string) string {
	return fmt.Sprintf("%s/%s/events", o.prefix, session)
}

func (o *MQTTObserver) OnEvent(e player.Event) {
	select {
	case <-o.done:
		return
	default:
	}

	select {
	case o.queue <- e:
	default:
		o.dropped.Inc()
	}
}

func (o *MQTTObserver) run() {
	metrics.IncrementGoroutineCreated("mqtt")
	defer metrics.IncrementGoroutineDestroyed("mqtt")
	defer close(o.exited)

	for {
		select {
		case e := <-o.queue:
			o.publish(e)
		case <-o.done:
			// flush what was queued before Close
			for {
				select {
				case e := <-o.queue:
					o.publish(e)
				default:
					return
				}
			}
		}
	}
}

func (o *MQTTObserver) publish(e player.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		o.failed.Inc()
		o.logger.WithError(err).Error("Failed to marshal event")
		return
	}

	token := o.client.Publish(o.Topic(e.Session), o.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		o.failed.Inc()
		o.logger.WithField("event", string(e.Type)).Warn("MQTT publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		o.failed.Inc()
		o.logger.WithError(err).WithField("event", string(e.Type)).Warn("MQTT publish failed")
		return
	}
	o.published.Inc()
}

// Close stops the worker after it has published the queued events, then
// disconnects the client.
func (o *MQTTObserver) Close() {
	o.once.Do(func() {
		close(o.done)
		<-o.exited
		if o.client.IsConnected() {
			o.client.Disconnect(250)
		}
	})
}
