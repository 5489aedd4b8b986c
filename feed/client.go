package feed

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gripview/internal/ratelimit"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultMaxPayloadBytes = 256 * 1024

// Options configures the MQTT report feed.
type Options struct {
	Broker          string
	Port            int
	ClientID        string
	QoS             byte
	MaxPayloadBytes int
}

// Client subscribes to <root>/+/+ and stores every decoded array in the Tree.
//
// Thread Safety:
//   - paho delivers messages on its own goroutines; Tree is safe for that.
//   - Reconnects are handled by paho; the subscription is renewed in onConnect.
type Client struct {
	opts   Options
	tree   *Tree
	topic  string
	client mqtt.Client
	drops  *ratelimit.Counter
}

// NewClient builds a feed client that writes into tree.
func NewClient(opts Options, tree *Tree) *Client {
	if opts.Port <= 0 {
		opts.Port = 1883
	}
	if strings.TrimSpace(opts.ClientID) == "" {
		opts.ClientID = fmt.Sprintf("gripview-%d", time.Now().Unix())
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = defaultMaxPayloadBytes
	}
	return &Client{
		opts:  opts,
		tree:  tree,
		topic: TopicFilter(tree.Root()),
		drops: ratelimit.NewCounter(5 * time.Second),
	}
}

// Connect dials the broker and subscribes once the session is up.
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.opts.Broker, c.opts.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.opts.ClientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)
	log.Printf("Feed: connecting to %s", brokerURL)
	token := c.client.Connect()
	if !token.WaitTimeout(15*time.Second) {
		log.Printf("Feed: broker %s not reachable yet; retrying in background", brokerURL)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("feed: connect %s: %w", brokerURL, err)
	}
	return nil
}

func (c *Client) onConnect(client mqtt.Client) {
	log.Printf("Feed: connected, subscribing to %s", c.topic)
	token := client.Subscribe(c.topic, c.opts.QoS, c.messageHandler)
	if token.Wait() && token.Error() != nil {
		log.Printf("Feed: subscribe %s failed: %v", c.topic, token.Error())
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("Feed: connection lost: %v", err)
}

func (c *Client) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	if err := c.ingest(msg.Topic(), msg.Payload()); err != nil {
		if skipped, ok := c.drops.Inc(); ok {
			log.Printf("Feed: dropping %s: %v (%d earlier drops not shown)", msg.Topic(), err, skipped)
		}
	}
}

// Purpose: Decode one topic/payload pair into the tree.
// Key aspects: Oversized and malformed payloads are rejected without touching
// existing values.
// Upstream: messageHandler, tests.
// Downstream: ParseTopic, DecodeArray, Tree.Put.
func (c *Client) ingest(topic string, payload []byte) error {
	if len(payload) > c.opts.MaxPayloadBytes {
		return fmt.Errorf("payload too large (%d bytes)", len(payload))
	}
	key, field, ok := ParseTopic(c.tree.Root(), topic)
	if !ok {
		return errors.New("unexpected topic layout")
	}
	values, err := DecodeArray(payload)
	if err != nil {
		return err
	}
	c.tree.Put(key, field, values)
	return nil
}

// Dropped returns how many messages were rejected.
func (c *Client) Dropped() uint64 {
	return c.drops.Total()
}

// IsConnected reports whether the broker session is up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Stop unsubscribes and disconnects.
func (c *Client) Stop() {
	if c.client == nil {
		return
	}
	if c.client.IsConnected() {
		c.client.Unsubscribe(c.topic)
	}
	c.client.Disconnect(250)
	log.Println("Feed: stopped")
}

// TopicFilter returns the subscription filter for all report fields under root.
func TopicFilter(root string) string {
	return strings.Trim(root, "/") + "/+/+"
}

// Topic returns the topic carrying one report field.
func Topic(root, key, field string) string {
	return strings.Trim(root, "/") + "/" + key + "/" + field
}

// ParseTopic splits <root>/<key>/<field>.
func ParseTopic(root, topic string) (key, field string, ok bool) {
	prefix := strings.Trim(root, "/") + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(topic, prefix), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// DecodeArray accepts a JSON number array or a single JSON number.
func DecodeArray(payload []byte) ([]float64, error) {
	var values []float64
	if err := json.Unmarshal(payload, &values); err == nil {
		if values == nil {
			values = []float64{}
		}
		return values, nil
	}
	var single float64
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil, fmt.Errorf("not a number array: %w", err)
	}
	return []float64{single}, nil
}

// EncodeArray is the inverse of DecodeArray for publishers.
func EncodeArray(values []float64) ([]byte, error) {
	if values == nil {
		values = []float64{}
	}
	return json.Marshal(values)
}
