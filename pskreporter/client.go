// Package pskreporter streams remote reception reports from the PSKReporter
// MQTT service.
//
// PSKReporter publishes real-time digital mode spots over MQTT on filtered
// topics such as pskr/filter/v2/{band}/{mode}/#. Each message is a compact
// JSON object describing one reception: who heard whom, where, how loud.
// Spots serve two purposes here: frequencies reported near the operator's
// dial become remote interference for the spectral map, and reports where
// the receiver is the current target reveal target-side competition and
// path status.
package pskreporter

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Spot is one reception report: sender was heard by receiver at freq with
// the given SNR.
type Spot struct {
	Sender       string
	Receiver     string
	FreqHz       int64 // absolute RF frequency
	SNR          int
	SenderGrid   string
	ReceiverGrid string
	Band         string
	Mode         string
	Time         time.Time
}

// wireMessage maps PSKReporter's abbreviated JSON field names.
type wireMessage struct {
	SequenceNumber  uint64 `json:"sq"`
	Frequency       int64  `json:"f"` // Hz
	Mode            string `json:"md"`
	Report          int    `json:"rp"` // SNR in dB
	Timestamp       int64  `json:"t"`  // Unix seconds
	SenderCall      string `json:"sc"`
	SenderLocator   string `json:"sl"`
	ReceiverCall    string `json:"rc"`
	ReceiverLocator string `json:"rl"`
	SenderCountry   int    `json:"sa"`
	ReceiverCountry int    `json:"ra"`
	Band            string `json:"b"`
}

// Client maintains a persistent MQTT subscription and emits parsed spots on
// a buffered channel. The Paho library handles reconnection; message
// callbacks run on its goroutines, so the channel send is non-blocking.
type Client struct {
	broker   string
	port     int
	topic    string
	client   mqtt.Client
	spotChan chan Spot
	dropped  uint64
}

// NewClient prepares a client for the given broker and topic filter, e.g.
// "pskr/filter/v2/+/FT8/#" for all FT8 spots.
func NewClient(broker string, port int, topic string) *Client {
	return &Client{
		broker:   broker,
		port:     port,
		topic:    topic,
		spotChan: make(chan Spot, 1000),
	}
}

// Connect dials the broker and subscribes. Reconnects automatically with a
// capped backoff after connection loss.
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.broker, c.port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("qsointel-%d", time.Now().Unix()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)

	log.Printf("PSKReporter: connecting to %s...", brokerURL)
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("pskreporter: connect: %w", token.Error())
	}
	return nil
}

// onConnect resubscribes on every (re)connection.
func (c *Client) onConnect(client mqtt.Client) {
	log.Printf("PSKReporter: connected, subscribing to %s", c.topic)
	token := client.Subscribe(c.topic, 0, c.messageHandler)
	if token.Wait() && token.Error() != nil {
		log.Printf("PSKReporter: subscribe failed: %v", token.Error())
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("PSKReporter: connection lost: %v, reconnecting", err)
}

func (c *Client) messageHandler(client mqtt.Client, msg mqtt.Message) {
	spot, ok := ParsePayload(msg.Payload())
	if !ok {
		return
	}
	select {
	case c.spotChan <- spot:
	default:
		c.dropped++
		if c.dropped%1000 == 1 {
			log.Printf("PSKReporter: spot channel full, dropped %d total", c.dropped)
		}
	}
}

// ParsePayload decodes one MQTT payload into a Spot. Messages missing the
// sender, receiver, or frequency are rejected.
func ParsePayload(payload []byte) (Spot, bool) {
	var m wireMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return Spot{}, false
	}
	if m.SenderCall == "" || m.ReceiverCall == "" || m.Frequency == 0 {
		return Spot{}, false
	}
	return Spot{
		Sender:       m.SenderCall,
		Receiver:     m.ReceiverCall,
		FreqHz:       m.Frequency,
		SNR:          m.Report,
		SenderGrid:   m.SenderLocator,
		ReceiverGrid: m.ReceiverLocator,
		Band:         m.Band,
		Mode:         m.Mode,
		Time:         time.Unix(m.Timestamp, 0),
	}, true
}

// Spots returns the channel of parsed reception reports.
func (c *Client) Spots() <-chan Spot {
	return c.spotChan
}

// IsConnected reports the MQTT connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Stop unsubscribes and disconnects.
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Unsubscribe(c.topic)
		c.client.Disconnect(250)
	}
	log.Println("PSKReporter: client stopped")
}
