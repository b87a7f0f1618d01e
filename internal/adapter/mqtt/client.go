package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

type Options struct {
	BrokerURL string
	ClientID  string
}

// Client is a thin wrapper over the paho client.
type Client struct {
	raw pahomqtt.Client
}

func Connect(opts Options) (*Client, error) {
	o := pahomqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID(opts.ClientID)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(2 * time.Second)
	c := pahomqtt.NewClient(o)

	token := c.Connect()
	if !token.WaitTimeout(10*time.Second) {
		return nil, fmt.Errorf("connecting to mqtt broker %s: timed out", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker %s: %w", opts.BrokerURL, err)
	}
	return &Client{raw: c}, nil
}

func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	token := c.raw.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

func (c *Client) Close() {
	c.raw.Disconnect(250)
}
