// Package fanout relays push envelopes between process instances over an
// AMQP fanout exchange. The in-process connection registry only knows about
// sockets accepted locally, so in a horizontally scaled deployment every
// push is published to the exchange and each instance, including the
// publisher, delivers envelopes from its own queue to its local registry.
package fanout

import (
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// LocalPusher is the in-process delivery target, normally the hub.
type LocalPusher interface {
	PushToUser(userID uint, event string, data interface{})
	Broadcast(event string, data interface{})
	IsConnected(userID uint) bool
}

// envelope is the wire form of one push. UserID zero means broadcast.
type envelope struct {
	UserID uint            `json:"user_id,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// AMQPFanout satisfies the orchestrator's pusher port by publishing every
// push to the exchange instead of delivering it directly.
type AMQPFanout struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	local    LocalPusher
}

// NewAMQPFanout connects to the broker, declares the fanout exchange, binds
// an exclusive queue for this instance and starts the delivery loop.
func NewAMQPFanout(uri, exchange string, local LocalPusher) (*AMQPFanout, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to AMQP broker")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "unable to open AMQP channel")
	}

	if err := channel.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "unable to declare exchange")
	}

	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "unable to declare instance queue")
	}
	if err := channel.QueueBind(queue.Name, "", exchange, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "unable to bind instance queue")
	}

	deliveries, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "unable to start consuming")
	}

	f := &AMQPFanout{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		local:    local,
	}
	go f.deliverLoop(deliveries)
	return f, nil
}

func (f *AMQPFanout) deliverLoop(deliveries <-chan amqp.Delivery) {
	for delivery := range deliveries {
		var env envelope
		if err := json.Unmarshal(delivery.Body, &env); err != nil {
			log.WithField("error", err).Warn("discarding malformed push envelope")
			continue
		}

		var data interface{}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			log.WithField("error", err).Warn("discarding push envelope with malformed data")
			continue
		}

		if env.UserID == 0 {
			f.local.Broadcast(env.Event, data)
			continue
		}
		f.local.PushToUser(env.UserID, env.Event, data)
	}
	log.Info("AMQP delivery loop stopped")
}

func (f *AMQPFanout) publish(env envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		log.WithField("error", err).Error("unable to marshal push envelope")
		return
	}
	err = f.channel.Publish(f.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		log.WithFields(log.Fields{"event": env.Event, "error": err}).
			Error("unable to publish push envelope")
	}
}

// PushToUser publishes a user-targeted push to every instance.
func (f *AMQPFanout) PushToUser(userID uint, event string, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		log.WithField("error", err).Error("unable to marshal push data")
		return
	}
	f.publish(envelope{UserID: userID, Event: event, Data: body})
}

// Broadcast publishes an untargeted push to every instance.
func (f *AMQPFanout) Broadcast(event string, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		log.WithField("error", err).Error("unable to marshal push data")
		return
	}
	f.publish(envelope{Event: event, Data: body})
}

// IsConnected reports whether a push could plausibly reach the user. With a
// broker in front, connection state is distributed across instances, so any
// healthy broker connection counts as reachable and the per-instance hubs
// make the final delivery decision.
func (f *AMQPFanout) IsConnected(userID uint) bool {
	if f.local.IsConnected(userID) {
		return true
	}
	return !f.conn.IsClosed()
}

// Close tears down the broker connection.
func (f *AMQPFanout) Close() error {
	return f.conn.Close()
}
