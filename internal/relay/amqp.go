package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"NeuroVault/internal/event"

	amqp "github.com/rabbitmq/amqp091-go"
)

const AMQPExchange = "vault.events"

type amqpChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// amqpSession is one connection and its confirm-mode channel. Either side
// closing ends the session.
type amqpSession struct {
	conn       io.Closer
	ch         amqpChannel
	connClosed <-chan *amqp.Error
	chanClosed <-chan *amqp.Error
}

func (s *amqpSession) dead() bool {
	select {
	case <-s.connClosed:
		return true
	case <-s.chanClosed:
		return true
	default:
		return false
	}
}

func (s *amqpSession) close() {
	_ = s.ch.Close()
	_ = s.conn.Close()
}

type amqpDialer func(url, exchange string) (*amqpSession, error)

// AMQPSink publishes to a durable topic exchange with the event topic as
// routing key, in publisher-confirm mode. A closed connection or channel is
// re-dialed on the next Publish.
type AMQPSink struct {
	url      string
	exchange string
	dial     amqpDialer

	mu   sync.Mutex
	sess *amqpSession
}

func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	return newAMQPSink(url, exchange, dialAMQP)
}

func newAMQPSink(url, exchange string, dial amqpDialer) (*AMQPSink, error) {
	if exchange == "" {
		exchange = AMQPExchange
	}
	sess, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}
	return &AMQPSink{url: url, exchange: exchange, dial: dial, sess: sess}, nil
}

func dialAMQP(url, exchange string) (*amqpSession, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}
	return &amqpSession{
		conn:       conn,
		ch:         ch,
		connClosed: conn.NotifyClose(make(chan *amqp.Error, 1)),
		chanClosed: ch.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

// session returns the live session, dialing a new one if the last closed.
func (s *AMQPSink) session() (*amqpSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess != nil && !s.sess.dead() {
		return s.sess, nil
	}
	if s.sess != nil {
		s.sess.close()
		s.sess = nil
	}
	sess, err := s.dial(s.url, s.exchange)
	if err != nil {
		return nil, fmt.Errorf("amqp reconnect: %w", err)
	}
	s.sess = sess
	return sess, nil
}

func (s *AMQPSink) drop(sess *amqpSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == sess {
		sess.close()
		s.sess = nil
	}
}

func (s *AMQPSink) Publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	sess, err := s.session()
	if err != nil {
		return err
	}

	confirm, err := sess.ch.PublishWithDeferredConfirmWithContext(ctx, s.exchange, env.Topic(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID.String(),
		Timestamp:    env.Timestamp,
		Type:         env.Topic(),
		Body:         data,
	})
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			s.drop(sess)
		}
		return fmt.Errorf("amqp publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("amqp: broker nacked sequence %d", env.Sequence)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		s.sess.close()
		s.sess = nil
	}
	return nil
}
