package relay

import (
	"context"
	"errors"
	"testing"

	"NeuroVault/internal/event"

	amqp "github.com/rabbitmq/amqp091-go"
)

type closedChannel struct{ closes int }

func (c *closedChannel) PublishWithDeferredConfirmWithContext(context.Context, string, string, bool, bool, amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	return nil, amqp.ErrClosed
}

func (c *closedChannel) Close() error { c.closes++; return nil }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type fakeDialer struct {
	dials    int
	sessions []*amqpSession
	closers  []chan *amqp.Error
}

func (d *fakeDialer) dial(string, string) (*amqpSession, error) {
	d.dials++
	closed := make(chan *amqp.Error, 1)
	sess := &amqpSession{conn: nopCloser{}, ch: &closedChannel{}, connClosed: closed, chanClosed: make(chan *amqp.Error, 1)}
	d.sessions = append(d.sessions, sess)
	d.closers = append(d.closers, closed)
	return sess, nil
}

func TestAMQPSinkRedialsAfterConnectionClose(t *testing.T) {
	d := &fakeDialer{}
	s, err := newAMQPSink("amqp://test", "", d.dial)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.exchange != AMQPExchange {
		t.Errorf("exchange: got %s, want %s", s.exchange, AMQPExchange)
	}

	close(d.closers[0])
	if _, err := s.session(); err != nil {
		t.Fatalf("session: %v", err)
	}
	if d.dials != 2 {
		t.Errorf("dials: got %d, want 2 after connection close", d.dials)
	}
	if got := d.sessions[0].ch.(*closedChannel).closes; got != 1 {
		t.Errorf("old channel closes: got %d, want 1", got)
	}

	// A live session is reused.
	if _, err := s.session(); err != nil {
		t.Fatalf("session: %v", err)
	}
	if d.dials != 2 {
		t.Errorf("dials: got %d, want 2 while session is live", d.dials)
	}
}

func TestAMQPSinkDropsSessionOnClosedPublish(t *testing.T) {
	d := &fakeDialer{}
	s, err := newAMQPSink("amqp://test", "vault.events", d.dial)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	env := event.Envelope{Sequence: 1}
	if err := s.Publish(context.Background(), env); !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("publish: got %v, want ErrClosed", err)
	}
	if s.sess != nil {
		t.Fatal("closed session kept after failed publish")
	}

	s.Publish(context.Background(), env)
	if d.dials != 2 {
		t.Errorf("dials: got %d, want 2 after redial", d.dials)
	}
}

func TestAMQPSinkReportsDialFailure(t *testing.T) {
	calls := 0
	dial := func(string, string) (*amqpSession, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("connection refused")
		}
		closed := make(chan *amqp.Error)
		close(closed)
		return &amqpSession{conn: nopCloser{}, ch: &closedChannel{}, connClosed: closed, chanClosed: closed}, nil
	}
	s, err := newAMQPSink("amqp://test", "", dial)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.session(); err == nil {
		t.Fatal("got nil, want reconnect error")
	}
}
