package redisnotify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/Overland-East-Bay/carpool-api/internal/adapters/notify/redisnotify"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

type fakeClient struct {
	channel string
	message any
	err     error
}

func (c *fakeClient) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	c.channel, c.message = channel, message
	if c.err != nil {
		return redis.NewIntResult(0, c.err)
	}
	return redis.NewIntResult(1, nil)
}

func TestPublisher_Publish(t *testing.T) {
	t.Parallel()

	c := &fakeClient{}
	p := redisnotify.NewPublisher(c, "carpool.events")
	ev := domain.CascadeEvent{Type: domain.CascadeEventTripWithdrawn, PassengerID: "p1", BookingID: "b1", TripOfferID: "o1", OutingID: "x"}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if c.channel != "carpool.events" {
		t.Fatalf("channel=%q", c.channel)
	}
	body, ok := c.message.([]byte)
	if !ok {
		t.Fatalf("message type=%T, want []byte", c.message)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["eventType"] != "TRIP_WITHDRAWN" || decoded["passengerId"] != "p1" {
		t.Fatalf("payload=%v", decoded)
	}
}

func TestPublisher_PublishError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	p := redisnotify.NewPublisher(&fakeClient{err: boom}, "carpool.events")
	if err := p.Publish(context.Background(), domain.CascadeEvent{}); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want wrapped %v", err, boom)
	}
}
