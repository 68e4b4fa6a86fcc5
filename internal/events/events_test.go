package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("sink down") }
func (failingPublisher) Close() error                         { return nil }

func TestRedisPublisher(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, DefaultRedisChannel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client, "")
	require.NoError(t, pub.Publish(ctx, Event{ID: "e1", Type: AdPublished, AdID: "a1", ToState: "published"}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, AdPublished, got.Type)
	assert.Equal(t, "a1", got.AdID)
}

func TestEmitFillsDefaultsAndSwallowsErrors(t *testing.T) {
	rec := &Recorder{}
	Emit(context.Background(), Fanout{rec, failingPublisher{}}, zap.NewNop(), Event{Type: ReportFiled, ReportID: "r1"})

	evs := rec.Events()
	require.Len(t, evs, 1)
	assert.NotEmpty(t, evs[0].ID)
	assert.WithinDuration(t, time.Now(), evs[0].OccurredAt, time.Minute)

	// nil publisher is allowed
	Emit(context.Background(), nil, zap.NewNop(), Event{Type: ReportFiled})
}

func TestFanoutJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	err := Fanout{rec, failingPublisher{}, Noop{}}.Publish(context.Background(), Event{Type: AdHidden})
	assert.ErrorContains(t, err, "sink down")
	assert.Equal(t, 1, rec.Count(AdHidden))
}

func TestNATSSubject(t *testing.T) {
	p := NewNATSPublisher(nil, "adgallery.lifecycle")
	assert.Equal(t, "adgallery.lifecycle.ad.published", p.Subject(AdPublished))
	assert.Equal(t, "report.filed", NewNATSPublisher(nil, "").Subject(ReportFiled))
}
