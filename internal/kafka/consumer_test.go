package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx context.Context

	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) GenerationID() int32      { return 1 }
func (s *fakeSession) Claims() map[string][]int32 {
	return map[string][]int32{"commands": {0}}
}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *fakeSession) offsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaimMarksOnlyAckedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Message)
	h := &consumerGroupHandler{messages: out, closed: make(chan struct{}), logger: zaptest.NewLogger(t)}
	sess := &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 7, Value: []byte("first")}
	claim.messages <- &sarama.ConsumerMessage{Offset: 8, Value: []byte("second")}
	close(claim.messages)

	require.NoError(t, h.Setup(sess))
	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(sess, claim) }()

	first := <-out
	assert.Equal(t, "first", string(first.Value))
	first.Ack()

	second := <-out
	assert.Equal(t, "second", string(second.Value))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after the claim closed")
	}
	assert.Equal(t, []int64{7}, sess.offsets())
	require.NoError(t, h.Cleanup(sess))
}

func TestConsumeClaimStopsOnClose(t *testing.T) {
	closed := make(chan struct{})
	h := &consumerGroupHandler{messages: make(chan Message), closed: closed, logger: zaptest.NewLogger(t)}
	sess := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1}

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(sess, claim) }()
	close(closed)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim ignored close")
	}
	assert.Empty(t, sess.offsets())
}

func TestMessageAckWithoutCallback(t *testing.T) {
	assert.NotPanics(t, func() { NewMessage([]byte("x"), nil).Ack() })
}
