package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

func TestSendHeartbeat(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var hb models.Heartbeat
		if err := json.Unmarshal(val, &hb); err != nil {
			return err
		}
		if hb.SessionID != "s1" || hb.Stats == nil || hb.Stats.FrameCount != 42 {
			return errors.New("unexpected heartbeat")
		}
		return nil
	})

	p := newProducer(sp, "hb", "reports")
	err := p.SendHeartbeat(models.Heartbeat{
		SessionID: "s1",
		Action:    models.CommandStart,
		Frame:     42,
		Stats:     &models.LiveStats{SessionID: "s1", FrameCount: 42},
		TimeStamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestSendReportFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(errors.New("leader not available"))

	p := newProducer(sp, "hb", "reports")
	err := p.SendReport("s1", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send to reports")
	require.NoError(t, p.Close())
}

func TestMessageAck(t *testing.T) {
	acked := false
	NewMessage([]byte("x"), func() { acked = true }).Ack()
	assert.True(t, acked)

	// без колбэка Ack ничего не делает
	NewMessage(nil, nil).Ack()
}
