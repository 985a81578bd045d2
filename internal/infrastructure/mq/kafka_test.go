package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaProducerSendMessage(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, cfg)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"event_type":"lead.unlocked"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaProducerFrom(mock)
	require.NoError(t, p.SendMessage("wallet.unlocks", "agent-1", `{"event_type":"lead.unlocked"}`))
	assert.ErrorIs(t, p.SendMessage("wallet.unlocks", "agent-1", `{}`), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestLogPublisher(t *testing.T) {
	var p Publisher = LogPublisher{}
	assert.NoError(t, p.SendMessage("t", "k", `{"a":1}`))
	assert.NoError(t, p.Close())
}
