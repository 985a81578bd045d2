// Package idgen generates time-ordered 64-bit IDs and the human-facing
// order and transaction numbers derived from them.
//
// Layout: 1 sign bit | 41 bits ms since epoch | 10 bits worker | 12 bits sequence.
package idgen

import (
	"fmt"
	"sync"
	"time"
)

const (
	epoch          = int64(1704067200000) // 2024-01-01T00:00:00Z
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id must be within 0-%d, got %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets the worker id of the package generator. Only the first call has
// an effect.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = New(workerID)
	})
	return err
}

func NextID() int64 {
	if defaultGenerator == nil {
		_ = Init(1)
	}
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// clock moved backwards; stay on the last issued millisecond
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateOrderNo formats a payment order number, e.g. PAY20240115-1234567890123456789.
func GenerateOrderNo() string {
	return withPrefix("PAY")
}

// GenerateTransactionNo formats a ledger transaction number.
func GenerateTransactionNo() string {
	return withPrefix("TXN")
}

func withPrefix(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s-%d", prefix, time.Now().UTC().Format("20060102"), id)
}
