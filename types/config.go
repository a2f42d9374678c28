package types

import (
	"time"
)

type RequestConfig struct {
	RequestQueueSize int
	RequestTimeout   time.Duration
	ClearInterval    time.Duration
}

func DefaultConfig() *RequestConfig {
	return &RequestConfig{
		RequestQueueSize: 30,
		// a prompt can sit unanswered for as long as the user ignores it
		RequestTimeout: time.Minute * 30,
		ClearInterval:  time.Minute * 5,
	}
}
