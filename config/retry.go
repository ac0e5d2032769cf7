package config

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const maxRetryBackoff = 30 * time.Second

// backoff returns 2^attempt seconds capped at 30s.
func backoff(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	sleep := time.Second * time.Duration(1<<attempt)
	if sleep > maxRetryBackoff {
		sleep = maxRetryBackoff
	}
	return sleep
}

// connectWithRetry calls connect until it succeeds or ctx is done.
func connectWithRetry(ctx context.Context, logger *logrus.Logger, what string, connect func(context.Context) error) error {
	if logger == nil {
		logger = NopLogger()
	}
	var attempt int
	for {
		attempt++
		err := connect(ctx)
		if err == nil {
			logger.WithFields(logrus.Fields{"field": "Connect", "target": what, "attempt": attempt}).Info("connected")
			return nil
		}

		sleep := backoff(attempt)
		logger.WithFields(logrus.Fields{
			"field":   "Connect",
			"target":  what,
			"attempt": attempt,
			"retryIn": sleep.String(),
		}).Warn(err.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
