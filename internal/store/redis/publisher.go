package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"analytics-enginev1/internal/engine"
)

// ScanPublisher broadcasts scan responses on a pub/sub channel and keeps the
// latest response of every job for late readers.
type ScanPublisher struct {
	rdb       *goredis.Client
	channel   string
	latestTTL time.Duration
	breaker   *CircuitBreaker
}

// NewScanPublisher returns a publisher on channel (default "scan:results").
// latestTTL bounds how long the last response of a job stays readable; 0
// disables storing it.
func NewScanPublisher(rdb *goredis.Client, channel string, latestTTL time.Duration, cb *CircuitBreaker) *ScanPublisher {
	if channel == "" {
		channel = "scan:results"
	}
	return &ScanPublisher{rdb: rdb, channel: channel, latestTTL: latestTTL, breaker: cb}
}

// Message is the published envelope.
type Message struct {
	Job    string               `json:"job"`
	Result *engine.ScanResponse `json:"result"`
}

// Publish sends resp for job and records it as the job's latest result.
func (p *ScanPublisher) Publish(ctx context.Context, job string, resp *engine.ScanResponse) error {
	if resp == nil {
		return errors.New("nil scan response")
	}
	b, err := json.Marshal(Message{Job: job, Result: resp})
	if err != nil {
		return fmt.Errorf("marshal scan %s: %w", resp.RunID, err)
	}
	return p.do(ctx, func(ctx context.Context) error {
		if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", p.channel, err)
		}
		if p.latestTTL > 0 {
			if err := p.rdb.Set(ctx, p.latestKey(job), b, p.latestTTL).Err(); err != nil {
				return fmt.Errorf("store latest %s: %w", job, err)
			}
		}
		return nil
	})
}

// Latest returns the last published result of job, or nil when none is stored.
func (p *ScanPublisher) Latest(ctx context.Context, job string) (*Message, error) {
	var raw []byte
	err := p.do(ctx, func(ctx context.Context) error {
		b, err := p.rdb.Get(ctx, p.latestKey(job)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	if err != nil || raw == nil {
		return nil, err
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode latest %s: %w", job, err)
	}
	return &m, nil
}

// Channel returns the pub/sub channel name.
func (p *ScanPublisher) Channel() string { return p.channel }

func (p *ScanPublisher) latestKey(job string) string { return p.channel + ":latest:" + safe(job) }

func (p *ScanPublisher) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.breaker == nil {
		return fn(ctx)
	}
	return p.breaker.Execute(ctx, fn)
}
