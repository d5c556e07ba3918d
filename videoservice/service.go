// Package videoservice is a stand-in for a slow video backend. Building a
// Service takes StartupDelay and every Fetch takes FetchDelay, which makes it
// useful for exercising the proxy package.
package videoservice

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/barrett370/lazycache/proxy"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jmgilman/go/errors"
)

var log = logging.Logger("videoservice")

const (
	DefaultStartupDelay = 2 * time.Second
	DefaultFetchDelay   = 1500 * time.Millisecond
)

type Config struct {
	StartupDelay time.Duration
	FetchDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		StartupDelay: DefaultStartupDelay,
		FetchDelay:   DefaultFetchDelay,
	}
}

type Service struct {
	fetchDelay time.Duration
	fetches    atomic.Int64
}

var _ proxy.Service = (*Service)(nil)

// New blocks for cfg.StartupDelay and returns a ready Service.
func New(cfg Config) *Service {
	log.Infow("Starting video service", "startupDelay", cfg.StartupDelay)
	time.Sleep(cfg.StartupDelay)
	return &Service{
		fetchDelay: cfg.FetchDelay,
	}
}

// NewFactory returns a proxy.Factory that builds a Service from cfg.
func NewFactory(cfg Config) proxy.Factory {
	return func() (proxy.Service, error) {
		return New(cfg), nil
	}
}

// Fetch waits for the configured fetch delay and returns the payload for
// videoID at quality. It returns early with the context error if ctx is done
// first.
func (s *Service) Fetch(ctx context.Context, videoID, quality string) ([]byte, error) {
	if videoID == "" {
		return nil, errors.New(errors.CodeInvalidInput, "video id is empty")
	}
	if quality == "" {
		return nil, errors.Newf(errors.CodeInvalidInput, "quality is empty for video %s", videoID)
	}

	s.fetches.Add(1)
	timer := time.NewTimer(s.fetchDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return Payload(videoID, quality), nil
}

// Fetches returns the number of Fetch calls that passed validation.
func (s *Service) Fetches() int64 {
	return s.fetches.Load()
}

// Payload returns the bytes a Service produces for videoID at quality.
func Payload(videoID, quality string) []byte {
	return []byte(fmt.Sprintf("VIDEO:%s|Q:%s", videoID, quality))
}
