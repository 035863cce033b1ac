package service

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
)

type EventRepo interface {
	Insert(ctx context.Context, e *model.Event) error
	List(ctx context.Context, f model.EventFilter) ([]model.Event, error)
}

// Broadcaster fans committed events out to live subscribers.
type Broadcaster interface {
	Broadcast(e model.Event)
}

type EventServiceConfig struct {
	Dir        string
	BufferSize int
	MaxSizeMB  int
	MaxBackups int
}

// EventService 异步分发状态变更通知：写库、写 JSONL 文件、推送 websocket。
// 最近的事件保存在内存环形缓冲里，数据库不可用时用它兜底查询。
type EventService struct {
	mu     sync.RWMutex
	closed bool
	ch     chan model.Event
	file   io.WriteCloser
	buffer *ringBuffer[model.Event]
	repo   EventRepo
	hub    Broadcaster
	done   chan struct{}
}

func NewEventService(cfg EventServiceConfig, repo EventRepo, hub Broadcaster) (*EventService, error) {
	size := cfg.BufferSize
	if size <= 0 {
		size = 1000
	}
	svc := &EventService{
		ch:     make(chan model.Event, size),
		buffer: newRingBuffer[model.Event](size),
		repo:   repo,
		hub:    hub,
		done:   make(chan struct{}),
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, err
		}
		svc.file = logger.NewRotatingWriter(logger.FileConfig{
			Path:       filepath.Join(cfg.Dir, "events.jsonl"),
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	}

	go svc.process()
	return svc, nil
}

// Publish never blocks the vault: when the channel is full the event is
// still kept in the ring buffer but skips the slow sinks.
func (s *EventService) Publish(e model.Event) {
	s.buffer.Add(e)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		logger.Warn("event channel full, dropping from sinks", "seq", e.Seq, "type", e.Type)
	}
}

// List prefers the repository and falls back to the in-memory buffer.
func (s *EventService) List(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	if s.repo != nil {
		events, err := s.repo.List(ctx, f)
		if err == nil {
			return events, nil
		}
		logger.LogError(ctx, err, "event repo list failed, using buffer")
	}
	return s.buffer.List(f.Match, f.Limit), nil
}

func (s *EventService) process() {
	defer close(s.done)
	var enc *json.Encoder
	if s.file != nil {
		enc = json.NewEncoder(s.file)
	}
	for e := range s.ch {
		if s.repo != nil {
			if err := s.repo.Insert(context.Background(), &e); err != nil {
				logger.Error("failed to store event", "seq", e.Seq, "error", err)
			}
		}
		if enc != nil {
			if err := enc.Encode(e); err != nil {
				logger.Error("failed to write event log", "error", err)
			}
		}
		if s.hub != nil {
			s.hub.Broadcast(e)
		}
	}
}

// Close drains pending events and closes the file sink.
func (s *EventService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	<-s.done
	if s.file != nil {
		_ = s.file.Close()
	}
}
