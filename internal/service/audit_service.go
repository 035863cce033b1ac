package service

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
)

// AuditService records one RequestLog per HTTP call.
type AuditService struct {
	mu      sync.RWMutex
	closed  bool
	logChan chan *model.RequestLog
	logFile io.WriteCloser
	buffer  *ringBuffer[*model.RequestLog]
	repo    AuditRepo
	done    chan struct{}
}

type AuditRepo interface {
	Insert(ctx context.Context, entry *model.RequestLog) error
	List(ctx context.Context, caller string, limit int, from, to *time.Time) ([]*model.RequestLog, error)
}

func NewAuditService(logDir string, repo AuditRepo) (*AuditService, error) {
	svc := &AuditService{
		logChan: make(chan *model.RequestLog, 1000), // 缓冲区 1000
		buffer:  newRingBuffer[*model.RequestLog](1000),
		repo:    repo,
		done:    make(chan struct{}),
	}
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}
		// 按大小轮转
		svc.logFile = logger.NewRotatingWriter(logger.FileConfig{
			Path:       filepath.Join(logDir, "requests.jsonl"),
			MaxSizeMB:  100,
			MaxBackups: 10,
		})
	}

	// 启动消费者 goroutine
	go svc.processLogs()

	return svc, nil
}

func (s *AuditService) Log(entry *model.RequestLog) {
	if entry == nil {
		return
	}
	s.buffer.Add(entry)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.logChan <- entry:
		// 写入成功
	default:
		// 缓冲区满，丢弃日志以保护主流程
		logger.Warn("request log buffer full, dropping entry", "id", entry.ID)
	}
}

func (s *AuditService) List(ctx context.Context, caller string, limit int, from, to *time.Time) ([]*model.RequestLog, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, caller, limit, from, to)
		if err == nil {
			return records, nil
		}
	}
	return s.buffer.List(func(e *model.RequestLog) bool {
		if caller != "" && !strings.EqualFold(e.Caller, caller) {
			return false
		}
		if from != nil && e.CreatedAt.Before(*from) {
			return false
		}
		return to == nil || !e.CreatedAt.After(*to)
	}, limit), nil
}

func (s *AuditService) processLogs() {
	defer close(s.done)
	var encoder *json.Encoder
	if s.logFile != nil {
		encoder = json.NewEncoder(s.logFile)
	}
	for entry := range s.logChan {
		if s.repo != nil {
			if err := s.repo.Insert(context.Background(), entry); err != nil {
				logger.Error("failed to write request log to DB", "error", err)
			}
		}
		if encoder != nil {
			if err := encoder.Encode(entry); err != nil {
				logger.Error("failed to write request log", "error", err)
			}
		}
	}
}

func (s *AuditService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.logChan)
	s.mu.Unlock()
	<-s.done
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
}
