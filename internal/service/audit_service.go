package service

import (
	"auth-gateway/internal/ports"
	"auth-gateway/internal/util"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"sync"
	"time"
)

// LogAuditSink пишет события безопасности в стандартный лог
type LogAuditSink struct{}

func (LogAuditSink) Record(_ context.Context, event ports.AuditEvent) error {
	if event.Reason != "" {
		log.Printf("[Audit] %s username=%q reason=%q id=%s", event.Type, event.Username, event.Reason, event.ID)
		return nil
	}
	log.Printf("[Audit] %s username=%q id=%s", event.Type, event.Username, event.ID)
	return nil
}

// S3AuditSink складывает каждое событие отдельным JSON-объектом
// по ключу {prefix}/{yyyy}/{mm}/{dd}/{id}.json
type S3AuditSink struct {
	storage ports.S3Storage
	prefix  string
}

func NewS3AuditSink(storage ports.S3Storage, prefix string) *S3AuditSink {
	if prefix == "" {
		prefix = "audit"
	}
	return &S3AuditSink{storage: storage, prefix: prefix}
}

func (s *S3AuditSink) objectKey(event ports.AuditEvent) string {
	at := event.OccurredAt.UTC()
	return path.Join(s.prefix, at.Format("2006"), at.Format("01"), at.Format("02"), event.ID+".json")
}

func (s *S3AuditSink) Record(ctx context.Context, event ports.AuditEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return util.LogError("[S3AuditSink] ошибка сериализации события", err)
	}

	if err := s.storage.PutObject(ctx, s.objectKey(event), body, "application/json"); err != nil {
		return fmt.Errorf("[S3AuditSink] не удалось сохранить событие %s: %w", event.ID, err)
	}
	return nil
}

// MultiAuditSink отдаёт событие всем получателям по очереди и возвращает первую ошибку
type MultiAuditSink []ports.AuditSink

func (m MultiAuditSink) Record(ctx context.Context, event ports.AuditEvent) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.Record(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AsyncAuditSink выносит запись событий из пути запроса в фоновую горутину.
// При переполнении очереди событие пишется в лог и отбрасывается
type AsyncAuditSink struct {
	next    ports.AuditSink
	queue   chan ports.AuditEvent
	timeout time.Duration
	wg      sync.WaitGroup

	// mu защищает closed и отправку в queue от гонки с Close
	mu     sync.RWMutex
	closed bool
}

var ErrAuditSinkClosed = errors.New("аудит уже остановлен")

func NewAsyncAuditSink(next ports.AuditSink, size int, timeout time.Duration) *AsyncAuditSink {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sink := &AsyncAuditSink{
		next:    next,
		queue:   make(chan ports.AuditEvent, size),
		timeout: timeout,
	}

	sink.wg.Add(1)
	go sink.run()

	return sink
}

func (a *AsyncAuditSink) run() {
	defer a.wg.Done()
	for event := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Record(ctx, event); err != nil {
			log.Printf("[AsyncAuditSink] событие %s не записано: %v", event.ID, err)
		}
		cancel()
	}
}

// Record ставит событие в очередь. После Close возвращает ErrAuditSinkClosed
func (a *AsyncAuditSink) Record(_ context.Context, event ports.AuditEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		log.Printf("[AsyncAuditSink] аудит остановлен, событие %s %s отброшено", event.Type, event.ID)
		return ErrAuditSinkClosed
	}

	select {
	case a.queue <- event:
		return nil
	default:
		log.Printf("[AsyncAuditSink] очередь переполнена, событие %s %s отброшено", event.Type, event.ID)
		return fmt.Errorf("очередь аудита переполнена")
	}
}

// Close дожидается записи всех событий из очереди. Повторный вызов безопасен
func (a *AsyncAuditSink) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	a.wg.Wait()
}
