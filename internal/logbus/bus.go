package logbus

import (
	"sync"
	"time"

	"sequence_engine/internal/model"
)

const (
	TypeLog        = "log"
	TypeProgress   = "progress"
	TypeBatchState = "batch_state"
	TypeScreenshot = "screenshot"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// ProgressData 对应规格里的 ProgressEvent：current 单调递增，
// 额外带上批次/站点/阶段信息方便前端定位。
type ProgressData struct {
	BatchID string      `json:"batchId,omitempty"`
	SiteID  string      `json:"siteId,omitempty"`
	Stage   model.Stage `json:"stage,omitempty"`
	Current int         `json:"current"`
	Total   int         `json:"total"`
	Label   string      `json:"label,omitempty"`
}

type ScreenshotData struct {
	BatchID string      `json:"batchId,omitempty"`
	SiteID  string      `json:"siteId,omitempty"`
	Stage   model.Stage `json:"stage,omitempty"`
	Path    string      `json:"path"`
	Bytes   int         `json:"bytes"`
}

// Bus 是进程内的事件总线：保留一段环形历史，向订阅者非阻塞扇出。
// 慢订阅者会丢消息而不是拖慢发布方。
type Bus struct {
	mu     sync.RWMutex
	ring   []Message
	cap    int
	subs   map[chan Message]struct{}
	closed bool
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		cap:  capacity,
		ring: make([]Message, 0, capacity),
		subs: make(map[chan Message]struct{}),
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.ring = nil
}

// Snapshot 返回当前环形缓冲的拷贝，用于 WS 客户端接入时回放历史。
func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.ring))
	copy(out, b.ring)
	return out
}

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs != nil {
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(typ string, data any) {
	msg := Message{
		Type: typ,
		Time: time.Now().UnixMilli(),
		Data: data,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.ring) < b.cap {
		b.ring = append(b.ring, msg)
	} else if b.cap > 0 {
		copy(b.ring, b.ring[1:])
		b.ring[b.cap-1] = msg
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	b.mu.Unlock()
}

func (b *Bus) Log(level, message string, fields map[string]any) {
	b.Publish(TypeLog, LogData{Level: level, Msg: message, Fields: fields})
}

func (b *Bus) Progress(p ProgressData) {
	b.Publish(TypeProgress, p)
}

func (b *Bus) BatchState(state model.BatchState) {
	b.Publish(TypeBatchState, state)
}
