package errors

import (
	"context"
	"sync"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// SideOutputTag identifies a side output stream
type SideOutputTag string

const (
	// LateSideOutput receives records classified LATE
	LateSideOutput SideOutputTag = "late-events"
	// DiscardedSideOutput receives records classified DISCARDED
	DiscardedSideOutput SideOutputTag = "discarded-events"
	// ErrorSideOutput receives records that failed with a configuration error
	ErrorSideOutput SideOutputTag = "errors"
)

// SideOutputRecord wraps a record routed away from the main flow
type SideOutputRecord struct {
	Record    *stream.Record
	Tag       SideOutputTag
	EventTime int64
	Watermark int64
	Err       error
}

// SideOutputCollector fans records out to tagged channels
type SideOutputCollector struct {
	mu      sync.RWMutex
	outputs map[SideOutputTag]chan *SideOutputRecord
	dropped map[SideOutputTag]int64
}

// NewSideOutputCollector creates a new side output collector
func NewSideOutputCollector() *SideOutputCollector {
	return &SideOutputCollector{
		outputs: make(map[SideOutputTag]chan *SideOutputRecord),
		dropped: make(map[SideOutputTag]int64),
	}
}

// RegisterSideOutput registers a channel for a side output tag
func (c *SideOutputCollector) RegisterSideOutput(tag SideOutputTag, ch chan *SideOutputRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[tag] = ch
}

// Emit emits a record to its side output without blocking.
// Returns false if the tag is unregistered or its channel is full.
func (c *SideOutputCollector) Emit(ctx context.Context, rec *SideOutputRecord) bool {
	c.mu.RLock()
	ch, exists := c.outputs[rec.Tag]
	c.mu.RUnlock()

	if !exists {
		return false
	}

	select {
	case ch <- rec:
		return true
	case <-ctx.Done():
		return false
	default:
		c.mu.Lock()
		c.dropped[rec.Tag]++
		c.mu.Unlock()
		return false
	}
}

// Dropped returns how many records were dropped for tag because its channel was full
func (c *SideOutputCollector) Dropped(tag SideOutputTag) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped[tag]
}

// GetChannel returns the channel for a side output tag
func (c *SideOutputCollector) GetChannel(tag SideOutputTag) (chan *SideOutputRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, exists := c.outputs[tag]
	return ch, exists
}

// Close closes all side output channels
func (c *SideOutputCollector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for tag, ch := range c.outputs {
		close(ch)
		delete(c.outputs, tag)
	}
}

// SideOutputConfig configures which side outputs are created
type SideOutputConfig struct {
	EnableLate      bool
	EnableDiscarded bool
	EnableErrors    bool
	BufferSize      int
}

// CreateSideOutputCollector creates and configures a side output collector
func CreateSideOutputCollector(config SideOutputConfig) *SideOutputCollector {
	collector := NewSideOutputCollector()
	size := config.BufferSize
	if size <= 0 {
		size = 1000
	}

	if config.EnableLate {
		collector.RegisterSideOutput(LateSideOutput, make(chan *SideOutputRecord, size))
	}
	if config.EnableDiscarded {
		collector.RegisterSideOutput(DiscardedSideOutput, make(chan *SideOutputRecord, size))
	}
	if config.EnableErrors {
		collector.RegisterSideOutput(ErrorSideOutput, make(chan *SideOutputRecord, size))
	}

	return collector
}
