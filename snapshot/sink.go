package snapshot

import (
	"context"
	"errors"
	"fmt"
)

// Sink 历史输出目标。Write 出错不影响本轮其他 sink。
type Sink interface {
	Name() string
	Write(ctx context.Context, c *Cycle) error
}

// Closer 需要释放连接的 sink 实现它。
type Closer interface {
	Close() error
}

// Multi 依次写入所有 sink，onError 用于日志/指标。
type Multi struct {
	sinks   []Sink
	onError func(sink string, err error)
}

func NewMulti(onError func(sink string, err error), sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, onError: onError}
}

func (m *Multi) Name() string { return "multi" }

// Len sink 数量。
func (m *Multi) Len() int { return len(m.sinks) }

// Write 返回所有失败 sink 的合并错误。
func (m *Multi) Write(ctx context.Context, c *Cycle) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, c); err != nil {
			err = fmt.Errorf("%s: %w", s.Name(), err)
			if m.onError != nil {
				m.onError(s.Name(), err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 关闭实现了 Closer 的 sink。
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
