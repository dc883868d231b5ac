package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"upagent/internal/logger"
)

// 中文说明：
// 决策周期调度器。单飞行（上一轮完成后才计算下一轮），收盘检查只在
// 每轮开始时做一次，进入收盘清仓后不再排期。

// State 是调度器状态机的取值。
type State string

const (
	StateIdle           State = "IDLE"
	StateRunning        State = "RUNNING"
	StateRescheduled    State = "RESCHEDULED"
	StateEODSquaringOff State = "EOD_SQUARING_OFF"
	StateStopped        State = "STOPPED"
)

// CycleScheduler 以固定间隔驱动决策周期，间隔从上一轮完成时刻起算。
type CycleScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	ctx     context.Context
	cancel  context.CancelFunc
	nowFn   func() time.Time
	loc     *time.Location
	closeHH int
	closeMM int

	mu          sync.Mutex
	state       State
	cycleCount  int64
	lastCycleAt time.Time
	nextCycleAt time.Time
}

// NewCycleScheduler 构造调度器。closeTime 为 "HH:MM"（loc 时区的收盘前强平时刻）。
func NewCycleScheduler(ctx context.Context, interval time.Duration, closeTime string, loc *time.Location) (*CycleScheduler, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval 必须为正: %s", interval)
	}
	if loc == nil {
		loc = time.UTC
	}
	parsed, err := time.Parse("15:04", strings.TrimSpace(closeTime))
	if err != nil {
		return nil, fmt.Errorf("close_time 须为 HH:MM: %w", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	return &CycleScheduler{
		Interval: interval,
		ctx:      cctx,
		cancel:   cancel,
		nowFn:    time.Now,
		loc:      loc,
		closeHH:  parsed.Hour(),
		closeMM:  parsed.Minute(),
		state:    StateIdle,
	}, nil
}

// State 返回当前状态（HTTP 状态页使用）。
func (s *CycleScheduler) State() State {
	if s == nil {
		return StateStopped
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats 返回已完成轮数、上一轮与下一轮的时间。
func (s *CycleScheduler) Stats() (count int64, last, next time.Time) {
	if s == nil {
		return 0, time.Time{}, time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleCount, s.lastCycleAt, s.nextCycleAt
}

// Stop 取消待触发的定时器。进行中的一轮不会被打断，跑完后调度器退出。
func (s *CycleScheduler) Stop() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

func (s *CycleScheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// pastClose 判定 now 是否已到达当天的强平时刻。
func (s *CycleScheduler) pastClose(now time.Time) bool {
	local := now.In(s.loc)
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), s.closeHH, s.closeMM, 0, 0, s.loc)
	return !local.Before(closeAt)
}

// Start 阻塞运行调度循环：每轮开始前先查收盘，到点执行 squareOff 后终止；
// 否则执行 cycle，完成后等待 Interval 再进入下一轮。
// cycle 与 squareOff 均同步执行，调用方自行处理内部超时。
func (s *CycleScheduler) Start(cycle func(), squareOff func()) {
	if s == nil {
		return
	}
	if cycle == nil {
		logger.Warnf("CycleScheduler: cycle 为空，退出")
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	prefix := "CycleScheduler"
	if s.Name != "" {
		prefix = prefix + "[" + s.Name + "]"
	}
	logger.Infof("%s: 启动 interval=%s close=%02d:%02d tz=%s run_immediately=%v",
		prefix, s.Interval, s.closeHH, s.closeMM, s.loc, s.RunImmediately)

	if !s.RunImmediately {
		if !s.waitInterval(prefix) {
			s.setState(StateStopped)
			return
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("%s: ctx done, exit", prefix)
			s.setState(StateStopped)
			return
		default:
		}

		now := s.nowFn()
		if s.pastClose(now) {
			logger.Infof("%s: 已到强平时刻 %02d:%02d，进入收盘清仓", prefix, s.closeHH, s.closeMM)
			s.setState(StateEODSquaringOff)
			if squareOff != nil {
				squareOff()
			}
			s.setState(StateStopped)
			logger.Infof("%s: 收盘清仓完成，调度终止", prefix)
			return
		}

		s.setState(StateRunning)
		started := s.nowFn()
		cycle()
		finished := s.nowFn()

		s.mu.Lock()
		s.cycleCount++
		s.lastCycleAt = finished
		s.nextCycleAt = finished.Add(s.Interval)
		count := s.cycleCount
		s.state = StateRescheduled
		s.mu.Unlock()

		logger.Infof("%s: 第 %d 轮完成 耗时=%s 下一轮=%s",
			prefix, count,
			finished.Sub(started).Truncate(time.Millisecond),
			finished.Add(s.Interval).Format(time.RFC3339))

		if !s.waitInterval(prefix) {
			s.setState(StateStopped)
			return
		}
	}
}

// waitInterval 等待固定间隔，ctx 取消时返回 false。
func (s *CycleScheduler) waitInterval(prefix string) bool {
	timer := time.NewTimer(s.Interval)
	select {
	case <-s.ctx.Done():
		timer.Stop()
		logger.Infof("%s: ctx done, exit", prefix)
		return false
	case <-timer.C:
		return true
	}
}
