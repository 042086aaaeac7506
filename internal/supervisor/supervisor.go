// Package supervisor runs uploaded bots as child processes: start/stop/restart on demand,
// automatic restart after a crash, and capture of stdout/stderr into a per-bot ring buffer
// and the injected log sink.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/betbot/bothost/internal/domain"
	"github.com/betbot/bothost/internal/logstream"
	"github.com/betbot/bothost/internal/metrics"
	"github.com/betbot/bothost/internal/registry"
	"github.com/betbot/bothost/pkg/syncgroup"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("component", "supervisor")

const (
	statusWriteTimeout = 5 * time.Second
	crashStartTimeout  = 30 * time.Second
	maxLineBytes       = 1 << 20
)

type Options struct {
	Command           string   // 解释器，默认 node
	Args              []string // 放在入口文件之前
	Env               []string // 追加到继承的环境变量
	LogCapacity       int
	CrashRestartDelay time.Duration
	StopGracePeriod   time.Duration
	RestartSettle     time.Duration // 默认 1s，负数表示不等待

	// 进程退出后继续读取输出的最长时间；后台子进程可能一直持有输出管道
	OutputDrainTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Command == "" {
		o.Command = "node"
	}
	if o.LogCapacity <= 0 {
		o.LogCapacity = logstream.DefaultCapacity
	}
	if o.CrashRestartDelay <= 0 {
		o.CrashRestartDelay = 5 * time.Second
	}
	if o.StopGracePeriod <= 0 {
		o.StopGracePeriod = 5 * time.Second
	}
	if o.RestartSettle == 0 {
		o.RestartSettle = time.Second
	}
	if o.RestartSettle < 0 {
		o.RestartSettle = 0
	}
	if o.OutputDrainTimeout <= 0 {
		o.OutputDrainTimeout = 500 * time.Millisecond
	}
	return o
}

// handle 一个正在运行的进程；只在 spawn 成功到进程退出之间存在
type handle struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	logs      *logstream.RingBuffer

	// 以下字段由 Supervisor.mu 保护
	restartOnCrash bool
	keepStatus     bool // StopAll 时不把状态写成 stopped，下次启动由 RestoreOnStartup 恢复

	// 退出结果（状态写入、事件发布）全部处理完后关闭
	done chan struct{}
}

// pendingRestart 崩溃后等待中的自动重启
type pendingRestart struct {
	timer *time.Timer
	// 上一个进程的 done；取消重启的一方需要等它，保证 restarting 状态不会覆盖后写入的状态
	after <-chan struct{}
}

type Supervisor struct {
	reg  registry.Registry
	sink logstream.Sink
	opts Options

	seq *keyedMutex

	mu      sync.Mutex
	handles map[string]*handle
	pending map[string]*pendingRestart
	crashes map[string]int
	closing bool
}

func New(reg registry.Registry, sink logstream.Sink, opts Options) *Supervisor {
	if sink == nil {
		sink = logstream.Discard
	}
	return &Supervisor{
		reg:     reg,
		sink:    sink,
		opts:    opts.withDefaults(),
		seq:     newKeyedMutex(),
		handles: make(map[string]*handle),
		pending: make(map[string]*pendingRestart),
		crashes: make(map[string]int),
	}
}

// Start spawns the bot's entry file. A pending crash restart for the bot is cancelled.
func (s *Supervisor) Start(ctx context.Context, botID string) error {
	unlock := s.seq.Lock(botID)
	defer unlock()
	return s.start(ctx, botID)
}

// Stop terminates the bot's process: SIGTERM, then SIGKILL once StopGracePeriod elapses.
func (s *Supervisor) Stop(ctx context.Context, botID string) error {
	unlock := s.seq.Lock(botID)
	defer unlock()
	return s.stop(ctx, botID)
}

// Restart = Stop + RestartSettle + Start as one step. Restarting a stopped bot starts it.
func (s *Supervisor) Restart(ctx context.Context, botID string) error {
	unlock := s.seq.Lock(botID)
	defer unlock()

	if err := s.stop(ctx, botID); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		return err
	}
	if s.opts.RestartSettle > 0 {
		t := time.NewTimer(s.opts.RestartSettle)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return s.start(ctx, botID)
}

// Delete stops the bot if needed, removes its folder (best-effort) and its record.
func (s *Supervisor) Delete(ctx context.Context, botID string) error {
	unlock := s.seq.Lock(botID)
	defer unlock()

	bot, err := s.reg.Get(ctx, botID)
	if err != nil {
		return fmt.Errorf("get bot: %w", err)
	}
	if bot == nil {
		return domain.ErrNotFound
	}

	s.mu.Lock()
	_, live := s.handles[botID]
	_, waiting := s.pending[botID]
	s.mu.Unlock()
	if live || waiting {
		if err := s.stop(ctx, botID); err != nil && !errors.Is(err, domain.ErrNotRunning) {
			return err
		}
	}

	if bot.FolderPath != "" {
		if err := os.RemoveAll(bot.FolderPath); err != nil {
			log.Warnf("delete bot folder failed: bot=%s dir=%s err=%v", botID, bot.FolderPath, err)
		}
	}
	if _, err := s.reg.Delete(ctx, botID); err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}

	s.mu.Lock()
	delete(s.crashes, botID)
	s.mu.Unlock()
	log.Infof("bot deleted: bot=%s name=%s", botID, bot.Name)
	return nil
}

// RestoreOnStartup starts every bot persisted as running. A bot that fails to start is
// marked error and the loop continues. Returns how many bots were started.
func (s *Supervisor) RestoreOnStartup(ctx context.Context) (int, error) {
	bots, err := s.reg.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list bots: %w", err)
	}
	restored := 0
	for _, b := range bots {
		if b.Status != domain.StatusRunning {
			continue
		}
		if err := s.Start(ctx, b.ID); err != nil {
			log.Errorf("restore bot failed: bot=%s name=%s err=%v", b.ID, b.Name, err)
			s.setStatus(ctx, b.ID, domain.StatusError)
			continue
		}
		restored++
	}
	if restored > 0 {
		log.Infof("restored %d bot(s)", restored)
	}
	return restored, nil
}

// GetLogs returns the buffered output of the bot's current process, oldest first.
func (s *Supervisor) GetLogs(botID string) []logstream.Line {
	s.mu.Lock()
	h := s.handles[botID]
	s.mu.Unlock()
	if h == nil {
		return []logstream.Line{}
	}
	return h.logs.Snapshot()
}

func (s *Supervisor) Running(botID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[botID]
	return ok
}

// StopAll terminates every live process concurrently and cancels pending crash restarts.
// Persisted statuses stay as they were so RestoreOnStartup brings the bots back.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	live := make(map[string]*handle, len(s.handles))
	for id, h := range s.handles {
		h.restartOnCrash = false
		h.keepStatus = true
		live[id] = h
	}
	cancelled := make(map[string]*pendingRestart, len(s.pending))
	for id := range s.pending {
		cancelled[id] = s.cancelPendingLocked(id)
	}
	s.mu.Unlock()

	for id, p := range cancelled {
		<-p.after
		// 等待中的重启本来就要回到 running
		s.setStatus(ctx, id, domain.StatusRunning)
	}

	g, gctx := errgroup.WithContext(ctx)
	for id, h := range live {
		id, h := id, h
		g.Go(func() error {
			if err := s.terminate(gctx, h); err != nil {
				return fmt.Errorf("stop bot %s: %w", id, err)
			}
			return nil
		})
	}
	err := g.Wait()
	log.Infof("stopped %d bot(s), cancelled %d pending restart(s)", len(live), len(cancelled))
	return err
}

// start 调用方持有 botID 的 seq 锁
func (s *Supervisor) start(ctx context.Context, botID string) error {
	bot, err := s.reg.Get(ctx, botID)
	if err != nil {
		return fmt.Errorf("get bot: %w", err)
	}
	if bot == nil {
		return domain.ErrNotFound
	}

	s.mu.Lock()
	if _, ok := s.handles[botID]; ok {
		s.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	p := s.cancelPendingLocked(botID)
	s.mu.Unlock()
	if p != nil {
		<-p.after
	}

	s.setStatus(ctx, botID, domain.StatusRunning)

	entry := filepath.Join(bot.FolderPath, bot.EntryFile)
	args := append(append([]string{}, s.opts.Args...), entry)
	cmd := exec.Command(s.opts.Command, args...)
	cmd.Dir = bot.FolderPath
	cmd.Env = append(os.Environ(), s.opts.Env...)
	setProcessGroup(cmd)

	// 自己建管道而不用 StdoutPipe：cmd.Wait 只等进程本身，不等管道 EOF
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return s.spawnFailed(ctx, botID, err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdout.Close()
		_ = stdoutW.Close()
		return s.spawnFailed(ctx, botID, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	err = cmd.Start()
	// 子进程已持有写端
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return s.spawnFailed(ctx, botID, err)
	}

	h := &handle{
		cmd:            cmd,
		pid:            cmd.Process.Pid,
		startedAt:      time.Now(),
		logs:           logstream.NewRingBuffer(s.opts.LogCapacity),
		restartOnCrash: true,
		done:           make(chan struct{}),
	}
	s.mu.Lock()
	s.handles[botID] = h
	s.mu.Unlock()
	metrics.BotStarts.Add(1)
	metrics.RunningBots.Add(1)

	log.Infof("bot started: bot=%s name=%s pid=%d cmd=%s %s", botID, bot.Name, h.pid, s.opts.Command, entry)
	go s.monitor(botID, h, stdout, stderr)
	return nil
}

func (s *Supervisor) spawnFailed(ctx context.Context, botID string, err error) error {
	log.Errorf("spawn bot failed: bot=%s err=%v", botID, err)
	metrics.SpawnFailures.Add(1)
	s.setStatus(ctx, botID, domain.StatusError)
	s.sink.Publish(botID, logstream.NewLine(logstream.LevelError, "Bot error: "+err.Error()))
	return fmt.Errorf("%w: %v", domain.ErrSpawn, err)
}

// stop 调用方持有 botID 的 seq 锁
func (s *Supervisor) stop(ctx context.Context, botID string) error {
	s.mu.Lock()
	p := s.cancelPendingLocked(botID)
	h := s.handles[botID]
	if h == nil {
		s.mu.Unlock()
		if p == nil {
			return domain.ErrNotRunning
		}
		<-p.after
		s.setStatus(ctx, botID, domain.StatusStopped)
		s.resetCrashes(botID)
		log.Infof("pending restart cancelled: bot=%s", botID)
		return nil
	}
	h.restartOnCrash = false
	s.mu.Unlock()

	if err := s.terminate(ctx, h); err != nil {
		return err
	}
	s.setStatus(ctx, botID, domain.StatusStopped)
	s.resetCrashes(botID)
	log.Infof("bot stopped: bot=%s pid=%d uptime=%s", botID, h.pid, time.Since(h.startedAt).Round(time.Second))
	return nil
}

// terminate 发 SIGTERM，宽限期内未退出则 SIGKILL；返回时 monitor 已处理完退出结果
func (s *Supervisor) terminate(ctx context.Context, h *handle) error {
	if err := terminate(h.cmd.Process); err != nil {
		log.Debugf("sigterm failed: pid=%d err=%v", h.pid, err)
	}

	t := time.NewTimer(s.opts.StopGracePeriod)
	defer t.Stop()
	select {
	case <-h.done:
		return nil
	case <-t.C:
		log.Warnf("process did not exit within %s, sending SIGKILL: pid=%d", s.opts.StopGracePeriod, h.pid)
	case <-ctx.Done():
		log.Warnf("stop interrupted (%v), sending SIGKILL: pid=%d", ctx.Err(), h.pid)
	}
	kill(h.cmd.Process)
	<-h.done
	return nil
}

// cancelPendingLocked 调用方持有 s.mu
func (s *Supervisor) cancelPendingLocked(botID string) *pendingRestart {
	p, ok := s.pending[botID]
	if !ok {
		return nil
	}
	delete(s.pending, botID)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

func (s *Supervisor) resetCrashes(botID string) {
	s.mu.Lock()
	delete(s.crashes, botID)
	s.mu.Unlock()
}

// monitor 回收进程，在 OutputDrainTimeout 内读完剩余输出，再处理退出结果
func (s *Supervisor) monitor(botID string, h *handle, stdout, stderr *os.File) {
	sg := syncgroup.NewSyncGroup()
	sg.Add(func() { s.pump(botID, h, stdout, logstream.LevelInfo) })
	sg.Add(func() { s.pump(botID, h, stderr, logstream.LevelError) })
	sg.Run()
	drained := make(chan struct{})
	go func() {
		sg.Wait()
		close(drained)
	}()

	waitErr := h.cmd.Wait()

	t := time.NewTimer(s.opts.OutputDrainTimeout)
	select {
	case <-drained:
	case <-t.C:
		// 后台子进程继承了管道，EOF 不会来
		log.Debugf("output still open after exit, detaching: bot=%s pid=%d", botID, h.pid)
		for _, f := range []*os.File{stdout, stderr} {
			if err := f.SetReadDeadline(time.Now()); err != nil {
				_ = f.Close()
			}
		}
		<-drained
	}
	t.Stop()
	_ = stdout.Close()
	_ = stderr.Close()

	code := exitCode(waitErr)
	metrics.RunningBots.Add(-1)

	s.mu.Lock()
	if s.handles[botID] == h {
		delete(s.handles, botID)
	}
	crashed := code != 0 && h.restartOnCrash && !s.closing
	keepStatus := h.keepStatus
	var p *pendingRestart
	crashes := 0
	if crashed {
		p = &pendingRestart{after: h.done}
		s.pending[botID] = p
		s.crashes[botID]++
		crashes = s.crashes[botID]
		metrics.BotCrashes.Add(1)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	switch {
	case crashed:
		delay := s.opts.CrashRestartDelay
		desc := describeExit(code, waitErr)
		log.Warnf("bot crashed: bot=%s pid=%d %s crashes=%d, restarting in %s", botID, h.pid, desc, crashes, delay)
		s.setStatus(ctx, botID, domain.StatusRestarting)
		s.sink.Publish(botID, logstream.NewLine(logstream.LevelWarn,
			fmt.Sprintf("Bot crashed with %s. Restarting in %s...", desc, humanDelay(delay))))

		s.mu.Lock()
		if s.pending[botID] == p {
			p.timer = time.AfterFunc(delay, func() { s.restartAfterCrash(botID, p) })
		}
		s.mu.Unlock()
	case keepStatus:
		log.Infof("bot exited on shutdown: bot=%s pid=%d code=%d", botID, h.pid, code)
	default:
		log.Infof("bot exited: bot=%s pid=%d code=%d", botID, h.pid, code)
		s.setStatus(ctx, botID, domain.StatusStopped)
	}
	close(h.done)
}

func (s *Supervisor) restartAfterCrash(botID string, p *pendingRestart) {
	unlock := s.seq.Lock(botID)
	defer unlock()

	s.mu.Lock()
	if s.pending[botID] != p || s.closing {
		s.mu.Unlock()
		return
	}
	delete(s.pending, botID)
	s.mu.Unlock()
	metrics.BotRestarts.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), crashStartTimeout)
	defer cancel()
	if err := s.start(ctx, botID); err != nil {
		log.Errorf("restart after crash failed: bot=%s err=%v", botID, err)
		s.setStatus(ctx, botID, domain.StatusError)
		s.sink.Publish(botID, logstream.NewLine(logstream.LevelError, "Failed to restart bot: "+err.Error()))
	}
}

// pump 逐行读取输出，写入 ring buffer 并发布；超长行之后的内容直接丢弃，保证子进程不会阻塞在写管道上
func (s *Supervisor) pump(botID string, h *handle, r io.Reader, level logstream.Level) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		line := logstream.NewLine(level, sc.Text())
		if line.Message == "" {
			continue
		}
		s.sink.Publish(botID, h.logs.Append(line))
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, os.ErrClosed) {
			return
		}
		log.Warnf("read bot output: bot=%s level=%s err=%v", botID, level, err)
		_, _ = io.Copy(io.Discard, r)
	}
}

// setStatus 状态写入是尽力而为：失败只记日志，不回滚内存状态
func (s *Supervisor) setStatus(ctx context.Context, botID string, status domain.Status) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if _, err := s.reg.Update(ctx, botID, domain.StatusPatch(status)); err != nil {
		log.Warn(fmt.Errorf("%w: bot=%s status=%s: %v", domain.ErrPersistence, botID, status, err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func humanDelay(d time.Duration) string {
	if d >= time.Second && d%time.Second == 0 {
		n := int(d / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	}
	return d.String()
}
