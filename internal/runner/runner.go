// ============================================================================
// splice Job Runner - 任務生命週期協調器
// ============================================================================
//
// Package: internal/runner
// 文件: runner.go
// 功能: 驅動單個 job 從提交到終態：分配 ID、重疊檢查、啟動 backend、
//       競賽 timeout 與完成、交給 Extractor 與 Edit Applier。
//
// 狀態機:
//   pending -> running -> {succeeded, no_change, parse_failed, backend_error,
//                          empty_output, timed_out, cancelled}
//
// 協調模型:
//   Runner 的 mu 扮演「事件迴圈」：
//   - 提交（overlap 檢查 + 註冊 + spawn）
//   - 完成處理（extract -> apply -> shift -> deregister -> log finish）
//   - 取消 / 超時
//   全部在 mu 之下執行，彼此之間原子化。
//   Backend 呼叫在自己的 goroutine 中執行；每個 job 有一個 watcher goroutine
//   在 Handle.Done()、timer、cancel channel 之間 select。
//   輸的一方看到 finalized=true 後直接返回（不重複終結）。
//
// 終態副作用（每個 job 恰好一次）:
//   清除進度指示 -> 從 Registry 移除 -> 完成 Job Log 條目 -> 通知
//   通知、transcript、journal 等 I/O 在釋放 mu 之後執行。
//
// ============================================================================

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/splice/internal/applier"
	"github.com/ChuLiYu/splice/internal/backend"
	"github.com/ChuLiYu/splice/internal/extract"
	"github.com/ChuLiYu/splice/internal/joblog"
	"github.com/ChuLiYu/splice/internal/registry"
	"github.com/ChuLiYu/splice/pkg/types"
)

// DefaultTimeout 未設定時的單一 job 超時
const DefaultTimeout = 120 * time.Second

var (
	// ErrStopped Runner 已停止
	ErrStopped = errors.New("runner: stopped")
	// ErrUnknownJob 找不到執行中的 job
	ErrUnknownJob = errors.New("runner: no such running job")
	// ErrNoJobNearby 游標附近沒有 job
	ErrNoJobNearby = errors.New("runner: no running job in document")
	// ErrStaleSelection 選取範圍在快照之後被改寫
	ErrStaleSelection = errors.New("runner: selection changed since it was read")
)

// editHistory 保留的已套用編輯筆數（供 Submit 位移快照範圍）
const editHistory = 256

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Runner 配置
type Config struct {
	Backend   backend.Backend    // 模型傳輸（必填）
	Documents applier.Document   // 編輯目標（必填）
	Registry  *registry.Registry // 可共用；nil 時自建
	Log       *joblog.Log        // 可共用；nil 時自建
	Extractor *extract.Extractor // nil 時使用預設規則
	Timeout   time.Duration      // 單一 job 超時
	LogSize   int                // Job Log 容量

	Notifier  Notifier   // 終態通知；nil 時只寫 slog
	Progress  Progress   // 進度指示
	Recorder  Recorder   // 指標
	Archivers []Archiver // transcript / journal
	Logger    *slog.Logger
}

// Request 一次提交
type Request struct {
	Selection types.Selection
	Prompt    string
	Mode      string
	Timeout   time.Duration // 0 表示使用 Config.Timeout
	Seq       uint64        // Snapshot 的編輯序號；0 表示選取剛讀取，不需位移
}

// Snapshot 在 Runner 鎖內讀取的選取文字
type Snapshot struct {
	Text string
	Seq  uint64
}

// appliedEdit 一次已套用的編輯（座標為套用當下的文件）
type appliedEdit struct {
	seq        uint64
	job        types.JobID
	doc        types.DocumentID
	start, end int
	delta      int
}

// active 執行中 job 的私有狀態
type active struct {
	job       types.Job
	sel       types.Selection
	handle    backend.Handle
	timeout   time.Duration
	cancelled chan struct{} // Cancel 時關閉，喚醒 watcher
	finished  chan struct{} // 終態副作用全部完成後關閉
	finalized bool          // 防止重複終結
}

// Runner 任務協調器
type Runner struct {
	mu      sync.Mutex
	cfg     Config
	reg     *registry.Registry
	log     *joblog.Log
	apply   *applier.Applier
	extract *extract.Extractor
	logger  *slog.Logger

	nextID  types.JobID
	active  map[types.JobID]*active
	edits   []appliedEdit // 最近的編輯，舊到新
	editSeq uint64        // 最後一筆編輯的序號，從 1 起算
	ctx     context.Context // backend 呼叫的父 context，Stop 時取消
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup // 等待所有 watcher 退出
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立 Runner
func New(cfg Config) (*Runner, error) {
	if cfg.Backend == nil {
		return nil, errors.New("runner: backend is required")
	}
	if cfg.Documents == nil {
		return nil, errors.New("runner: documents are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	if cfg.Log == nil {
		cfg.Log = joblog.New(cfg.LogSize)
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extract.New(extract.DefaultConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Logger: cfg.Logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:     cfg,
		reg:     cfg.Registry,
		log:     cfg.Log,
		apply:   applier.New(cfg.Documents, cfg.Registry),
		extract: cfg.Extractor,
		logger:  cfg.Logger,
		active:  make(map[types.JobID]*active),
		editSeq: 1,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Submit 提交一個 job
//
// 流程（全部在 mu 之下）：
//  1. 驗證 selection；有 Seq 時依之後的編輯位移範圍
//  2. 確認範圍內文字仍與 OriginalText 相同
//  3. 分配 ID 並註冊（Registry 原子化做 overlap 檢查）
//  4. 建立 Job Log 條目
//  5. 啟動 backend；失敗則直接終結為 backend_error
//  6. 啟動 watcher goroutine
//
// 返回值：
//   - types.JobID: 新 job 的 ID（spawn 失敗時仍返回，job 已是終態）
//   - error: selection 無效、重疊（registry.ErrOverlap）、範圍已被改寫
//     （ErrStaleSelection）或 Runner 已停止
func (r *Runner) Submit(req Request) (types.JobID, error) {
	sel := req.Selection
	if err := sel.Validate(); err != nil {
		return 0, err
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return 0, ErrStopped
	}

	sel, err := r.rebase(sel, req.Seq)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}
	// 重疊時交給 Register 回報 ErrOverlap
	if !r.reg.Overlaps(sel.DocumentID, sel.StartLine, sel.EndLine) {
		if err := r.verify(sel); err != nil {
			r.mu.Unlock()
			return 0, err
		}
	}

	id := r.nextID + 1
	job := types.Job{
		ID:         id,
		DocumentID: sel.DocumentID,
		StartLine:  sel.StartLine,
		EndLine:    sel.EndLine,
		Status:     types.StatusPending,
		Mode:       req.Mode,
		StartedAt:  time.Now(),
	}
	if err := r.reg.Register(job); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	r.nextID = id

	r.log.Start(joblog.Entry{
		ID:         id,
		Status:     types.StatusPending,
		Mode:       req.Mode,
		DocumentID: sel.DocumentID,
		Range:      types.LineRange{Start: sel.StartLine, End: sel.EndLine},
		Prompt:     req.Prompt,
		StartedAt:  job.StartedAt,
		BytesSent:  len(req.Prompt),
	})

	a := &active{
		job:       job,
		sel:       sel,
		timeout:   timeout,
		cancelled: make(chan struct{}),
		finished:  make(chan struct{}),
	}
	r.active[id] = a
	if r.cfg.Recorder != nil {
		r.cfg.Recorder.JobStarted(job)
	}

	handle, err := r.cfg.Backend.Start(r.ctx, req.Prompt)
	if err != nil {
		msg := "spawn failed: " + err.Error()
		done := r.finalizeLocked(a, joblog.Outcome{Status: types.StatusBackendError, Error: &msg})
		r.mu.Unlock()
		done()
		return id, nil
	}

	a.handle = handle
	a.job.Status = types.StatusRunning
	r.reg.SetStatus(id, types.StatusRunning)
	if r.cfg.Progress != nil {
		r.cfg.Progress.Started(a.job)
	}
	r.wg.Add(1)
	go r.watch(a)
	r.mu.Unlock()

	r.logger.Debug("Job started",
		"jobID", id,
		"document", sel.DocumentID,
		"range", types.LineRange{Start: sel.StartLine, End: sel.EndLine}.String(),
		"backend", r.cfg.Backend.Name(),
		"timeout", timeout)
	return id, nil
}

// Snapshot 讀取選取範圍並記下當前編輯序號
//
// 將 Seq 帶入 Request.Seq：Submit 時之後套用在範圍前方的編輯會位移
// 選取，觸及範圍的編輯則以 ErrStaleSelection 拒絕。
func (r *Runner) Snapshot(doc types.DocumentID, start, end int) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	text, err := r.cfg.Documents.ReadLines(doc, start, end)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Text: text, Seq: r.editSeq}, nil
}

// rebase 將 seq 時讀取的 selection 移到當前座標（呼叫者持有 mu）
func (r *Runner) rebase(sel types.Selection, seq uint64) (types.Selection, error) {
	if seq == 0 || seq == r.editSeq {
		return sel, nil
	}
	if len(r.edits) == 0 || r.edits[0].seq > seq+1 {
		return sel, fmt.Errorf("%w: edit history exhausted", ErrStaleSelection)
	}
	for _, e := range r.edits {
		if e.seq <= seq || e.doc != sel.DocumentID {
			continue
		}
		switch {
		case e.end < sel.StartLine:
			sel.StartLine += e.delta
			sel.EndLine += e.delta
		case e.start > sel.EndLine:
		default:
			return sel, fmt.Errorf("%w: lines %d-%d were rewritten by job %s",
				ErrStaleSelection, sel.StartLine, sel.EndLine, e.job)
		}
	}
	return sel, nil
}

// verify 確認範圍內文字未變（呼叫者持有 mu）
func (r *Runner) verify(sel types.Selection) error {
	text, err := r.cfg.Documents.ReadLines(sel.DocumentID, sel.StartLine, sel.EndLine)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStaleSelection, err)
	}
	if text != sel.OriginalText {
		return fmt.Errorf("%w: lines %d-%d no longer hold the selected text",
			ErrStaleSelection, sel.StartLine, sel.EndLine)
	}
	return nil
}

// recordEdit 記錄一次已套用的編輯（呼叫者持有 mu）
func (r *Runner) recordEdit(id types.JobID, doc types.DocumentID, res applier.Result) {
	r.editSeq++
	r.edits = append(r.edits, appliedEdit{
		seq: r.editSeq, job: id, doc: doc,
		start: res.Start, end: res.End, delta: res.Delta,
	})
	if len(r.edits) > editHistory {
		r.edits = append(r.edits[:0:0], r.edits[len(r.edits)-editHistory:]...)
	}
}

// watch 競賽 backend 完成、超時與取消
func (r *Runner) watch(a *active) {
	defer r.wg.Done()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case <-a.handle.Done():
		r.complete(a)
	case <-timer.C:
		r.expire(a)
	case <-a.cancelled:
		// Cancel 已經終結
	}
}

// expire 超時：終止 backend，終結為 timed_out
func (r *Runner) expire(a *active) {
	r.mu.Lock()
	if a.finalized {
		r.mu.Unlock()
		return
	}
	a.handle.Terminate()
	msg := fmt.Sprintf("timed out after %s", a.timeout)
	done := r.finalizeLocked(a, joblog.Outcome{Status: types.StatusTimedOut, Error: &msg})
	r.mu.Unlock()
	done()
}

// complete 處理 backend 完成
//
// 分類順序：
//  1. 傳輸錯誤 / 非零 exit -> backend_error（保留原始回應）
//  2. 零長度輸出 -> empty_output
//  3. Extractor 拒絕 -> parse_failed（保留原始回應）
//  4. 正規化後相同 -> no_change
//  5. 套用編輯並位移兄弟 job -> succeeded
func (r *Runner) complete(a *active) {
	r.mu.Lock()
	if a.finalized {
		// 已被 timeout 或 cancel 終結，晚到的結果直接丟棄
		r.mu.Unlock()
		return
	}

	res := a.handle.Completion()
	raw := string(res.Stdout)
	out := joblog.Outcome{RawResponse: raw, BytesReceived: len(res.Stdout)}

	switch {
	case res.Failed():
		detail := res.Detail()
		out.Status = types.StatusBackendError
		out.Error = &detail
		if raw == "" && len(res.Stderr) > 0 {
			out.RawResponse = string(res.Stderr)
		}

	case len(res.Stdout) == 0:
		msg := "backend returned no output"
		out.Status = types.StatusEmptyOutput
		out.Error = &msg

	default:
		r.resolve(a, raw, &out)
	}

	done := r.finalizeLocked(a, out)
	r.mu.Unlock()
	done()
}

// resolve 執行 extract -> no_change 判斷 -> apply（呼叫者持有 mu）
func (r *Runner) resolve(a *active, raw string, out *joblog.Outcome) {
	code, err := r.extract.Extract(raw, a.sel.OriginalText)
	if err != nil {
		msg := err.Error()
		out.Status = types.StatusParseFailed
		out.Error = &msg
		return
	}
	out.ParsedCode = &code

	if extract.Equivalent(code, a.sel.OriginalText) {
		out.Status = types.StatusNoChange
		return
	}

	// 使用 Registry 中的當前範圍（可能已被兄弟 job 位移）
	current, ok := r.reg.Get(a.job.ID)
	if !ok {
		current = a.job
	}
	applied, err := r.apply.Apply(a.job.ID, current.DocumentID, current.StartLine, current.EndLine, code)
	if err != nil {
		msg := "apply failed: " + err.Error()
		out.Status = types.StatusBackendError
		out.Error = &msg
		return
	}

	r.recordEdit(a.job.ID, current.DocumentID, applied)
	a.job.StartLine, a.job.EndLine = applied.Start, applied.End
	out.Status = types.StatusSucceeded
	if r.cfg.Recorder != nil && applied.Shifted > 0 {
		r.cfg.Recorder.SiblingsShifted(applied.Shifted)
	}
	r.logger.Debug("Edit applied",
		"jobID", a.job.ID,
		"lines", applied.Lines,
		"delta", applied.Delta,
		"shifted", applied.Shifted)
}

// finalizeLocked 執行終態副作用（呼叫者持有 mu）
//
// 返回一個必須在釋放 mu 之後呼叫的函式，負責通知與封存等 I/O。
func (r *Runner) finalizeLocked(a *active, out joblog.Outcome) func() {
	a.finalized = true
	a.job.Status = out.Status
	delete(r.active, a.job.ID)

	if current, ok := r.reg.Get(a.job.ID); ok && out.Status != types.StatusSucceeded {
		a.job.StartLine, a.job.EndLine = current.StartLine, current.EndLine
	}

	// 1. 清除進度指示
	if r.cfg.Progress != nil && a.handle != nil {
		r.cfg.Progress.Cleared(a.job.ID)
	}
	// 2. 從 Registry 移除，同一步完成 Job Log
	r.reg.Deregister(a.job.ID)
	if err := r.log.Finish(a.job.ID, out); err != nil {
		r.logger.Warn("Failed to finish job log entry", "jobID", a.job.ID, "error", err)
	}
	entry, logged := r.log.Get(a.job.ID)
	if !logged {
		// 沒有條目可封存；通知照常送出
		r.logger.Error("Job log entry missing at finish", "jobID", a.job.ID)
		entry = joblog.Entry{ID: a.job.ID, Status: out.Status, Error: out.Error}
	}
	remaining := r.reg.Count(a.job.DocumentID)

	if r.cfg.Recorder != nil && logged {
		r.cfg.Recorder.JobFinished(entry)
	}

	n := newNotification(a.job, entry, remaining)
	return func() {
		r.cfg.Notifier.Notify(n)
		if !logged {
			close(a.finished)
			return
		}
		for _, arc := range r.cfg.Archivers {
			if err := arc.Archive(entry); err != nil {
				r.logger.Error("Failed to archive job", "jobID", entry.ID, "error", err)
			}
		}
		close(a.finished)
	}
}

// ============================================================================
// 取消
// ============================================================================

// Cancel 取消指定 job
//
// 向 backend 發送終止訊號後立即終結為 cancelled，不等待程序真正退出。
func (r *Runner) Cancel(id types.JobID) error {
	r.mu.Lock()
	a, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	done := r.cancelLocked(a, "cancelled")
	r.mu.Unlock()
	done()
	return nil
}

// CancelNearest 取消游標所在（或最接近）的 job
func (r *Runner) CancelNearest(doc types.DocumentID, line int) (types.JobID, error) {
	r.mu.Lock()
	job, ok := r.reg.Nearest(doc, line)
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrNoJobNearby, doc)
	}
	a, ok := r.active[job.ID]
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrUnknownJob, job.ID)
	}
	done := r.cancelLocked(a, "cancelled")
	r.mu.Unlock()
	done()
	return job.ID, nil
}

// CancelAll 取消所有 job；doc 非空時只取消該文件上的 job
//
// 返回值：
//   - int: 被取消的 job 數量
func (r *Runner) CancelAll(doc types.DocumentID) int {
	r.mu.Lock()
	var dones []func()
	for _, a := range r.active {
		if doc != "" && a.job.DocumentID != doc {
			continue
		}
		dones = append(dones, r.cancelLocked(a, "cancelled"))
	}
	r.mu.Unlock()

	for _, done := range dones {
		done()
	}
	return len(dones)
}

func (r *Runner) cancelLocked(a *active, reason string) func() {
	if a.handle != nil {
		a.handle.Terminate()
	}
	done := r.finalizeLocked(a, joblog.Outcome{Status: types.StatusCancelled, Error: &reason})
	close(a.cancelled)
	return done
}

// ============================================================================
// 公開查詢
// ============================================================================

// Wait 等待 job 的終態副作用完成，返回其 Job Log 條目
func (r *Runner) Wait(ctx context.Context, id types.JobID) (joblog.Entry, error) {
	r.mu.Lock()
	a, ok := r.active[id]
	r.mu.Unlock()

	if ok {
		select {
		case <-a.finished:
		case <-ctx.Done():
			return joblog.Entry{}, ctx.Err()
		}
	}
	entry, ok := r.log.Get(id)
	if !ok {
		return joblog.Entry{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return entry, nil
}

// Active 返回所有執行中 job（以當前範圍）
func (r *Runner) Active() []types.Job {
	return r.reg.All()
}

// Log 返回 Job Log
func (r *Runner) Log() *joblog.Log {
	return r.log
}

// Registry 返回 Selection Registry
func (r *Runner) Registry() *registry.Registry {
	return r.reg
}

// Stop 取消所有 job 並等待 watcher 退出
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	n := r.CancelAll("")
	r.cancel()
	r.wg.Wait()
	r.logger.Info("Runner stopped", "cancelled_jobs", n)
}
