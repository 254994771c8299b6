// ============================================================================
// splice Journal - 終態審計日誌
// ============================================================================
//
// Package: internal/journal
// 文件: journal.go
// 功能: 以 JSON Lines 追加記錄每個 job 的終態，供 `splice history` 查詢。
//       與記憶體中的 Job Log 不同，journal 跨行程重啟保留。
//
// 格式: 每行一筆 Record，含 CRC32 校驗和
//   {"seq":1,"job_id":3,"status":"succeeded",...,"checksum":123456}
//
// 寫入策略:
//   - 記錄先進入緩衝區
//   - 緩衝區滿、超過 flush 間隔、或 SyncOnAppend 時寫入並 fsync
//   - 開啟既有檔案時從最後一筆記錄恢復 seq
//
// ============================================================================

package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/splice/internal/joblog"
	"github.com/ChuLiYu/splice/pkg/types"
)

// Record 一筆終態記錄
type Record struct {
	Seq           uint64           `json:"seq"`
	JobID         types.JobID      `json:"job_id"`
	Status        types.JobStatus  `json:"status"`
	Mode          string           `json:"mode,omitempty"`
	DocumentID    types.DocumentID `json:"document_id"`
	Range         types.LineRange  `json:"range"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	Error         string           `json:"error,omitempty"`
	BytesSent     int              `json:"bytes_sent"`
	BytesReceived int              `json:"bytes_received"`
	Checksum      uint32           `json:"checksum"`
}

// Duration job 耗時
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Handler Replay 時逐筆處理記錄
type Handler func(Record) error

// Options 寫入選項
type Options struct {
	BufferSize    int           // 緩衝筆數，預設 32
	FlushInterval time.Duration // 最長緩衝時間，預設 1s
	SyncOnAppend  bool          // 每筆都寫入並 fsync
}

// Journal JSONL 審計日誌
type Journal struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	w         *bufio.Writer
	seq       uint64
	buffer    []Record
	opts      Options
	lastFlush time.Time
	closed    bool
}

// Open 建立或開啟 journal
//
// 行為：
//   - 檔案不存在時建立，seq 從 0 開始
//   - 檔案已存在時讀取最後一筆記錄的 seq 並繼續
func Open(path string, opts Options) (*Journal, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 32
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}

	seq, err := lastSeq(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return &Journal{
		path:      path,
		file:      file,
		w:         bufio.NewWriter(file),
		seq:       seq,
		buffer:    make([]Record, 0, opts.BufferSize),
		opts:      opts,
		lastFlush: time.Now(),
	}, nil
}

// Append 追加一筆記錄，分配 seq 並計算校驗和
func (j *Journal) Append(rec Record) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrClosed
	}
	j.seq++
	rec.Seq = j.seq
	rec.Checksum = 0
	rec.Checksum = Checksum(rec)
	j.buffer = append(j.buffer, rec)

	if j.opts.SyncOnAppend || len(j.buffer) >= j.opts.BufferSize || time.Since(j.lastFlush) > j.opts.FlushInterval {
		if err := j.flushLocked(); err != nil {
			return rec.Seq, err
		}
	}
	return rec.Seq, nil
}

// Archive 將 Job Log 條目寫入 journal（runner.Archiver）
func (j *Journal) Archive(e joblog.Entry) error {
	rec := Record{
		JobID:         e.ID,
		Status:        e.Status,
		Mode:          e.Mode,
		DocumentID:    e.DocumentID,
		Range:         e.Range,
		StartedAt:     e.StartedAt,
		FinishedAt:    e.FinishedAt,
		BytesSent:     e.BytesSent,
		BytesReceived: e.BytesReceived,
	}
	if e.Error != nil {
		rec.Error = *e.Error
	}
	_, err := j.Append(rec)
	return err
}

// Flush 強制寫入緩衝區並 fsync
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	enc := json.NewEncoder(j.w)
	for _, rec := range j.buffer {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("journal: encode seq=%d: %w", rec.Seq, err)
		}
	}
	j.buffer = j.buffer[:0]
	j.lastFlush = time.Now()
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return nil
}

// LastSeq 當前 seq
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Close 寫入剩餘記錄並關閉檔案
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.flushLocked(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// Replay 依序讀取 path 的所有記錄並驗證校驗和
//
// 任何解析錯誤或校驗失敗都會中止並返回 *CorruptionError / *ChecksumError。
func Replay(path string, handler Handler) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("journal: open: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	for {
		offset := dec.InputOffset()
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return nil
			}
			return &CorruptionError{Offset: offset, Cause: err}
		}
		if want := Checksum(rec); rec.Checksum != want {
			return &ChecksumError{Seq: rec.Seq, Expected: want, Actual: rec.Checksum}
		}
		if err := handler(rec); err != nil {
			return err
		}
	}
}

// Tail 返回最新的 n 筆記錄（新到舊）；n <= 0 表示全部
func Tail(path string, n int) ([]Record, error) {
	var all []Record
	err := Replay(path, func(r Record) error {
		all = append(all, r)
		if n > 0 && len(all) > n {
			all = all[1:]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, k := 0, len(all)-1; i < k; i, k = i+1, k-1 {
		all[i], all[k] = all[k], all[i]
	}
	return all, nil
}

// lastSeq 掃描既有檔案取得最後的 seq
func lastSeq(path string) (uint64, error) {
	var seq uint64
	err := Replay(path, func(r Record) error {
		seq = r.Seq
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("journal: recover seq: %w", err)
	}
	return seq, nil
}
