package transcript

// ============================================================================
// 職責說明：
// 1. 每個終態 job 寫出一份 markdown 記錄（prompt、原始回應、解析後程式碼）
// 2. 使用原子性寫入（temp file + rename）防止半寫入檔案
// 3. 檔頭為 YAML front matter，載入時驗證 schema 版本
// 4. 依 session 分目錄，Prune 保留最近 N 份
// ============================================================================

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/splice/internal/joblog"
	"github.com/ChuLiYu/splice/pkg/types"
)

// SchemaVersion front matter 版本
const SchemaVersion = 1

const (
	frontMatterDelim = "---\n"
	fileExt          = ".md"

	headingPrompt   = "## Prompt"
	headingResponse = "## Raw response"
	headingCode     = "## Parsed code"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedTranscript = errors.New("transcript file is corrupted")
	ErrIncompatibleVersion = errors.New("transcript schema version is incompatible")
	ErrTranscriptNotFound  = errors.New("transcript not found")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Meta front matter 內容
type Meta struct {
	SchemaVer  int              `yaml:"schema_version"`
	Session    string           `yaml:"session"`
	JobID      types.JobID      `yaml:"job_id"`
	Status     types.JobStatus  `yaml:"status"`
	Mode       string           `yaml:"mode,omitempty"`
	DocumentID types.DocumentID `yaml:"document"`
	Range      string           `yaml:"range"`
	StartedAt  time.Time        `yaml:"started_at"`
	FinishedAt time.Time        `yaml:"finished_at"`
	Error      string           `yaml:"error,omitempty"`

	Path string `yaml:"-"` // 載入來源
}

// Transcript 完整記錄
type Transcript struct {
	Meta
	Prompt      string
	RawResponse string
	ParsedCode  string
}

// Store 記錄目錄管理器，實作 runner.Archiver
type Store struct {
	root    string
	session string
	mu      sync.Mutex
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewStore 建立 Store，本次行程的記錄寫在 root/<session>/ 下
//
// session 為空時產生新的 UUID。
func NewStore(root, session string) *Store {
	if session == "" {
		session = uuid.NewString()
	}
	return &Store{root: root, session: session}
}

// Session 本次行程的 session id
func (s *Store) Session() string { return s.session }

// Dir 本次 session 的目錄
func (s *Store) Dir() string { return filepath.Join(s.root, s.session) }

// Archive 原子性寫入一份 job 記錄
//
// 流程：
// 1. 渲染 front matter 與內文
// 2. 寫入同目錄的臨時檔案並 fsync
// 3. os.Rename 原子性替換
func (s *Store) Archive(e joblog.Entry) error {
	t := Transcript{
		Meta: Meta{
			SchemaVer:  SchemaVersion,
			Session:    s.session,
			JobID:      e.ID,
			Status:     e.Status,
			Mode:       e.Mode,
			DocumentID: e.DocumentID,
			Range:      e.Range.String(),
			StartedAt:  e.StartedAt.UTC(),
			FinishedAt: e.FinishedAt.UTC(),
		},
		Prompt:      e.Prompt,
		RawResponse: e.RawResponse,
	}
	if e.Error != nil {
		t.Error = *e.Error
	}
	if e.ParsedCode != nil {
		t.ParsedCode = *e.ParsedCode
	}

	data, err := Render(t)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create transcript dir: %w", err)
	}
	path := filepath.Join(dir, fileName(e.ID))
	return writeAtomic(path, data)
}

// List 列出 root 下所有 session 的記錄（依完成時間新到舊）
func (s *Store) List() ([]Meta, error) {
	paths, err := filepath.Glob(filepath.Join(s.root, "*", "*"+fileExt))
	if err != nil {
		return nil, err
	}
	metas := make([]Meta, 0, len(paths))
	for _, p := range paths {
		t, err := Load(p)
		if err != nil {
			// 損壞的檔案不影響其他記錄
			continue
		}
		metas = append(metas, t.Meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].FinishedAt.After(metas[j].FinishedAt)
	})
	return metas, nil
}

// Find 依 session 與 job id 載入記錄；session 為空時使用本次 session
func (s *Store) Find(session string, id types.JobID) (Transcript, error) {
	if session == "" {
		session = s.session
	}
	return Load(filepath.Join(s.root, session, fileName(id)))
}

// Prune 只保留最近 keep 份記錄，返回刪除數量
func (s *Store) Prune(keep int) (int, error) {
	metas, err := s.List()
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	removed := 0
	for _, m := range metas[min(keep, len(metas)):] {
		if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to prune %s: %w", m.Path, err)
		}
		removed++
	}
	return removed, nil
}

// Load 載入並驗證一份記錄
func Load(path string) (Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Transcript{}, fmt.Errorf("%w: %s", ErrTranscriptNotFound, path)
		}
		return Transcript{}, fmt.Errorf("failed to read transcript: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return Transcript{}, err
	}
	t.Path = path
	return t, nil
}

// Render 將記錄渲染為 markdown
func Render(t Transcript) ([]byte, error) {
	front, err := yaml.Marshal(t.Meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal front matter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString(frontMatterDelim)
	b.Write(front)
	b.WriteString(frontMatterDelim)
	fmt.Fprintf(&b, "\n# Job %s\n", t.JobID)
	writeBlock(&b, headingPrompt, t.Prompt)
	writeBlock(&b, headingResponse, t.RawResponse)
	if t.ParsedCode != "" {
		writeBlock(&b, headingCode, t.ParsedCode)
	}
	return b.Bytes(), nil
}

// Parse 解析 Render 的輸出
func Parse(data []byte) (Transcript, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim) {
		return Transcript{}, fmt.Errorf("%w: missing front matter", ErrCorruptedTranscript)
	}
	rest := text[len(frontMatterDelim):]
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return Transcript{}, fmt.Errorf("%w: unterminated front matter", ErrCorruptedTranscript)
	}

	var t Transcript
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &t.Meta); err != nil {
		return Transcript{}, fmt.Errorf("%w: %v", ErrCorruptedTranscript, err)
	}
	if t.SchemaVer != SchemaVersion {
		return Transcript{}, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, t.SchemaVer, SchemaVersion)
	}

	body := rest[end+1+len(frontMatterDelim):]
	t.Prompt, body = readBlock(body, headingPrompt)
	t.RawResponse, body = readBlock(body, headingResponse)
	t.ParsedCode, _ = readBlock(body, headingCode)
	return t, nil
}

// ============================================================================
// 內部工具
// ============================================================================

func fileName(id types.JobID) string {
	return fmt.Sprintf("job-%06d%s", uint64(id), fileExt)
}

// writeBlock 以比內容中最長反引號序列更長的 fence 包住內容
func writeBlock(b *bytes.Buffer, heading, content string) {
	fence := fenceFor(content)
	fmt.Fprintf(b, "\n%s\n\n%s\n%s", heading, fence, content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(fence + "\n")
}

// readBlock 讀取 heading 之後的 fenced 內容，並返回剩餘部分
func readBlock(body, heading string) (string, string) {
	i := strings.Index(body, "\n"+heading+"\n\n")
	if i < 0 {
		return "", body
	}
	rest := body[i+len(heading)+3:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", ""
	}
	fence := rest[:nl]
	rest = rest[nl+1:]
	end := strings.Index(rest, "\n"+fence+"\n")
	if end < 0 {
		return rest, ""
	}
	return rest[:end], rest[end+len(fence)+2:]
}

func fenceFor(content string) string {
	longest, run := 0, 0
	for _, r := range content {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return strings.Repeat("`", max(3, longest+1))
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp transcript: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp transcript: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp transcript: %w", err)
	}
	// 原子性重新命名（關鍵步驟）
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename transcript: %w", err)
	}
	return nil
}
