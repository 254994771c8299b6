package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點
// 2. 初始化並執行 CLI 命令
// 3. 處理頂層錯誤與 panic recovery
// ============================================================================

import (
	"errors"
	"fmt"
	"os"

	"github.com/ChuLiYu/splice/internal/cli"
)

// 由 CI 注入
var (
	version = ""
	commit  = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "嚴重錯誤: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	if version != "" {
		rootCmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
	}

	if err := rootCmd.Execute(); err != nil {
		// exec 轉發被執行命令的退出碼，輸出已直接串流，不再重複列印
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "錯誤: %v\n", err)
		os.Exit(1)
	}
}

/*
# 編譯
go build -o bin/splice ./cmd/splice

# 編譯時注入版本
go build -ldflags "-X main.version=0.3.0 -X main.commit=$(git rev-parse HEAD)" ./cmd/splice
*/
