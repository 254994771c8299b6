package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func await(t *testing.T, h Handle) Completion {
	t.Helper()
	select {
	case <-h.Done():
		return h.Completion()
	case <-time.After(5 * time.Second):
		t.Fatal("backend did not complete")
		return Completion{}
	}
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

// ============================================================================
// HTTP
// ============================================================================

func TestHTTP_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req messagesRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "m", req.Model)
		assert.Equal(t, 123, req.MaxTokens)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "hello", req.Messages[0].Content)
		}

		io.WriteString(w, `{"content":[{"type":"text","text":"`+"```go\\nx := 1\\n```"+`"},{"type":"thinking","text":"ignored"}]}`)
	}))
	defer srv.Close()

	b, err := NewHTTP(HTTPConfig{URL: srv.URL, APIKey: "k", Model: "m", MaxTokens: 123})
	require.NoError(t, err)

	h, err := b.Start(context.Background(), "hello")
	require.NoError(t, err)
	res := await(t, h)
	require.False(t, res.Failed(), res.Detail())
	assert.Equal(t, "```go\nx := 1\n```", string(res.Stdout))
}

func TestHTTP_TransportErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "down")
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "<html>")
		},
		"api error": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"error":{"type":"overloaded","message":"busy"}}`)
		},
		"too large": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"content":[{"type":"text","text":"`+strings.Repeat("a", 200)+`"}]}`)
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			b, err := NewHTTP(HTTPConfig{URL: srv.URL, APIKey: "k", MaxResponseBytes: 100})
			require.NoError(t, err)
			h, err := b.Start(context.Background(), "p")
			require.NoError(t, err)

			res := await(t, h)
			assert.True(t, res.Failed())
			assert.Error(t, res.Err)
		})
	}
}

func TestHTTP_Terminate(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	b, err := NewHTTP(HTTPConfig{URL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	h, err := b.Start(context.Background(), "p")
	require.NoError(t, err)

	h.Terminate()
	h.Terminate()
	res := await(t, h)
	assert.Error(t, res.Err)
}

func TestNewHTTP_RequiresKey(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{})
	assert.Error(t, err)
}

// ============================================================================
// Command
// ============================================================================

func TestCommand_PromptOnStdin(t *testing.T) {
	skipWithoutShell(t)
	b, err := NewCommand(CommandConfig{Path: "/bin/sh", Args: []string{"-c", "cat; echo oops >&2"}})
	require.NoError(t, err)

	h, err := b.Start(context.Background(), "```\nx\n```")
	require.NoError(t, err)
	res := await(t, h)
	require.False(t, res.Failed(), res.Detail())
	assert.Equal(t, "```\nx\n```", string(res.Stdout))
	assert.Equal(t, "oops\n", string(res.Stderr))
}

func TestCommand_PromptPlaceholder(t *testing.T) {
	skipWithoutShell(t)
	b, err := NewCommand(CommandConfig{Path: "/bin/sh", Args: []string{"-c", `printf '%s' "$1"`, "sh", "{prompt}"}})
	require.NoError(t, err)

	h, err := b.Start(context.Background(), "hi there")
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(await(t, h).Stdout))
}

func TestCommand_NonZeroExit(t *testing.T) {
	skipWithoutShell(t)
	b, err := NewCommand(CommandConfig{Path: "/bin/sh", Args: []string{"-c", "echo bad >&2; exit 3"}})
	require.NoError(t, err)

	h, err := b.Start(context.Background(), "")
	require.NoError(t, err)
	res := await(t, h)
	assert.Equal(t, 3, res.ExitCode)
	assert.NoError(t, res.Err)
	assert.Equal(t, "exit status 3: bad", res.Detail())
}

func TestCommand_SpawnFailure(t *testing.T) {
	b, err := NewCommand(CommandConfig{Path: "/definitely/not/here"})
	require.NoError(t, err)

	h, err := b.Start(context.Background(), "p")
	assert.Error(t, err)
	assert.Nil(t, h)
}

func TestCommand_Terminate(t *testing.T) {
	skipWithoutShell(t)
	b, err := NewCommand(CommandConfig{Path: "/bin/sh", Args: []string{"-c", "sleep 30"}, GracePeriod: 100 * time.Millisecond})
	require.NoError(t, err)

	h, err := b.Start(context.Background(), "")
	require.NoError(t, err)
	h.Terminate()

	res := await(t, h)
	assert.ErrorIs(t, res.Err, ErrTerminated)
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", string(b.Bytes()))
	assert.True(t, b.Truncated())
}

// ============================================================================
// Func & factory
// ============================================================================

func TestFunc_Terminate(t *testing.T) {
	f := Func(func(ctx context.Context, prompt string) Completion {
		<-ctx.Done()
		return Completion{}
	})
	h, err := f.Start(context.Background(), "p")
	require.NoError(t, err)
	h.Terminate()
	assert.ErrorIs(t, await(t, h).Err, ErrTerminated)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	b, err := New(ctx, Config{Kind: KindHTTP, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "http", b.Name())

	b, err = New(ctx, Config{Kind: KindCommand, Command: "agent"})
	require.NoError(t, err)
	assert.Equal(t, "command", b.Name())

	_, err = New(ctx, Config{Kind: KindGemini})
	assert.Error(t, err)

	_, err = New(ctx, Config{Kind: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestCompletion_Detail(t *testing.T) {
	assert.Empty(t, Completion{}.Detail())
	assert.Equal(t, "exit status 2", Completion{ExitCode: 2}.Detail())
}
