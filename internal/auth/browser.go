package auth

import (
	"context"
	"runtime"

	"github.com/systmms/envlock/pkg/exec"
)

// Opener shows a URL to the user, normally in the system browser.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

func (f OpenerFunc) Open(ctx context.Context, url string) error {
	return f(ctx, url)
}

// BrowserOpener launches the platform's URL handler.
type BrowserOpener struct {
	Executor exec.CommandExecutor
	GOOS     string
}

// NewBrowserOpener returns an opener for the running platform.
func NewBrowserOpener(executor exec.CommandExecutor) *BrowserOpener {
	if executor == nil {
		executor = exec.DefaultExecutor()
	}
	return &BrowserOpener{Executor: executor, GOOS: runtime.GOOS}
}

func (b *BrowserOpener) Open(ctx context.Context, url string) error {
	name, args := browserCommand(b.GOOS, url)
	return b.Executor.Start(ctx, name, args...)
}

func browserCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}
