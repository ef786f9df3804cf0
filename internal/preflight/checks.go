package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Coffee285/AVS-sub001/internal/relay"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBinary verifies that command resolves on PATH or as a file path.
func CheckBinary(name, command string, optional bool) Result {
	command = strings.TrimSpace(command)
	result := Result{Name: name, Optional: optional}
	if command == "" {
		result.Detail = "command not configured"
		return result
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		result.Detail = fmt.Sprintf("binary %q not found", command)
		return result
	}
	result.Passed = true
	result.Detail = resolved
	return result
}

// CheckFFmpegForEncoder looks for ffmpeg next to the encoder binary first,
// then on PATH. The drapto CLI shells out to whichever it finds.
func CheckFFmpegForEncoder(encoderBinary string) Result {
	const name = "FFmpeg"
	if resolved, err := exec.LookPath(strings.TrimSpace(encoderBinary)); err == nil {
		sidecar := filepath.Join(filepath.Dir(resolved), executableName("ffmpeg"))
		if info, err := os.Stat(sidecar); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return Result{Name: name, Passed: true, Detail: sidecar}
		}
	}
	return CheckBinary(name, "ffmpeg", false)
}

// CheckRedis verifies the relay's Redis server answers PING.
func CheckRedis(ctx context.Context, url string) Result {
	const name = "Redis relay"
	client, err := relay.NewClient(url)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer client.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "ping timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ping timed out (server unreachable)"
	}
	return err.Error()
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}
