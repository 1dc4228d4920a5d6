package health

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// FFmpegChecker verifies the ffmpeg binary used for snapshots can decode
// H.264 and encode PNG.
type FFmpegChecker struct {
	binaryPath string
	timeout    time.Duration
	version    string
}

func NewFFmpegChecker(binaryPath string, timeout time.Duration) *FFmpegChecker {
	if binaryPath == "" {
		if path, err := exec.LookPath("ffmpeg"); err == nil {
			binaryPath = path
		}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &FFmpegChecker{
		binaryPath: binaryPath,
		timeout:    timeout,
	}
}

func (f *FFmpegChecker) Name() string {
	return "ffmpeg"
}

// Check reports ffmpeg as degraded rather than down: streaming works
// without it, only snapshots fail.
func (f *FFmpegChecker) Check(ctx context.Context) error {
	if err := f.checkBinary(ctx); err != nil {
		return Degraded(fmt.Errorf("ffmpeg binary check failed: %w", err))
	}

	if err := f.checkCodecs(ctx); err != nil {
		return Degraded(fmt.Errorf("codec availability check failed: %w", err))
	}

	return nil
}

func (f *FFmpegChecker) Details() map[string]interface{} {
	return map[string]interface{}{
		"binary_path": f.binaryPath,
		"version":     f.version,
	}
}

func (f *FFmpegChecker) run(ctx context.Context, args ...string) ([]byte, error) {
	if f.binaryPath == "" {
		return nil, fmt.Errorf("ffmpeg binary not found in PATH")
	}

	cmdCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	return exec.CommandContext(cmdCtx, f.binaryPath, args...).Output()
}

func (f *FFmpegChecker) checkBinary(ctx context.Context) error {
	output, err := f.run(ctx, "-hide_banner", "-version")
	if err != nil {
		return err
	}

	first, _, _ := strings.Cut(string(output), "\n")
	if !strings.HasPrefix(first, "ffmpeg version") {
		return fmt.Errorf("unexpected ffmpeg version output")
	}
	f.version = strings.TrimSpace(first)
	return nil
}

func (f *FFmpegChecker) checkCodecs(ctx context.Context) error {
	decoders, err := f.run(ctx, "-hide_banner", "-decoders")
	if err != nil {
		return fmt.Errorf("failed to get decoder list: %w", err)
	}
	if !hasCodec(decoders, "h264") {
		return fmt.Errorf("missing h264 decoder")
	}

	encoders, err := f.run(ctx, "-hide_banner", "-encoders")
	if err != nil {
		return fmt.Errorf("failed to get encoder list: %w", err)
	}
	if !hasCodec(encoders, "png") {
		return fmt.Errorf("missing png encoder")
	}
	return nil
}

// hasCodec scans ffmpeg's "-decoders"/"-encoders" listing, where each
// entry reads " V....D h264    H.264 / AVC ...".
func hasCodec(listing []byte, name string) bool {
	sc := bufio.NewScanner(bytes.NewReader(listing))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}
