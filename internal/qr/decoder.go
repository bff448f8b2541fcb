package qr

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Decoder reads the QR symbols from one page image. Implementations are
// black boxes: image in, raw symbol payloads out.
type Decoder interface {
	Decode(ctx context.Context, imagePath string) ([]string, error)
}

// ZbarDecoder shells out to zbarimg (zbar-tools).
type ZbarDecoder struct {
	// Bin is the decoder binary, "zbarimg" by default.
	Bin string
	// Timeout bounds one invocation.
	Timeout time.Duration
}

// NewZbarDecoder creates a decoder with defaults applied.
func NewZbarDecoder(bin string, timeout time.Duration) *ZbarDecoder {
	if bin == "" {
		bin = "zbarimg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ZbarDecoder{Bin: bin, Timeout: timeout}
}

// Decode runs zbarimg against the image and returns one payload per decoded
// symbol. A page with no symbols returns an empty slice, not an error.
func (d *ZbarDecoder) Decode(ctx context.Context, imagePath string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	// -Sdisable -Sqrcode.enable: QR symbols only
	// --quiet: suppress the summary line
	cmd := exec.CommandContext(ctx, d.Bin,
		"--quiet",
		"-Sdisable",
		"-Sqrcode.enable",
		imagePath,
	)

	output, err := cmd.Output()
	if err != nil {
		// zbarimg exits 4 when no symbol was found; that is a valid
		// empty decode, not a failure.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 4 {
			return nil, nil
		}
		return nil, fmt.Errorf("%s failed: %w (output: %s)", d.Bin, err, strings.TrimSpace(string(output)))
	}

	var payloads []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Lines look like "QR-Code:<payload>".
		if data, ok := strings.CutPrefix(line, "QR-Code:"); ok {
			payloads = append(payloads, data)
		}
	}
	return payloads, nil
}
