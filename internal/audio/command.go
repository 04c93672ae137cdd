package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Command is a fully-built subprocess invocation. Stderr is captured both
// for parsing (ffmpeg writes analysis output there) and for error
// reporting.
type Command struct {
	Binary string
	Args   []string
}

// String returns the command line for logging.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run executes the command and returns captured stderr. On a non-zero
// exit the stderr tail is folded into the error.
func (c *Command) Run(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stderr.String(), fmt.Errorf("%s failed: %w: %s", c.Binary, err, stderrTail(stderr.String(), 5))
	}
	return stderr.String(), nil
}

// stderrTail returns the last n non-empty lines of s.
func stderrTail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	var kept []string
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, strings.TrimSpace(line))
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, " | ")
}

// CommandBuilder builds ffmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	inputArgs  []string
	inputs     []string
	filters    []string
	outputArgs []string
	output     string
	logLevel   string
}

// NewCommandBuilder creates a builder for the given ffmpeg binary.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel overrides the ffmpeg log level. Analysis filters need "info"
// because they report on stderr.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// InputArgs adds arguments that precede the next input.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input adds an input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.inputs = append(b.inputs, input)
	return b
}

// AudioFilter appends to the audio filter chain.
func (b *CommandBuilder) AudioFilter(filter string) *CommandBuilder {
	b.filters = append(b.filters, filter)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// AudioQuality sets the VBR quality for codecs that support it.
func (b *CommandBuilder) AudioQuality(q int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-q:a", strconv.Itoa(q))
	return b
}

// AudioChannels sets the number of output channels.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	return b
}

// NoVideo drops any video streams.
func (b *CommandBuilder) NoVideo() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vn")
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// NullOutput discards the output, used for analysis-only passes.
func (b *CommandBuilder) NullOutput() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", "null")
	b.output = "-"
	return b
}

// Build assembles the command. Outputs are always overwritten; every
// invocation targets a path the caller owns.
func (b *CommandBuilder) Build() *Command {
	args := []string{"-hide_banner", "-loglevel", b.logLevel, "-y", "-nostdin"}

	args = append(args, b.inputArgs...)
	for _, input := range b.inputs {
		args = append(args, "-i", input)
	}
	if len(b.filters) > 0 {
		args = append(args, "-af", strings.Join(b.filters, ","))
	}
	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{Binary: b.binary, Args: args}
}
