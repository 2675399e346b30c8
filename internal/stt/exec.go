package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-medic/internal/audio"
	"github.com/loqalabs/loqa-medic/internal/config"
	"github.com/mattn/go-shellwords"
)

const (
	minEnergyThreshold     = 300
	ambientThresholdFactor = 1.5
)

type execCapturer struct {
	listen  []string
	recog   []string
	devices []string
	cfg     config.STTConfig

	mu        sync.Mutex
	threshold float64
}

type recordStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type execResult struct {
	Text   string `json:"text"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewExecCapturer drives two external programs: listen_command records WAV
// audio to --output, and command transcribes the WAV passed as --audio.
func NewExecCapturer(cfg config.STTConfig) (Capturer, error) {
	listen, err := parseCommand("stt listen", cfg.ListenCommand)
	if err != nil {
		return nil, err
	}
	recog, err := parseCommand("stt", cfg.Command)
	if err != nil {
		return nil, err
	}
	var devices []string
	if cfg.DevicesCommand != "" {
		if devices, err = parseCommand("stt devices", cfg.DevicesCommand); err != nil {
			return nil, err
		}
	}
	return &execCapturer{
		listen:    listen,
		recog:     recog,
		devices:   devices,
		cfg:       cfg,
		threshold: minEnergyThreshold,
	}, nil
}

func parseCommand(name, command string) ([]string, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", name, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command is empty", name)
	}
	return args, nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func (c *execCapturer) Calibrate(ctx context.Context, d time.Duration) error {
	clip, status, err := c.record(ctx, "--duration", seconds(d))
	if err != nil {
		return err
	}
	if status.Status != "" && status.Status != "ok" {
		return fmt.Errorf("calibration recording: %s", status.Status)
	}
	threshold := math.Max(audio.RMS(clip.Data)*ambientThresholdFactor, minEnergyThreshold)
	c.mu.Lock()
	c.threshold = threshold
	c.mu.Unlock()
	return nil
}

func (c *execCapturer) Listen(ctx context.Context, timeout, maxPhrase time.Duration) (audio.PCM, error) {
	c.mu.Lock()
	threshold := c.threshold
	c.mu.Unlock()

	clip, status, err := c.record(ctx,
		"--timeout", seconds(timeout),
		"--phrase-limit", seconds(maxPhrase),
		"--threshold", strconv.FormatFloat(threshold, 'f', 1, 64),
	)
	if err != nil {
		return audio.PCM{}, err
	}
	switch status.Status {
	case "", "ok":
	case "timeout":
		return audio.PCM{}, ErrWaitTimeout
	default:
		return audio.PCM{}, fmt.Errorf("recorder: %s %s", status.Status, status.Error)
	}
	if len(clip.Data) == 0 {
		return audio.PCM{}, ErrNoSpeech
	}
	return clip, nil
}

func (c *execCapturer) record(ctx context.Context, extra ...string) (audio.PCM, recordStatus, error) {
	file, err := os.CreateTemp("", "medic_capture_*.wav")
	if err != nil {
		return audio.PCM{}, recordStatus{}, fmt.Errorf("temp file: %w", err)
	}
	path := file.Name()
	file.Close()
	defer os.Remove(path)

	args := append([]string{}, c.listen[1:]...)
	args = append(args, extra...)
	args = append(args,
		"--output", path,
		"--sample-rate", strconv.Itoa(c.cfg.SampleRate),
		"--channels", strconv.Itoa(c.cfg.Channels),
	)
	command := exec.CommandContext(ctx, c.listen[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return audio.PCM{}, recordStatus{}, fmt.Errorf("record command failed: %w: %s", err, stderr.String())
	}

	var status recordStatus
	if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 {
		if err := json.Unmarshal(out, &status); err != nil {
			return audio.PCM{}, recordStatus{}, fmt.Errorf("decode record status: %w", err)
		}
	}
	if status.Status == "timeout" {
		return audio.PCM{}, status, nil
	}
	clip, err := audio.ReadWAVFile(path)
	if err != nil {
		return audio.PCM{}, status, fmt.Errorf("read recording: %w", err)
	}
	return clip, status, nil
}

func (c *execCapturer) Transcribe(ctx context.Context, clip audio.PCM) (string, error) {
	path, err := audio.WriteWAVFile(clip, "medic_stt_*.wav")
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	args := append([]string{}, c.recog[1:]...)
	args = append(args, "--audio", path)
	if c.cfg.ModelPath != "" {
		args = append(args, "--model", c.cfg.ModelPath)
	}
	if c.cfg.Language != "" {
		args = append(args, "--language", c.cfg.Language)
	}

	command := exec.CommandContext(ctx, c.recog[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: stt command failed: %v: %s", ErrUnavailable, err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	switch resp.Status {
	case "unknown_value":
		return "", ErrNoSpeech
	case "request_error":
		return "", fmt.Errorf("%w: %s", ErrUnavailable, resp.Error)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("stt: %s", resp.Error)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", ErrNoSpeech
	}
	return resp.Text, nil
}

// ListDevices prints one device name per line from devices_command.
func (c *execCapturer) ListDevices(ctx context.Context) ([]string, error) {
	if len(c.devices) == 0 {
		return nil, fmt.Errorf("stt.devices_command is not configured")
	}
	output, err := exec.CommandContext(ctx, c.devices[0], c.devices[1:]...).Output()
	if err != nil {
		return nil, fmt.Errorf("devices command failed: %w", err)
	}
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	return names, scanner.Err()
}
