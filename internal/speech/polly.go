package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
)

// synthClient is the slice of the Polly API the synthesizer uses.
type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyConfig configures the Amazon Polly synthesizer.
type PollyConfig struct {
	Region  string
	VoiceID string
	Engine  string
	Timeout time.Duration
}

// PollySynthesizer renders text to MP3 files through Amazon Polly.
type PollySynthesizer struct {
	client synthClient
	cfg    PollyConfig
}

// NewPollySynthesizer creates a Polly-backed synthesizer using the default
// AWS credential chain.
func NewPollySynthesizer(ctx context.Context, cfg PollyConfig) (*PollySynthesizer, error) {
	applyPollyDefaults(&cfg)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &PollySynthesizer{client: polly.NewFromConfig(awsCfg), cfg: cfg}, nil
}

// NewPollySynthesizerWithClient creates a synthesizer over an explicit client
// (used by tests).
func NewPollySynthesizerWithClient(client synthClient, cfg PollyConfig) *PollySynthesizer {
	applyPollyDefaults(&cfg)
	return &PollySynthesizer{client: client, cfg: cfg}
}

func applyPollyDefaults(cfg *PollyConfig) {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Zhiyu"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
}

// Synthesize renders text to a temporary MP3 file and returns its path. The
// caller removes the file through Cleanup once playback finishes.
func (s *PollySynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	engine := pollytypes.EngineStandard
	if strings.EqualFold(s.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	output, err := s.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(s.cfg.VoiceID),
	})
	if err != nil {
		return "", fmt.Errorf("polly synthesize: %w", err)
	}
	if output == nil || output.AudioStream == nil {
		return "", errors.New("polly synthesize: empty audio stream")
	}
	defer output.AudioStream.Close()

	f, err := os.CreateTemp("", "cohost-tts-*.mp3")
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	if _, err := io.Copy(f, output.AudioStream); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close audio file: %w", err)
	}
	return f.Name(), nil
}

// Cleanup removes a synthesized audio file.
func (s *PollySynthesizer) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
