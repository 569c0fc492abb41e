// Package analyzer sends recorded exam audio to an OpenAI-compatible backend
// for transcription and rubric scoring. Every remote failure is folded into
// the failure-sentinel ScoringResult; Analyze never returns an error.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/oralexam/internal/model"
	"github.com/pavelanni/oralexam/internal/scoring"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 2 * time.Minute
)

// Analyzer produces a scoring result for one audio submission.
type Analyzer interface {
	Analyze(ctx context.Context, audio []byte, plan model.TopicPlan) model.ScoringResult
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api          *openai.Client
	chatModel    string
	sttModel     string
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithPollPolicy overrides the asset poll interval and wall-clock cap.
func WithPollPolicy(interval, timeout time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.pollTimeout = timeout
	}
}

// New creates a new analyzer client.
func New(baseURL, apiKey, chatModel, sttModel string, opts ...Option) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	c := &Client{
		api:          openai.NewClientWithConfig(config),
		chatModel:    chatModel,
		sttModel:     sttModel,
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping verifies the API endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.ListModels(ctx)
	return err
}

// Analyze uploads the audio, waits for the remote asset to finish processing,
// transcribes the recording and asks the model for a rubric score. Any
// failure along the way degrades to the sentinel result; the caller never
// sees an error. The staged temp file and the remote asset are cleaned up on
// all paths (remote deletion is best effort).
func (c *Client) Analyze(ctx context.Context, audio []byte, plan model.TopicPlan) model.ScoringResult {
	if len(audio) == 0 {
		return scoring.Sentinel("empty audio buffer")
	}

	tmpPath, err := stageAudio(audio)
	if err != nil {
		slog.Error("stage audio", "error", err)
		return scoring.Sentinel("could not stage audio: " + err.Error())
	}
	defer func() {
		if err := os.Remove(tmpPath); err != nil {
			slog.Warn("remove staged audio", "path", tmpPath, "error", err)
		}
	}()

	asset, err := c.api.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    "exam-audio.webm",
		Bytes:   audio,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		slog.Error("upload audio asset", "error", err)
		return scoring.Sentinel("audio upload failed: " + err.Error())
	}
	defer func() {
		if err := c.api.DeleteFile(context.WithoutCancel(ctx), asset.ID); err != nil {
			slog.Warn("delete remote asset", "asset_id", asset.ID, "error", err)
		}
	}()

	outcome, detail := waitReady(ctx, c.assetStatus(asset.ID), c.pollInterval, c.pollTimeout)
	switch outcome {
	case assetReady:
		// proceed
	case assetTimedOut:
		slog.Error("asset processing timed out", "asset_id", asset.ID, "timeout", c.pollTimeout)
		return scoring.Sentinel("audio processing timed out")
	default:
		slog.Error("asset processing failed", "asset_id", asset.ID, "detail", detail)
		return scoring.Sentinel("audio processing failed: " + detail)
	}

	transcript, err := c.transcribe(ctx, tmpPath)
	if err != nil {
		slog.Error("transcription failed", "asset_id", asset.ID, "error", err)
		return scoring.Sentinel("transcription failed: " + err.Error())
	}

	raw, err := c.grade(ctx, asset.ID, transcript, plan)
	if err != nil {
		slog.Error("grading failed", "topic", plan.Topic, "error", err)
		return scoring.Sentinel("grading failed: " + err.Error())
	}

	parsed, err := scoring.ParsePayload(raw)
	if err != nil {
		slog.Error("unparseable grading reply", "topic", plan.Topic, "error", err)
		return scoring.Sentinel("unreadable grading reply: " + err.Error())
	}

	result := scoring.Normalize(parsed)
	if result.Transcript == "" {
		result.Transcript = transcript
	}
	return result
}

// stageAudio writes the audio to a process-local temp file so the
// transcription request can stream it from disk.
func stageAudio(audio []byte) (string, error) {
	f, err := os.CreateTemp("", "oralexam-*.webm")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (c *Client) transcribe(ctx context.Context, path string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.sttModel,
		FilePath: path,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) grade(ctx context.Context, assetID, transcript string, plan model.TopicPlan) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildGradingPrompt(plan)},
			{Role: openai.ChatMessageRoleUser, Content: buildSubmissionMessage(assetID, transcript)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	raw := resp.Choices[0].Message.Content
	slog.Debug("grading reply", "raw", raw)
	return raw, nil
}

// assetStatus adapts the Files API to the generic poll loop.
func (c *Client) assetStatus(assetID string) statusFunc {
	return func(ctx context.Context) (string, string, error) {
		f, err := c.api.GetFile(ctx, assetID)
		if err != nil {
			return "", "", err
		}
		return f.Status, f.StatusDetails, nil
	}
}

// assetOutcome is the typed result of waiting on a remote asset.
type assetOutcome int

const (
	assetReady assetOutcome = iota
	assetFailed
	assetTimedOut
)

// statusFunc fetches the current (status, detail) of a remote asset.
type statusFunc func(ctx context.Context) (status, detail string, err error)

// waitReady polls the asset status on a fixed interval until it leaves the
// processing state or the wall-clock cap is exceeded. An empty status is
// treated as ready: some backends mark uploads processed immediately and
// omit the field.
func waitReady(ctx context.Context, fetch statusFunc, interval, timeout time.Duration) (assetOutcome, string) {
	deadline := time.Now().Add(timeout)
	for {
		status, detail, err := fetch(ctx)
		if err != nil {
			return assetFailed, err.Error()
		}
		switch status {
		case "", "processed", "ready", "uploaded":
			return assetReady, ""
		case "error", "failed":
			if detail == "" {
				detail = "remote asset entered error state"
			}
			return assetFailed, detail
		}
		if time.Now().Add(interval).After(deadline) {
			return assetTimedOut, fmt.Sprintf("still %q after %s", status, timeout)
		}
		select {
		case <-ctx.Done():
			return assetFailed, ctx.Err().Error()
		case <-time.After(interval):
		}
	}
}
