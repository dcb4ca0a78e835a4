package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"github.com/ent0n29/receptionist/internal/audio"
	"github.com/ent0n29/receptionist/internal/reliability"
	"github.com/ent0n29/receptionist/internal/tools"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultGeminiVoice = "Kore"
)

// ErrConnClosed is returned when sending on a closed channel.
var ErrConnClosed = errors.New("live connection closed")

type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	APIVersion string
}

// GeminiDialer opens Gemini Live sessions.
type GeminiDialer struct {
	client *genai.Client
}

func NewGeminiDialer(ctx context.Context, cfg GeminiConfig) (*GeminiDialer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" || cfg.APIVersion != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL, APIVersion: cfg.APIVersion}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiDialer{client: client}, nil
}

func (d *GeminiDialer) Connect(ctx context.Context, model string, cb Callbacks, cfg SessionConfig) (Conn, error) {
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}
	session, err := d.client.Live.Connect(ctx, model, liveConnectConfig(cfg))
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("connect live session (status %d, retryable=%t): %w",
				apiErr.Code, reliability.IsRetryableHTTPStatus(apiErr.Code), err)
		}
		return nil, fmt.Errorf("connect live session: %w", err)
	}
	c := &geminiConn{session: session, cb: cb}
	go c.readLoop()
	return c, nil
}

type geminiConn struct {
	session   *genai.Session
	cb        Callbacks
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	openOnce  sync.Once
}

func (c *geminiConn) SendRealtimeInput(ctx context.Context, blob audio.Blob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: blob.Data, MIMEType: blob.MIMEType},
	})
}

func (c *geminiConn) SendToolResponse(ctx context.Context, resp ToolResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       resp.ID,
			Name:     resp.Name,
			Response: resp.Response,
		}},
	})
}

func (c *geminiConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.session.Close()
	})
	return err
}

func (c *geminiConn) readLoop() {
	for {
		msg, err := c.session.Receive()
		if c.closed.Load() {
			return
		}
		if err != nil {
			if reliability.IsNormalClose(err) {
				c.cb.closed()
				return
			}
			c.cb.fail(fmt.Errorf("live session receive: %w", err))
			return
		}
		if msg.SetupComplete != nil {
			c.openOnce.Do(c.cb.open)
			continue
		}
		// Some deployments skip setupComplete; the first content implies the channel is up.
		c.openOnce.Do(c.cb.open)
		if out := convertServerMessage(msg); !out.Empty() {
			c.cb.message(out)
		}
	}
}

func convertServerMessage(msg *genai.LiveServerMessage) *ServerMessage {
	out := &ServerMessage{}
	if msg == nil {
		return out
	}
	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil {
					continue
				}
				if !strings.HasPrefix(part.InlineData.MIMEType, "audio/") || len(part.InlineData.Data) == 0 {
					continue
				}
				out.Audio = append(out.Audio, part.InlineData.Data)
			}
		}
		out.Interrupted = sc.Interrupted
		out.TurnComplete = sc.TurnComplete
		if sc.InputTranscription != nil {
			out.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			out.OutputTranscript = sc.OutputTranscription.Text
		}
	}
	return out
}

func liveConnectConfig(cfg SessionConfig) *genai.LiveConnectConfig {
	voiceName := cfg.VoiceName
	if strings.TrimSpace(voiceName) == "" {
		voiceName = DefaultGeminiVoice
	}
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceName},
			},
		},
	}
	if strings.TrimSpace(cfg.Instructions) != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.Instructions, genai.RoleUser)
	}
	if len(cfg.Tools) > 0 {
		lc.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(cfg.Tools)}}
	}
	if cfg.Transcribe {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return lc
}

func geminiDeclarations(decls []tools.Declaration) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		out = append(out, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  geminiSchema(d.Parameters),
		})
	}
	return out
}

func geminiSchema(schema *jsonschema.Schema) *genai.Schema {
	if schema == nil {
		return nil
	}
	gs := &genai.Schema{
		Format:      schema.Format,
		Description: schema.Description,
		Items:       geminiSchema(schema.Items),
		Required:    schema.Required,
	}
	for _, v := range schema.Enum {
		gs.Enum = append(gs.Enum, fmt.Sprintf("%v", v))
	}
	if len(schema.Properties) > 0 {
		gs.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		for name, prop := range schema.Properties {
			gs.Properties[name] = geminiSchema(prop)
		}
		gs.PropertyOrdering = append(gs.PropertyOrdering, schema.PropertyOrder...)
	}
	switch schema.Type {
	case "object":
		gs.Type = genai.TypeObject
	case "array":
		gs.Type = genai.TypeArray
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	}
	return gs
}
