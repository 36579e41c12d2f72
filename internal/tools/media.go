package tools

import (
	"context"
	"fmt"
	"strings"

	"roughcut/internal/config"
	rcerrors "roughcut/internal/errors"
	"roughcut/internal/external"
	"roughcut/internal/ports"
)

func voiceRequest(text string) external.VoiceRequest {
	return external.VoiceRequest{Text: text}
}

func voiceCredentialVar() string {
	return config.CredentialEnvVar("elevenlabs")
}

// credentialError names only the environment variable, never a value.
func credentialError(tool, credential string) error {
	envVar := config.CredentialEnvVar(credential)
	return rcerrors.New(rcerrors.KindConfiguration, tool, "credentials",
		fmt.Sprintf("credential %s is not configured", credential)).
		WithSuggestion(rcerrors.Suggestion{
			Action:   fmt.Sprintf("Set the %s environment variable and restart the broker", envVar),
			Priority: 1,
		})
}

// generateVoiceover synthesizes narration audio into the voice assets dir.
type generateVoiceover struct {
	deps Deps
}

func newGenerateVoiceover(deps Deps) ports.ToolExecutor {
	return &generateVoiceover{deps: deps}
}

func (t *generateVoiceover) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:               "generate-voiceover",
		Version:            "1.0.0",
		Category:           ports.CategoryVoiceGeneration,
		Priority:           1,
		ContextWeight:      100,
		Tags:               []string{"voice", "audio", "narration"},
		RequiredCredential: "elevenlabs",
	}
}

func (t *generateVoiceover) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "generate-voiceover",
		Description: "Synthesize narration audio from text and save it under the voice assets directory.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"text":    {Type: "string", Description: "Narration text."},
				"voiceId": {Type: "string", Description: "Voice id; a neutral default is used when omitted."},
			},
			Required: []string{"text"},
		},
	}
}

func (t *generateVoiceover) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	if t.deps.Voice == nil {
		return errorResult(call, credentialError("generate-voiceover", "elevenlabs"))
	}
	text, err := call.StringArg("text")
	if err != nil {
		return errorResult(call, err)
	}
	result, err := t.deps.Voice.Synthesize(ctx, external.VoiceRequest{
		Text:    text,
		VoiceID: call.OptionalString("voiceId", ""),
	})
	if err != nil {
		return errorResult(call, err)
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  "voiceover written to " + result.Path,
		Metadata: map[string]any{"voiceover": result},
	}, nil
}

// searchSoundEffects queries the sound catalog and downloads previews.
type searchSoundEffects struct {
	deps Deps
}

func newSearchSoundEffects(deps Deps) ports.ToolExecutor {
	return &searchSoundEffects{deps: deps}
}

func (t *searchSoundEffects) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:               "search-sound-effects",
		Version:            "1.0.0",
		Category:           ports.CategorySoundEffects,
		Priority:           1,
		ContextWeight:      90,
		Tags:               []string{"sound", "sfx", "audio", "search"},
		RequiredCredential: "freesound",
	}
}

func (t *searchSoundEffects) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "search-sound-effects",
		Description: "Search the sound-effect catalog and optionally download preview files into the sfx assets directory.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"query":    {Type: "string", Description: "Search terms."},
				"limit":    {Type: "integer", Description: "Maximum hits (default 5, max 20)."},
				"download": {Type: "boolean", Description: "Download preview MP3s (default true)."},
			},
			Required: []string{"query"},
		},
	}
}

func (t *searchSoundEffects) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	if t.deps.Sounds == nil {
		return errorResult(call, credentialError("search-sound-effects", "freesound"))
	}
	query, err := call.StringArg("query")
	if err != nil {
		return errorResult(call, err)
	}
	sounds, err := t.deps.Sounds.Search(ctx, query,
		call.OptionalInt("limit", 5),
		call.OptionalBool("download", true))
	if err != nil {
		return errorResult(call, err)
	}
	if len(sounds) == 0 {
		return &ports.ToolResult{CallID: call.ID, Content: "no sounds match " + query}, nil
	}

	var b strings.Builder
	for _, sound := range sounds {
		fmt.Fprintf(&b, "- %s (%.1fs)", sound.Name, sound.Duration)
		if sound.Path != "" {
			fmt.Fprintf(&b, " -> %s", sound.Path)
		}
		b.WriteByte('\n')
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  b.String(),
		Metadata: map[string]any{"sounds": sounds},
	}, nil
}

// generateImage renders a still image from a prompt.
type generateImage struct {
	deps Deps
}

func newGenerateImage(deps Deps) ports.ToolExecutor {
	return &generateImage{deps: deps}
}

func (t *generateImage) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:               "generate-image",
		Version:            "1.0.0",
		Category:           ports.CategoryImageGeneration,
		Priority:           1,
		ContextWeight:      100,
		Tags:               []string{"image", "generation", "asset"},
		RequiredCredential: "flux",
	}
}

func (t *generateImage) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "generate-image",
		Description: "Generate a still image from a prompt and save it under the image assets directory.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"prompt": {Type: "string", Description: "Image prompt."},
				"width":  {Type: "integer", Description: "Pixel width (default 1920)."},
				"height": {Type: "integer", Description: "Pixel height (default 1080)."},
			},
			Required: []string{"prompt"},
		},
	}
}

func (t *generateImage) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	if t.deps.Images == nil {
		return errorResult(call, credentialError("generate-image", "flux"))
	}
	prompt, err := call.StringArg("prompt")
	if err != nil {
		return errorResult(call, err)
	}
	result, err := t.deps.Images.Generate(ctx, external.ImageRequest{
		Prompt: prompt,
		Width:  call.OptionalInt("width", 0),
		Height: call.OptionalInt("height", 0),
	})
	if err != nil {
		return errorResult(call, err)
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  "image written to " + result.Path,
		Metadata: map[string]any{"image": result},
	}, nil
}
