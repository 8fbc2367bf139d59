package models

// DefaultPreamble is prepended to every user message before it is sent to the provider.
const DefaultPreamble = "You are a helpful AI assistant. Please respond to this message in a natural, " +
	"conversational way: "

// GenerationParams holds the sampling parameters sent along with every prompt.
type GenerationParams struct {
	Temperature     float32 `yaml:"temperature"`
	TopK            int32   `yaml:"topK"`
	TopP            float32 `yaml:"topP"`
	MaxOutputTokens int32   `yaml:"maxOutputTokens"`
}

// Prompt describes how a user message is turned into a single provider turn. The caller of the relay
// can't change it; only the operator can, through the server configuration.
type Prompt struct {
	Preamble string           `yaml:"preamble"`
	Params   GenerationParams `yaml:"generation"`
}

// DefaultGenerationParams returns temperature 0.7, top-k 40, top-p 0.95 and 2048 max output tokens.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature:     0.7,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 2048,
	}
}

// DefaultPrompt returns the preamble and generation parameters used when nothing is configured.
func DefaultPrompt() Prompt {
	return Prompt{
		Preamble: DefaultPreamble,
		Params:   DefaultGenerationParams(),
	}
}

// Text concatenates the preamble and the message into the single text part of the turn.
func (p Prompt) Text(message string) string {
	return p.Preamble + message
}

// WithDefaults fills zero fields with their default values.
func (p Prompt) WithDefaults() Prompt {
	d := DefaultPrompt()
	if p.Preamble == "" {
		p.Preamble = d.Preamble
	}
	if p.Params.Temperature == 0 {
		p.Params.Temperature = d.Params.Temperature
	}
	if p.Params.TopK == 0 {
		p.Params.TopK = d.Params.TopK
	}
	if p.Params.TopP == 0 {
		p.Params.TopP = d.Params.TopP
	}
	if p.Params.MaxOutputTokens == 0 {
		p.Params.MaxOutputTokens = d.Params.MaxOutputTokens
	}
	return p
}
