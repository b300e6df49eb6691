package genai

// Opts holds configuration options for generator clients.
type Opts struct {
	APIKey        string
	OpenRouterKey string
	BaseURL       string
	Model         string
	Temperature   float64
	MaxTokens     int
	Headers       map[string]string
	// DebugDir is the state directory debug transcripts are written under.
	DebugDir string
	// SkipWatchdog disables the timeout wrapper added by New.
	SkipWatchdog bool
}

// Option defines a functional option for configuring generator clients.
type Option func(*Opts)

// WithAPIKey overrides the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithOpenRouterKey sets the key used by the OpenRouter router.
func WithOpenRouterKey(key string) Option {
	return func(o *Opts) { o.OpenRouterKey = key }
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the default temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(tokens int) Option {
	return func(o *Opts) { o.MaxTokens = tokens }
}

// WithHeader adds a header to every provider request.
func WithHeader(key, value string) Option {
	return func(o *Opts) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// WithDebug writes a JSON transcript of each call under stateDir/debug.
func WithDebug(stateDir string) Option {
	return func(o *Opts) { o.DebugDir = stateDir }
}

// WithoutWatchdog makes New return the bare generator.
func WithoutWatchdog() Option {
	return func(o *Opts) { o.SkipWatchdog = true }
}
