package config

// Defaults shared across binaries.
const (
	DefaultPortRangeStart = 3000
	DefaultPortRangeEnd   = 3020

	DefaultContextMaxWeight     = 10000
	DefaultContextWarningRatio  = 0.75
	DefaultContextCriticalRatio = 0.9

	DefaultRemotionConcurrency = 1
	DefaultRemotionTimeoutMs   = 30000

	DefaultMaxAssetAgeHours = 24
	DefaultMaxActiveLayers  = 8
	DefaultBackupRetain     = 5

	DefaultElevenLabsEndpoint = "https://api.elevenlabs.io/v1"
	DefaultFluxEndpoint       = "https://api.bfl.ml/v1"
	DefaultFreesoundEndpoint  = "https://freesound.org/apiv2"
)

// Config captures every recognized startup setting.
type Config struct {
	AssetsDir    string             `json:"assetsDir" yaml:"assetsDir"`
	ProjectsDir  string             `json:"projectsDir" yaml:"projectsDir"`
	APIKeys      APIKeysConfig      `json:"apiKeys" yaml:"apiKeys"`
	APIEndpoints APIEndpointsConfig `json:"apiEndpoints" yaml:"apiEndpoints"`
	Remotion     RemotionConfig     `json:"remotion" yaml:"remotion"`
	FileMgmt     FileMgmtConfig     `json:"fileManagement" yaml:"fileManagement"`
	Logging      LoggingConfig      `json:"logging" yaml:"logging"`
	PortRange    PortRangeConfig    `json:"portRange" yaml:"portRange"`
	Context      ContextConfig      `json:"context" yaml:"context"`
	Layers       LayersConfig       `json:"layers" yaml:"layers"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	AudioEnabled bool               `json:"audioEnabled" yaml:"audioEnabled"`
}

// APIKeysConfig holds optional credentials; only presence is ever checked.
type APIKeysConfig struct {
	ElevenLabs string `json:"elevenlabs" yaml:"elevenlabs"`
	Freesound  string `json:"freesound" yaml:"freesound"`
	Flux       string `json:"flux" yaml:"flux"`
}

// APIEndpointsConfig holds external API base URLs.
type APIEndpointsConfig struct {
	ElevenLabs string `json:"elevenlabs" yaml:"elevenlabs"`
	Freesound  string `json:"freesound" yaml:"freesound"`
	Flux       string `json:"flux" yaml:"flux"`
}

// RemotionConfig controls the child renderer processes.
type RemotionConfig struct {
	BrowserExecutable string `json:"browserExecutable" yaml:"browserExecutable"`
	Concurrency       int    `json:"concurrency" yaml:"concurrency"`
	TimeoutMs         int    `json:"timeout" yaml:"timeout"`
}

// FileMgmtConfig controls generated-asset housekeeping.
type FileMgmtConfig struct {
	CleanupTempFiles bool    `json:"cleanupTempFiles" yaml:"cleanupTempFiles"`
	MaxAssetAgeHours float64 `json:"maxAssetAgeHours" yaml:"maxAssetAgeHours"`
	BackupRetain     int     `json:"backupRetain" yaml:"backupRetain"`
}

// LoggingConfig controls the file sink.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file" yaml:"file"`
}

// PortRangeConfig bounds studio port allocation.
type PortRangeConfig struct {
	Start int   `json:"start" yaml:"start"`
	End   int   `json:"end" yaml:"end"`
	Deny  []int `json:"deny" yaml:"deny"`
}

// ContextConfig bounds the weighted active-tool budget.
type ContextConfig struct {
	MaxWeight    int     `json:"maxWeight" yaml:"maxWeight"`
	Warning      float64 `json:"warning" yaml:"warning"`
	Critical     float64 `json:"critical" yaml:"critical"`
	AutoOptimize bool    `json:"autoOptimize" yaml:"autoOptimize"`
	Strategy     string  `json:"strategy" yaml:"strategy"`
}

// LayersConfig controls layered tool activation.
type LayersConfig struct {
	MaxActive               int  `json:"maxActive" yaml:"maxActive"`
	AutoResolveDependencies bool `json:"autoResolveDependencies" yaml:"autoResolveDependencies"`
	EnforceExclusivity      bool `json:"enforceExclusivity" yaml:"enforceExclusivity"`
	TrackHistory            bool `json:"trackHistory" yaml:"trackHistory"`
	StrictDependencyCycles  bool `json:"strictDependencyCycles" yaml:"strictDependencyCycles"`
}

// MetricsConfig enables the optional loopback Prometheus listener.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

// Default returns the baseline configuration before file and env layers apply.
func Default() Config {
	return Config{
		APIEndpoints: APIEndpointsConfig{
			ElevenLabs: DefaultElevenLabsEndpoint,
			Freesound:  DefaultFreesoundEndpoint,
			Flux:       DefaultFluxEndpoint,
		},
		Remotion: RemotionConfig{
			Concurrency: DefaultRemotionConcurrency,
			TimeoutMs:   DefaultRemotionTimeoutMs,
		},
		FileMgmt: FileMgmtConfig{
			CleanupTempFiles: true,
			MaxAssetAgeHours: DefaultMaxAssetAgeHours,
			BackupRetain:     DefaultBackupRetain,
		},
		Logging: LoggingConfig{Level: "info"},
		PortRange: PortRangeConfig{
			Start: DefaultPortRangeStart,
			End:   DefaultPortRangeEnd,
			Deny:  []int{3002},
		},
		Context: ContextConfig{
			MaxWeight:    DefaultContextMaxWeight,
			Warning:      DefaultContextWarningRatio,
			Critical:     DefaultContextCriticalRatio,
			AutoOptimize: true,
			Strategy:     "smart",
		},
		Layers: LayersConfig{
			MaxActive:               DefaultMaxActiveLayers,
			AutoResolveDependencies: true,
			EnforceExclusivity:      true,
			TrackHistory:            true,
		},
		AudioEnabled: true,
	}
}

// HasCredential reports whether the named credential is configured.
// Names follow the apiKeys config keys: elevenlabs, freesound, flux.
func (c *Config) HasCredential(name string) bool {
	switch name {
	case "elevenlabs":
		return c.APIKeys.ElevenLabs != ""
	case "freesound":
		return c.APIKeys.Freesound != ""
	case "flux":
		return c.APIKeys.Flux != ""
	default:
		return false
	}
}

// CredentialEnvVar maps a credential name to the environment variable that
// supplies it. Used in error messages so secrets never leak, only var names.
func CredentialEnvVar(name string) string {
	switch name {
	case "elevenlabs":
		return "ELEVENLABS_API_KEY"
	case "freesound":
		return "FREESOUND_API_KEY"
	case "flux":
		return "FLUX_API_KEY"
	default:
		return ""
	}
}
