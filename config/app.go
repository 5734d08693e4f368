package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// App holds process settings read from the environment (.env via godotenv).
type App struct {
	Port        string
	CORSOrigins []string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	GCPProject  string
	GCPLocation string

	LLMProvider    string // vertex|gemini|openai
	LLMModel       string
	EmbeddingModel string
	GeminiAPIKey   string
	OpenAIAPIKey   string

	TTSVoice        string
	TTSLanguage     string
	AudioBucket     string
	STTEnabled      bool
	STTWorkers      int
	ChunkTTL        time.Duration
	ProfileCacheTTL time.Duration
	EphemeralTTL    time.Duration

	Interview Interview
	Queue     Queue
}

type Interview struct {
	MaxQuestions       int
	SafetyTimeout      time.Duration
	QuestionTimeout    time.Duration
	SilenceWindow      time.Duration
	RestartSpacing     time.Duration
	ClosingDelay       time.Duration
	ReportTimeout      time.Duration
	PersistTimeout     time.Duration
	TTSLoadTimeout     time.Duration
	TTSPlaybackTimeout time.Duration
}

type Queue struct {
	BaseSpacing    time.Duration
	MaxSpacing     time.Duration
	Growth         float64
	Decay          float64
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         float64
}

func LoadApp() App {
	return App{
		Port:        envStr("PORT", "8080"),
		CORSOrigins: envList("CORS_ORIGINS", []string{"http://localhost:3000"}),

		JWTSecret:   os.Getenv("SUPABASE_JWT_SECRET"),
		JWTIssuer:   os.Getenv("SUPABASE_JWT_ISSUER"),
		JWTAudience: os.Getenv("SUPABASE_JWT_AUDIENCE"),

		GCPProject:  os.Getenv("GCP_PROJECT_ID"),
		GCPLocation: envStr("GCP_LOCATION", "us-central1"),

		LLMProvider:    strings.ToLower(envStr("LLM_PROVIDER", "vertex")),
		LLMModel:       os.Getenv("LLM_MODEL"),
		EmbeddingModel: os.Getenv("EMBEDDING_MODEL"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),

		TTSVoice:        envStr("TTS_VOICE", "en-US-Neural2-F"),
		TTSLanguage:     envStr("TTS_LANGUAGE", "en-US"),
		AudioBucket:     os.Getenv("AUDIO_BUCKET"),
		STTEnabled:      envBool("STT_ENABLED", false),
		STTWorkers:      envInt("STT_WORKERS", 4),
		ChunkTTL:        envDuration("CHUNK_TTL", 24*time.Hour),
		ProfileCacheTTL: envDuration("PROFILE_CACHE_TTL", 10*time.Minute),
		EphemeralTTL:    envDuration("EPHEMERAL_REPORT_TTL", 24*time.Hour),

		Interview: Interview{
			MaxQuestions:       envInt("MAX_QUESTIONS", 5),
			SafetyTimeout:      envDuration("SAFETY_TIMEOUT", 35*time.Second),
			QuestionTimeout:    envDuration("QUESTION_TIMEOUT", 30*time.Second),
			SilenceWindow:      envDuration("SILENCE_WINDOW", 5*time.Second),
			RestartSpacing:     envDuration("RESTART_SPACING", 200*time.Millisecond),
			ClosingDelay:       envDuration("CLOSING_DELAY", 3*time.Second),
			ReportTimeout:      envDuration("REPORT_TIMEOUT", 45*time.Second),
			PersistTimeout:     envDuration("PERSIST_TIMEOUT", 15*time.Second),
			TTSLoadTimeout:     envDuration("TTS_LOAD_TIMEOUT", 10*time.Second),
			TTSPlaybackTimeout: envDuration("TTS_PLAYBACK_TIMEOUT", 60*time.Second),
		},
		Queue: Queue{
			BaseSpacing:    envDuration("QUEUE_BASE_SPACING", time.Second),
			MaxSpacing:     envDuration("QUEUE_MAX_SPACING", 10*time.Second),
			Growth:         envFloat("QUEUE_GROWTH", 1.5),
			Decay:          envFloat("QUEUE_DECAY", 0.8),
			MaxAttempts:    envInt("QUEUE_MAX_ATTEMPTS", 4),
			InitialBackoff: envDuration("QUEUE_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     envDuration("QUEUE_MAX_BACKOFF", 8*time.Second),
			Jitter:         envFloat("QUEUE_JITTER", 0.5),
		},
	}
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n > 0 {
		return n
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil && f > 0 {
		return f
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return b
	}
	return def
}

// envDuration accepts Go durations ("5s") or plain seconds ("5").
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func envList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
