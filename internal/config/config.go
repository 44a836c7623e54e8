package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full configuration surface of the conversation engine.
type Config struct {
	Port    string
	Env     string
	DataDir string

	LLM       LLMConfig
	Flow      FlowConfig
	Allocator AllocatorConfig
	Handoff   HandoffConfig
}

type LLMConfig struct {
	Model   string
	APIKey  string
	Timeout time.Duration
	Fake    bool
	// RPS throttles outbound model calls; 0 disables the limiter.
	RPS   float64
	Burst int
}

type FlowConfig struct {
	ClarifyThreshold int
	AttemptThreshold int
	// Risk levels at or above this value interrupt diagnosis with a
	// one-time acknowledgment. Accepted values: "medium", "high".
	RiskAckLevel string
}

type AllocatorConfig struct {
	Alphabet  string
	Length    int
	MaxDraws  int
	LockTries int
}

type HandoffConfig struct {
	// WhatsAppPhone is the technician contact in international format
	// without the leading plus sign, as wa.me expects.
	WhatsAppPhone string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":3001", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:    *port,
		Env:     env,
		DataDir: firstNonEmpty(strings.TrimSpace(os.Getenv("DATA_DIR")), "data"),
		LLM: LLMConfig{
			Model:   firstNonEmpty(strings.TrimSpace(os.Getenv("LLM_MODEL")), "gemini-2.0-flash"),
			APIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			Timeout: envDuration("LLM_TIMEOUT", 12*time.Second),
			Fake:    envBool("LLM_FAKE", false),
			RPS:     envFloat("LLM_RPS", 0),
			Burst:   envInt("LLM_BURST", 1),
		},
		Flow: FlowConfig{
			ClarifyThreshold: envInt("FLOW_CLARIFY_THRESHOLD", 2),
			AttemptThreshold: envInt("FLOW_ATTEMPT_THRESHOLD", 2),
			RiskAckLevel:     firstNonEmpty(strings.TrimSpace(os.Getenv("FLOW_RISK_ACK_LEVEL")), "medium"),
		},
		Allocator: AllocatorConfig{
			Alphabet:  firstNonEmpty(strings.TrimSpace(os.Getenv("ID_ALPHABET")), "abcdefghjkmnpqrstuvwxyz23456789"),
			Length:    envInt("ID_LENGTH", 6),
			MaxDraws:  envInt("ID_MAX_DRAWS", 32),
			LockTries: envInt("ID_LOCK_TRIES", 5),
		},
		Handoff: HandoffConfig{
			WhatsAppPhone: firstNonEmpty(strings.TrimSpace(os.Getenv("HANDOFF_WHATSAPP")), "5491100000000"),
		},
	}, nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
