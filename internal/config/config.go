package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Verify  VerifyConfig
	Capture CaptureConfig
	Chain   ChainConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	// AdminAPIKey gates the operator endpoints. Empty disables them.
	AdminAPIKey string
}

// BackendConfig points at the voter verification backend.
type BackendConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

// VerifyConfig tunes the verification pipeline.
type VerifyConfig struct {
	MaxAttempts   int
	OTPTTL        time.Duration
	FaceThreshold float64
	// DeployMode selects the face payload: "embedding" sends the local
	// feature vector, "image" sends the captured frame.
	DeployMode    string
	JWTSecret     string
	TokenValidity time.Duration
	ModelDir      string
	// ReferenceImageDir holds locally registered reference images.
	ReferenceImageDir string
}

// CaptureConfig tunes the camera and detection loop.
type CaptureConfig struct {
	DeviceID          int
	DetectionInterval time.Duration
	FailureCooldown   time.Duration
	BufferCeiling     int64
}

// ChainConfig selects and configures the election binding. With an
// empty RPCURL the in-memory election is used.
type ChainConfig struct {
	RPCURL          string
	ContractAddress string
	AdminPrivateKey string
	ChainID         int64
	Candidates      []string
	ValidityPeriod  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			AdminAPIKey:    getEnv("ADMIN_API_KEY", ""),
		},
		Backend: BackendConfig{
			BaseURL:        getEnv("BACKEND_BASE_URL", "http://localhost:5000"),
			APIKey:         getEnv("BACKEND_API_KEY", ""),
			Timeout:        getEnvAsDuration("BACKEND_TIMEOUT", 10*time.Second),
			MaxAttempts:    getEnvAsInt("BACKEND_MAX_ATTEMPTS", 3),
			InitialBackoff: getEnvAsDuration("BACKEND_INITIAL_BACKOFF", 300*time.Millisecond),
		},
		Verify: VerifyConfig{
			MaxAttempts:       getEnvAsInt("VERIFY_MAX_ATTEMPTS", 3),
			OTPTTL:            getEnvAsDuration("OTP_TTL", 10*time.Minute),
			FaceThreshold:     getEnvAsFloat("FACE_MATCH_THRESHOLD", 0.6),
			DeployMode:        getEnv("FACE_DEPLOY_MODE", "embedding"),
			JWTSecret:         jwtSecret,
			TokenValidity:     getEnvAsDuration("TOKEN_VALIDITY", 24*time.Hour),
			ModelDir:          getEnv("MODEL_DIR", "models"),
			ReferenceImageDir: getEnv("REFERENCE_IMAGE_DIR", "reference_images"),
		},
		Capture: CaptureConfig{
			DeviceID:          getEnvAsInt("CAMERA_DEVICE_ID", 0),
			DetectionInterval: getEnvAsDuration("DETECTION_INTERVAL", 100*time.Millisecond),
			FailureCooldown:   getEnvAsDuration("DETECTION_COOLDOWN", 5*time.Second),
			BufferCeiling:     int64(getEnvAsInt("BUFFER_CEILING_BYTES", 50*1024*1024)),
		},
		Chain: ChainConfig{
			RPCURL:          getEnv("CHAIN_RPC_URL", ""),
			ContractAddress: getEnv("CONTRACT_ADDRESS", ""),
			AdminPrivateKey: getEnv("ADMIN_PRIVATE_KEY", ""),
			ChainID:         int64(getEnvAsInt("CHAIN_ID", 1337)),
			Candidates:      parseCandidates(getEnv("ELECTION_CANDIDATES", "")),
			ValidityPeriod:  getEnvAsDuration("VERIFICATION_VALIDITY_PERIOD", 24*time.Hour),
		},
	}

	if env == "production" && cfg.Backend.APIKey == "" {
		return nil, fmt.Errorf("BACKEND_API_KEY is required in production")
	}
	if cfg.Verify.DeployMode != "embedding" && cfg.Verify.DeployMode != "image" {
		return nil, fmt.Errorf("FACE_DEPLOY_MODE must be \"embedding\" or \"image\" (got %q)", cfg.Verify.DeployMode)
	}
	if cfg.Verify.FaceThreshold <= 0 || cfg.Verify.FaceThreshold >= 1 {
		return nil, fmt.Errorf("FACE_MATCH_THRESHOLD must be in (0, 1) (got %v)", cfg.Verify.FaceThreshold)
	}
	if cfg.Chain.RPCURL != "" {
		if cfg.Chain.ContractAddress == "" {
			return nil, fmt.Errorf("CONTRACT_ADDRESS is required when CHAIN_RPC_URL is set")
		}
		if cfg.Chain.AdminPrivateKey == "" {
			return nil, fmt.Errorf("ADMIN_PRIVATE_KEY is required when CHAIN_RPC_URL is set")
		}
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseCandidates(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
