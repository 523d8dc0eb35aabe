package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/manifoldco/promptui"

	"github.com/FranLegon/drive-upload/internal/crypto"
	"github.com/FranLegon/drive-upload/internal/model"
	"github.com/FranLegon/drive-upload/internal/retry"
	"github.com/FranLegon/drive-upload/internal/upload"
)

const (
	// configFile is the name of the encrypted configuration file.
	configFile = "config.json.enc"
	saltFile   = "config.salt"

	// envPrefix prefixes the environment overrides, e.g. DRIVEUP_CHUNK_SIZE
	envPrefix = "DRIVEUP"

	// Drive only accepts chunks that are multiples of this size, except the last one
	chunkGranularity = 256 * 1024
)

// ErrWrongPassword is returned when the config cannot be decrypted
var ErrWrongPassword = errors.New("failed to decrypt config: master password may be incorrect")

// Config defines the structure for all configuration data, including client
// credentials, user accounts and upload tuning. It's the structure that gets
// serialized to and from the encrypted config file.
type Config struct {
	GoogleClient ClientCredentials `json:"google_client"`
	Accounts     []model.Account   `json:"accounts"`
	Upload       UploadSettings    `json:"upload"`
}

// ClientCredentials holds the OAuth 2.0 client ID and secret.
type ClientCredentials struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// UploadSettings tunes the upload engine. Every field can be overridden from
// the environment.
type UploadSettings struct {
	ChunkSize          int64         `json:"chunk_size" envconfig:"CHUNK_SIZE"`
	ResumableThreshold int64         `json:"resumable_threshold" envconfig:"RESUMABLE_THRESHOLD"`
	MaxRetries         int           `json:"max_retries" envconfig:"MAX_RETRIES"`
	RetryBaseDelay     time.Duration `json:"retry_base_delay" envconfig:"RETRY_BASE_DELAY"`
	RetryMaxDelay      time.Duration `json:"retry_max_delay" envconfig:"RETRY_MAX_DELAY"`
	SessionRestarts    int           `json:"session_restarts" envconfig:"SESSION_RESTARTS"`
	Concurrency        int           `json:"concurrency" envconfig:"CONCURRENCY"`
}

// DefaultUploadSettings returns the settings of a new config.
func DefaultUploadSettings() UploadSettings {
	policy := retry.DefaultPolicy()
	return UploadSettings{
		ChunkSize:          upload.DefaultChunkSize,
		ResumableThreshold: upload.DefaultResumableThreshold,
		MaxRetries:         policy.MaxAttempts,
		RetryBaseDelay:     policy.BaseDelay,
		RetryMaxDelay:      policy.MaxDelay,
		SessionRestarts:    0,
		Concurrency:        4,
	}
}

// Validate checks the settings against what the upload endpoint accepts.
func (s UploadSettings) Validate() error {
	if s.ChunkSize <= 0 || s.ChunkSize%chunkGranularity != 0 {
		return fmt.Errorf("chunk size %d must be a positive multiple of %d", s.ChunkSize, chunkGranularity)
	}
	if s.ResumableThreshold < 0 {
		return fmt.Errorf("invalid resumable threshold %d", s.ResumableThreshold)
	}
	if s.MaxRetries < 0 || s.SessionRestarts < 0 {
		return errors.New("retry and restart counts cannot be negative")
	}
	if s.RetryBaseDelay < 0 || s.RetryMaxDelay < s.RetryBaseDelay {
		return fmt.Errorf("invalid retry delays %s..%s", s.RetryBaseDelay, s.RetryMaxDelay)
	}
	if s.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", s.Concurrency)
	}
	return nil
}

// RetryPolicy returns the retry policy described by the settings.
func (s UploadSettings) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: s.MaxRetries,
		BaseDelay:   s.RetryBaseDelay,
		MaxDelay:    s.RetryMaxDelay,
	}
}

// Options converts the settings into uploader options.
func (s UploadSettings) Options() []upload.Option {
	return []upload.Option{
		upload.WithChunkSize(s.ChunkSize),
		upload.WithResumableThreshold(s.ResumableThreshold),
		upload.WithRetryPolicy(s.RetryPolicy()),
		upload.WithSessionRestarts(s.SessionRestarts),
	}
}

// ApplyEnv overrides upload settings with DRIVEUP_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(envPrefix, &c.Upload); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	return nil
}

// Exists reports whether dir holds an initialized config
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, configFile))
	return err == nil
}

// Create generates a new salt in dir and saves cfg encrypted with masterPassword.
func Create(dir, masterPassword string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := crypto.WriteSalt(filepath.Join(dir, saltFile)); err != nil {
		return fmt.Errorf("failed to create salt: %w", err)
	}
	return Save(dir, masterPassword, cfg)
}

// Load decrypts and loads the configuration from dir, then applies the
// environment overrides. It requires the user's master password to derive
// the decryption key.
func Load(dir, masterPassword string) (*Config, error) {
	salt, err := crypto.ReadSalt(filepath.Join(dir, saltFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("salt file not found. please run the 'init' command first")
		}
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}

	ciphertext, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("config file not found. please run the 'init' command first")
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	key, err := crypto.NewKey(masterPassword, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := key.Open(ciphertext)
	if err != nil {
		return nil, ErrWrongPassword
	}

	cfg := &Config{Upload: DefaultUploadSettings()}
	if err := json.Unmarshal(plaintext, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save encrypts cfg and writes it to dir.
func Save(dir, masterPassword string, cfg *Config) error {
	salt, err := crypto.ReadSalt(filepath.Join(dir, saltFile))
	if err != nil {
		return fmt.Errorf("failed to read salt before saving config: %w", err)
	}

	plaintext, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	key, err := crypto.NewKey(masterPassword, salt)
	if err != nil {
		return err
	}
	ciphertext, err := key.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt config for saving: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, configFile), ciphertext, 0600)
}

// AddAccount stores acc, replacing an account with the same email. The first
// account becomes the default.
func (c *Config) AddAccount(acc model.Account) {
	if len(c.Accounts) == 0 {
		acc.IsDefault = true
	}
	for i := range c.Accounts {
		if c.Accounts[i].Email == acc.Email {
			acc.IsDefault = c.Accounts[i].IsDefault
			c.Accounts[i] = acc
			return
		}
	}
	c.Accounts = append(c.Accounts, acc)
}

// Account returns the account with the given email, or the default account
// when email is empty.
func (c *Config) Account(email string) (*model.Account, error) {
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if (email == "" && acc.IsDefault) || (email != "" && acc.Email == email) {
			return acc, nil
		}
	}
	if email == "" {
		return nil, errors.New("no account configured. please run the 'add-account' command first")
	}
	return nil, fmt.Errorf("account %s not found", email)
}

// GetMasterPassword securely prompts the user to enter their master password
// without echoing the characters to the terminal.
func GetMasterPassword(confirm bool) (string, error) {
	validate := func(input string) error {
		if len(input) < 8 {
			return errors.New("password must be at least 8 characters long")
		}
		return nil
	}

	prompt := promptui.Prompt{
		Label:    "Enter Master Password",
		Mask:     '*',
		Validate: validate,
	}

	password, err := prompt.Run()
	if err != nil {
		return "", err
	}

	if confirm {
		confirmPrompt := promptui.Prompt{
			Label:    "Confirm Master Password",
			Mask:     '*',
			Validate: validate,
		}
		confirmation, err := confirmPrompt.Run()
		if err != nil {
			return "", err
		}
		if password != confirmation {
			return "", errors.New("passwords do not match")
		}
	}

	return password, nil
}
