package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"

	// DefaultMinPasswordBytes is applied when Config.MinPasswordBytes is zero.
	DefaultMinPasswordBytes = 8
	// DefaultMaxPasswordBytes is applied when Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024
)

var (
	// ErrPasswordTooShort is returned by Hash for inputs under the configured minimum.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong is returned by Hash and Verify for inputs over the configured maximum.
	ErrPasswordTooLong = errors.New("password too long")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config holds Argon2id cost parameters and input length bounds.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinPasswordBytes int
	MaxPasswordBytes int
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		SaltLength:       16,
		KeyLength:        32,
		MinPasswordBytes: DefaultMinPasswordBytes,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

// Argon2 hashes and verifies PHC-encoded argon2id strings.
type Argon2 struct {
	config Config
	cost   costParams
}

// costParams are the argon2id inputs recorded in a PHC string.
type costParams struct {
	memory uint32
	passes uint32
	lanes  uint8
	keyLen uint32
}

func (c costParams) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, c.passes, c.memory, c.lanes, c.keyLen)
}

// weakerThan reports whether c falls short of want on any cost axis, or
// produces a key of a different length.
func (c costParams) weakerThan(want costParams) bool {
	return c.memory < want.memory || c.passes < want.passes || c.lanes < want.lanes || c.keyLen != want.keyLen
}

type phc struct {
	cost costParams
	salt []byte
	key  []byte
}

func (p phc) String() string {
	enc := base64.StdEncoding
	return "$" + algorithmID +
		"$v=" + strconv.Itoa(argon2.Version) +
		"$m=" + strconv.FormatUint(uint64(p.cost.memory), 10) +
		",t=" + strconv.FormatUint(uint64(p.cost.passes), 10) +
		",p=" + strconv.FormatUint(uint64(p.cost.lanes), 10) +
		"$" + enc.EncodeToString(p.salt) +
		"$" + enc.EncodeToString(p.key)
}

// NewArgon2 validates cfg and returns a hasher. Zero length bounds take the defaults.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MinPasswordBytes == 0 {
		cfg.MinPasswordBytes = DefaultMinPasswordBytes
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{
		config: cfg,
		cost:   costParams{memory: cfg.Memory, passes: cfg.Time, lanes: cfg.Parallelism, keyLen: cfg.KeyLength},
	}, nil
}

// Hash returns a PHC string for password. Raw bytes are hashed as provided, with no
// Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	switch n := len(password); {
	case n < a.config.MinPasswordBytes:
		return "", fmt.Errorf("%w: minimum is %d bytes", ErrPasswordTooShort, a.config.MinPasswordBytes)
	case n > a.config.MaxPasswordBytes:
		return "", fmt.Errorf("%w: maximum is %d bytes", ErrPasswordTooLong, a.config.MaxPasswordBytes)
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}
	return phc{cost: a.cost, salt: salt, key: a.cost.derive(password, salt)}.String(), nil
}

// Verify reports whether password matches encodedHash in constant time. The
// cost recorded in the hash is used, not the current config.
func (a *Argon2) Verify(password string, encodedHash string) (bool, error) {
	if len(password) > a.config.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	stored, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(stored.cost.derive(password, stored.salt), stored.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker parameters than
// the current config.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	stored, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return stored.cost.weakerThan(a.cost), nil
}

// parsePHC decodes $argon2id$v=19$m=<kb>,t=<n>,p=<n>$<salt>$<hash>. Every
// failure wraps ErrMalformedHash.
func parsePHC(encodedHash string) (phc, error) {
	fields := strings.Split(encodedHash, "$")
	if len(fields) != 6 || fields[0] != "" {
		return phc{}, fmt.Errorf("%w: invalid PHC format", ErrMalformedHash)
	}
	if fields[1] != algorithmID {
		return phc{}, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedHash, fields[1])
	}
	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return phc{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[2])
	}

	cost, err := parseCost(fields[3])
	if err != nil {
		return phc{}, err
	}
	salt, err := base64.StdEncoding.DecodeString(fields[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return phc{}, fmt.Errorf("%w: invalid salt", ErrMalformedHash)
	}
	key, err := base64.StdEncoding.DecodeString(fields[5])
	if err != nil || len(key) == 0 {
		return phc{}, fmt.Errorf("%w: invalid hash", ErrMalformedHash)
	}
	cost.keyLen = uint32(len(key))
	return phc{cost: cost, salt: salt, key: key}, nil
}

// parseCost reads "m=..,t=..,p=.." in that order and enforces the cost floors.
func parseCost(field string) (costParams, error) {
	pairs := strings.Split(field, ",")
	if len(pairs) != 3 {
		return costParams{}, fmt.Errorf("%w: invalid parameters", ErrMalformedHash)
	}
	var values [3]uint64
	for i, key := range [3]string{"m", "t", "p"} {
		name, raw, ok := strings.Cut(pairs[i], "=")
		if !ok || name != key {
			return costParams{}, fmt.Errorf("%w: expected parameter %s", ErrMalformedHash, key)
		}
		bits := 32
		if key == "p" {
			bits = 8
		}
		v, err := strconv.ParseUint(raw, 10, bits)
		if err != nil {
			return costParams{}, fmt.Errorf("%w: invalid parameter %s", ErrMalformedHash, key)
		}
		values[i] = v
	}
	cost := costParams{memory: uint32(values[0]), passes: uint32(values[1]), lanes: uint8(values[2])}
	if cost.memory < minMemoryKB || cost.passes < minTimeCost || cost.lanes < minParallelism {
		return costParams{}, fmt.Errorf("%w: parameters below minimum", ErrMalformedHash)
	}
	return cost, nil
}

func (c Config) validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.Memory >= minMemoryKB, "memory must be >= 8192 KiB"},
		{c.Time >= minTimeCost, "time must be >= 1"},
		{c.Parallelism >= minParallelism, "parallelism must be >= 1"},
		{c.SaltLength >= minSaltLength, "salt length must be >= 16"},
		{c.KeyLength >= minKeyLength, "key length must be >= 16"},
		{c.MinPasswordBytes >= 1, "minimum length must be >= 1"},
		{c.MaxPasswordBytes >= c.MinPasswordBytes, "maximum length must be >= minimum length"},
	}
	for _, chk := range checks {
		if !chk.ok {
			return errors.New("password: " + chk.msg)
		}
	}
	return nil
}
