package password

import (
	"errors"
	"strings"
	"testing"
)

// fastConfig uses the cost floors so the suite stays quick.
func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func mustArgon2(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	a, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return a
}

func TestArgon2RoundTrip(t *testing.T) {
	a := mustArgon2(t, fastConfig())

	hash, err := a.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	other, err := a.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if other == hash {
		t.Fatal("two hashes of the same password must use different salts")
	}

	for _, tc := range []struct {
		password string
		want     bool
	}{
		{"correct-horse-battery", true},
		{"correct-horse-batterY", false},
		{"", false},
	} {
		ok, err := a.Verify(tc.password, hash)
		if err != nil {
			t.Fatalf("Verify(%q): %v", tc.password, err)
		}
		if ok != tc.want {
			t.Fatalf("Verify(%q) = %v, want %v", tc.password, ok, tc.want)
		}
	}
}

func TestArgon2LengthPolicy(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPasswordBytes = 64
	a := mustArgon2(t, cfg)

	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"empty", "", ErrPasswordTooShort},
		{"below minimum", "seven77", ErrPasswordTooShort},
		{"at minimum", "eight888", nil},
		{"at maximum", strings.Repeat("b", 64), nil},
		{"over maximum", strings.Repeat("a", 65), ErrPasswordTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Hash(tt.password)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Hash: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Hash error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	hash, err := a.Hash("valid-password-123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if _, err := a.Verify(strings.Repeat("c", 65), hash); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("Verify of an oversized input: got %v", err)
	}
}

func TestArgon2DefaultBounds(t *testing.T) {
	a := mustArgon2(t, fastConfig())

	if _, err := a.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong above %d bytes, got %v", DefaultMaxPasswordBytes, err)
	}
	if _, err := a.Hash(strings.Repeat("e", DefaultMaxPasswordBytes)); err != nil {
		t.Fatalf("exactly %d bytes: %v", DefaultMaxPasswordBytes, err)
	}
	if _, err := a.Hash(strings.Repeat("f", DefaultMinPasswordBytes-1)); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort below %d bytes, got %v", DefaultMinPasswordBytes, err)
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak := mustArgon2(t, fastConfig())
	hash, err := weak.Hash("rotate-me-please")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	stronger := fastConfig()
	stronger.Time = 2
	longerKey := fastConfig()
	longerKey.KeyLength = 48

	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"same parameters", fastConfig(), false},
		{"higher time cost", stronger, true},
		{"different key length", longerKey, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustArgon2(t, tt.cfg).NeedsUpgrade(hash)
			if err != nil {
				t.Fatalf("NeedsUpgrade: %v", err)
			}
			if got != tt.want {
				t.Fatalf("NeedsUpgrade = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestArgon2RejectsMalformedHashes(t *testing.T) {
	a := mustArgon2(t, fastConfig())
	good, err := a.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	for name, encoded := range map[string]string{
		"not phc":         "not-a-phc-hash",
		"wrong version":   strings.Replace(good, "$v=19$", "$v=18$", 1),
		"argon2i":         strings.Replace(good, "$argon2id$", "$argon2i$", 1),
		"memory too low":  strings.Replace(good, "m=8192", "m=1024", 1),
		"params reorder":  strings.Replace(good, "m=8192,t=1,p=1", "t=1,m=8192,p=1", 1),
		"missing params":  strings.Replace(good, "m=8192,t=1,p=1", "m=8192,t=1", 1),
		"bad salt base64": strings.Replace(good, "$argon2id$v=19$m=8192,t=1,p=1$", "$argon2id$v=19$m=8192,t=1,p=1$!!", 1),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := a.Verify("version-test", encoded); !errors.Is(err, ErrMalformedHash) {
				t.Fatalf("expected ErrMalformedHash, got %v", err)
			}
		})
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	mutations := map[string]func(*Config){
		"memory":      func(c *Config) { c.Memory = 1024 },
		"time":        func(c *Config) { c.Time = 0 },
		"parallelism": func(c *Config) { c.Parallelism = 0 },
		"salt":        func(c *Config) { c.SaltLength = 8 },
		"key":         func(c *Config) { c.KeyLength = 8 },
		"bounds":      func(c *Config) { c.MinPasswordBytes = 20; c.MaxPasswordBytes = 10 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := fastConfig()
			mutate(&cfg)
			if _, err := NewArgon2(cfg); err == nil {
				t.Fatal("expected config to be rejected")
			}
		})
	}
}
