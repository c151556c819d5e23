package password

import (
	"errors"
	"strings"
	"testing"
)

// fastConfig keeps the suite quick while staying above the minimums.
func fastConfig() Config {
	return Config{Memory: minMemoryKB, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func mustArgon(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	a, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return a
}

func TestHashProducesUnpaddedPHC(t *testing.T) {
	a := mustArgon(t, DefaultConfig())

	hash, err := a.Hash("Tatkal#2026")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}
	if strings.Contains(hash, "=$") || strings.HasSuffix(hash, "=") {
		t.Fatalf("salt or key carries base64 padding: %s", hash)
	}

	ok, err := a.Verify("Tatkal#2026", hash)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}
	ok, err = a.Verify("tatkal#2026", hash)
	if err != nil || ok {
		t.Fatalf("Verify(wrong) = %v, %v", ok, err)
	}
}

func TestHashSaltsEveryCall(t *testing.T) {
	a := mustArgon(t, fastConfig())
	h1, _ := a.Hash("same-secret")
	h2, _ := a.Hash("same-secret")
	if h1 == h2 {
		t.Fatal("two hashes of one secret are identical")
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	a := mustArgon(t, fastConfig())
	hash, err := a.Hash("migrated-secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	// Re-encode salt and key with padding, as older writers did.
	fields := strings.Split(hash, "$")
	for _, i := range []int{4, 5} {
		for len(fields[i])%4 != 0 {
			fields[i] += "="
		}
	}
	padded := strings.Join(fields, "$")
	if padded == hash {
		t.Skip("encoding needed no padding")
	}

	ok, err := a.Verify("migrated-secret", padded)
	if err != nil || !ok {
		t.Fatalf("Verify(padded) = %v, %v", ok, err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	a := mustArgon(t, fastConfig())
	good, err := a.Hash("format-check")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	cases := map[string]string{
		"not phc":           "not-a-phc-hash",
		"bcrypt":            "$2b$10$abcdefghijklmnopqrstuv",
		"argon2i":           strings.Replace(good, "$argon2id$", "$argon2i$", 1),
		"old version":       strings.Replace(good, "$v=19$", "$v=16$", 1),
		"missing version":   strings.Replace(good, "$v=19$", "$19$", 1),
		"tiny memory":       strings.Replace(good, "m=8192", "m=64", 1),
		"duplicate param":   strings.Replace(good, "t=1", "m=8192", 1),
		"unknown param":     strings.Replace(good, "p=1", "x=1", 1),
		"truncated":         good[:strings.LastIndex(good, "$")],
		"bad salt encoding": strings.Replace(good, "$v=19$m=8192,t=1,p=1$", "$v=19$m=8192,t=1,p=1$!!", 1),
	}
	for name, hash := range cases {
		t.Run(name, func(t *testing.T) {
			ok, err := a.Verify("format-check", hash)
			if ok {
				t.Fatal("malformed hash verified")
			}
			if !errors.Is(err, ErrMalformedHash) {
				t.Fatalf("err = %v, want ErrMalformedHash", err)
			}
		})
	}
}

func TestNeedsUpgrade(t *testing.T) {
	current := mustArgon(t, DefaultConfig())

	weaker := DefaultConfig()
	weaker.Memory = 32 * 1024
	weaker.Time = 2
	old, _ := mustArgon(t, weaker).Hash("upgrade-me")

	shorter := DefaultConfig()
	shorter.KeyLength = 16
	short, _ := mustArgon(t, shorter).Hash("upgrade-me")

	same, _ := current.Hash("upgrade-me")

	for name, tc := range map[string]struct {
		hash string
		want bool
	}{
		"weaker cost":    {old, true},
		"different key":  {short, true},
		"current params": {same, false},
	} {
		got, err := current.NeedsUpgrade(tc.hash)
		if err != nil {
			t.Fatalf("%s: NeedsUpgrade: %v", name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: NeedsUpgrade = %v, want %v", name, got, tc.want)
		}
	}

	if _, err := current.NeedsUpgrade("garbage"); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("NeedsUpgrade(garbage) err = %v", err)
	}
}

func TestPasswordLengthLimits(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPasswordBytes = 64
	a := mustArgon(t, cfg)

	if _, err := a.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("Hash(empty) err = %v", err)
	}
	if _, err := a.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("Hash(65 bytes) err = %v", err)
	}

	exact := strings.Repeat("b", 64)
	hash, err := a.Hash(exact)
	if err != nil {
		t.Fatalf("Hash(64 bytes): %v", err)
	}
	if ok, err := a.Verify(exact, hash); err != nil || !ok {
		t.Fatalf("Verify(64 bytes) = %v, %v", ok, err)
	}
	if _, err := a.Verify(strings.Repeat("c", 65), hash); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("Verify(65 bytes) err = %v", err)
	}

	// Short secrets are a policy question for the caller.
	if _, err := a.Hash("short"); err != nil {
		t.Fatalf("Hash(short): %v", err)
	}
}

func TestDefaultMaxPasswordBytesApplied(t *testing.T) {
	a := mustArgon(t, fastConfig())

	if _, err := a.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected secrets over %d bytes to be rejected, got %v", DefaultMaxPasswordBytes, err)
	}
	if _, err := a.Hash(strings.Repeat("e", DefaultMaxPasswordBytes)); err != nil {
		t.Fatalf("expected %d bytes to be accepted: %v", DefaultMaxPasswordBytes, err)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"memory":      func(c *Config) { c.Memory = 1024 },
		"time":        func(c *Config) { c.Time = 0 },
		"parallelism": func(c *Config) { c.Parallelism = 0 },
		"salt":        func(c *Config) { c.SaltLength = 8 },
		"key":         func(c *Config) { c.KeyLength = 8 },
		"max bytes":   func(c *Config) { c.MaxPasswordBytes = -1 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("%s: expected config to be rejected", name)
		}
	}
}
