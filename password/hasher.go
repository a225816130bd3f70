package password

// Hasher produces argon2id hashes and verifies both argon2id and legacy pbkdf2/scrypt
// hashes. Any successful legacy verification should be followed by a rehash.
type Hasher struct {
	argon *Argon2
}

// NewHasher builds a Hasher from argon2id parameters.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a}, nil
}

// Hash returns a new argon2id PHC string.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify checks password against encoded in whichever format it was stored.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if IsLegacy(encoded) {
		if len(password) > h.argon.config.MaxPasswordBytes {
			return false, ErrPasswordTooLong
		}
		return VerifyLegacy(password, encoded)
	}
	return h.argon.Verify(password, encoded)
}

// NeedsRehash reports whether encoded should be replaced on the next successful
// login: legacy formats always, argon2id when its parameters are weaker than current.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if IsLegacy(encoded) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encoded)
	return err == nil && upgrade
}

// MinLength returns the configured minimum password length in bytes.
func (h *Hasher) MinLength() int {
	return h.argon.config.MinPasswordBytes
}
