package password

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// Defaults applied when a legacy method string omits its parameters.
const (
	legacyPBKDF2Iterations = 600000
	legacyScryptN          = 1 << 15
	legacyScryptR          = 8
	legacyScryptP          = 1
	legacyScryptKeyLen     = 64
)

// IsLegacy reports whether encoded is a legacy "method$salt$hex" hash.
func IsLegacy(encoded string) bool {
	return strings.HasPrefix(encoded, "pbkdf2:") || strings.HasPrefix(encoded, "scrypt:") ||
		strings.HasPrefix(encoded, "scrypt$")
}

// VerifyLegacy checks password against a legacy pbkdf2 or scrypt hash.
func VerifyLegacy(password, encoded string) (bool, error) {
	parts := strings.SplitN(encoded, "$", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return false, fmt.Errorf("%w: legacy hash must be method$salt$hash", ErrMalformedHash)
	}
	method, salt := parts[0], parts[1]

	want, err := hex.DecodeString(parts[2])
	if err != nil || len(want) == 0 {
		return false, fmt.Errorf("%w: legacy hash digest is not hex", ErrMalformedHash)
	}

	var got []byte
	switch {
	case strings.HasPrefix(method, "pbkdf2:"):
		got, err = legacyPBKDF2(method, password, salt, len(want))
	case method == "scrypt" || strings.HasPrefix(method, "scrypt:"):
		got, err = legacyScrypt(method, password, salt, len(want))
	default:
		return false, fmt.Errorf("%w: unsupported legacy method %q", ErrMalformedHash, method)
	}
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func legacyPBKDF2(method, password, salt string, keyLen int) ([]byte, error) {
	fields := strings.Split(method, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return nil, fmt.Errorf("%w: bad pbkdf2 method %q", ErrMalformedHash, method)
	}

	var h func() hash.Hash
	switch fields[1] {
	case "sha256":
		h = sha256.New
	case "sha512":
		h = sha512.New
	case "sha1":
		h = sha1.New
	default:
		return nil, fmt.Errorf("%w: unsupported pbkdf2 digest %q", ErrMalformedHash, fields[1])
	}

	iterations := legacyPBKDF2Iterations
	if len(fields) == 3 {
		n, err := strconv.Atoi(fields[2])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: bad pbkdf2 iterations", ErrMalformedHash)
		}
		iterations = n
	}

	return pbkdf2.Key([]byte(password), []byte(salt), iterations, keyLen, h), nil
}

func legacyScrypt(method, password, salt string, keyLen int) ([]byte, error) {
	n, r, p := legacyScryptN, legacyScryptR, legacyScryptP

	fields := strings.Split(method, ":")
	if len(fields) > 1 {
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: bad scrypt method %q", ErrMalformedHash, method)
		}
		var err error
		if n, err = strconv.Atoi(fields[1]); err != nil {
			return nil, fmt.Errorf("%w: bad scrypt N", ErrMalformedHash)
		}
		if r, err = strconv.Atoi(fields[2]); err != nil {
			return nil, fmt.Errorf("%w: bad scrypt r", ErrMalformedHash)
		}
		if p, err = strconv.Atoi(fields[3]); err != nil {
			return nil, fmt.Errorf("%w: bad scrypt p", ErrMalformedHash)
		}
	}
	if keyLen == 0 {
		keyLen = legacyScryptKeyLen
	}

	key, err := scrypt.Key([]byte(password), []byte(salt), n, r, p, keyLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return key, nil
}
