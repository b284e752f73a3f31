// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auth verifies the shared access secret of the search endpoint.
//
// # Description
//
// The service is protected by one process-wide secret stored as an
// argon2id hash in PHC string format:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
//
// Salt and hash are unpadded standard base64, as written by the reference
// argon2 implementations.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash is returned when a stored hash is not an argon2id PHC string.
var ErrInvalidHash = errors.New("invalid argon2id hash")

// Params are the argon2id cost parameters.
//
// # Fields
//
//   - Memory: Memory cost in KiB.
//   - Iterations: Number of passes.
//   - Parallelism: Number of lanes.
//   - SaltLength: Salt size in bytes. Only used by HashPassword.
//   - KeyLength: Derived key size in bytes.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams matches the defaults of common argon2id password hashers:
// 64 MiB, 3 passes, 4 lanes, 16 byte salt, 32 byte key.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Gate checks caller secrets against one stored argon2id hash.
//
// # Thread Safety
//
// Safe for concurrent use. All fields are read-only after NewGate.
type Gate struct {
	params Params
	salt   []byte
	hash   []byte
}

// NewGate parses the stored PHC hash.
//
// # Outputs
//
//   - *Gate: Ready to verify secrets.
//   - error: ErrInvalidHash when the string is malformed, names another
//     variant or version, or carries out-of-range parameters.
func NewGate(phc string) (*Gate, error) {
	params, salt, hash, err := decodeHash(phc)
	if err != nil {
		return nil, err
	}
	return &Gate{params: params, salt: salt, hash: hash}, nil
}

// Verify reports whether secret matches the stored hash.
//
// # Description
//
// The empty secret is always rejected. Otherwise the argon2id key is
// derived with the stored parameters and compared in constant time.
// Verify never returns an error: every failure is a plain rejection.
//
// # Limitations
//
//   - Each call allocates Params.Memory KiB. With the default parameters
//     that is 64 MiB per concurrent verification.
func (g *Gate) Verify(secret string) bool {
	if secret == "" {
		return false
	}
	derived := argon2.IDKey([]byte(secret), g.salt, g.params.Iterations, g.params.Memory, g.params.Parallelism, uint32(len(g.hash)))
	return subtle.ConstantTimeCompare(derived, g.hash) == 1
}

// HashPassword derives a PHC-encoded argon2id hash of secret with a fresh
// random salt.
//
// # Examples
//
//	phc, err := auth.HashPassword("correct horse", auth.DefaultParams())
//	// phc = "$argon2id$v=19$m=65536,t=3,p=4$...$..."
func HashPassword(secret string, params Params) (string, error) {
	if secret == "" {
		return "", errors.New("secret must not be empty")
	}
	if params.Iterations == 0 || params.Parallelism == 0 || params.KeyLength == 0 || params.SaltLength == 0 {
		return "", fmt.Errorf("invalid argon2id parameters %+v", params)
	}

	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.Memory, params.Iterations, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// decodeHash splits a PHC string into parameters, salt and key.
func decodeHash(phc string) (Params, []byte, []byte, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(phc, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, fmt.Errorf("%w: not an argon2id PHC string", ErrInvalidHash)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: bad version field %q", ErrInvalidHash, parts[2])
	}
	if version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidHash, version)
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: bad parameter field %q", ErrInvalidHash, parts[3])
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: zero cost parameter", ErrInvalidHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: bad salt encoding", ErrInvalidHash)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: bad hash encoding", ErrInvalidHash)
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(hash))
	return p, salt, hash, nil
}
