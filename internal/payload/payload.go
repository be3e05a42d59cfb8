// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: December 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package payload implements the client-side encryption and compression frame.
// Each block is zstd-compressed, encrypted with AES-GCM under a scrypt-derived
// key, and framed as a length line followed by the raw fields:
//
//	"<len ciphertext> <len salt> <len nonce> <len tag>\n" ciphertext salt nonce tag
//
// Frames concatenate without separators; the decoder consumes them in order.
// The server never inspects this format. Empty input and an empty password pass
// through unchanged.
package payload

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/scrypt"
)

// DefaultLevel is the zstd compression level used when none is chosen.
const DefaultLevel = 3

const (
	saltLen  = 16
	nonceLen = 12
	tagLen   = 16

	scryptN      = 1 << 14
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// ErrBadFrame is returned when encrypted data does not parse as frames.
var ErrBadFrame = errors.New("bad encrypted data")

type frame struct {
	text  []byte
	salt  []byte
	nonce []byte
	tag   []byte
}

func (f frame) encode() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d %d %d %d\n", len(f.text), len(f.salt), len(f.nonce), len(f.tag))
	b.Write(f.text)
	b.Write(f.salt)
	b.Write(f.nonce)
	b.Write(f.tag)
	return b.Bytes()
}

// decodeFrames splits raw into its concatenated frames.
func decodeFrames(raw []byte) ([]frame, error) {
	var ret []frame
	for end := 0; end < len(raw); {
		nl := bytes.IndexByte(raw[end:], '\n')
		if nl < 0 {
			return nil, ErrBadFrame
		}
		fields := bytes.Split(raw[end:end+nl], []byte{' '})
		if len(fields) != 4 {
			return nil, ErrBadFrame
		}
		start := end + nl + 1
		parts := make([][]byte, 4)
		for i, f := range fields {
			n, err := strconv.Atoi(string(f))
			if err != nil || n < 0 || start+n > len(raw) {
				return nil, ErrBadFrame
			}
			parts[i] = raw[start : start+n]
			start += n
		}
		ret = append(ret, frame{text: parts[0], salt: parts[1], nonce: parts[2], tag: parts[3]})
		end = start
	}
	return ret, nil
}

func deriveGCM(password string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encryptor compresses and encrypts blocks for upload. A nil *Encryptor or an
// empty password leaves blocks untouched.
type Encryptor struct {
	password string
	enc      *zstd.Encoder
}

// NewEncryptor builds an Encryptor at the given zstd level using the given
// number of compression goroutines. A non-default level requires a password.
func NewEncryptor(password string, level, threads int) (*Encryptor, error) {
	if level == 0 {
		level = DefaultLevel
	}
	if password == "" {
		if level != DefaultLevel {
			return nil, errors.New("compression level requires a password")
		}
		return &Encryptor{}, nil
	}
	if threads < 1 {
		threads = 1
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(threads),
		zstd.WithEncoderCRC(true),
	)
	if err != nil {
		return nil, err
	}
	return &Encryptor{password: password, enc: enc}, nil
}

// Encode compresses and encrypts one block, returning a single frame.
func (e *Encryptor) Encode(data []byte) ([]byte, error) {
	if e == nil || e.password == "" || len(data) == 0 {
		return data, nil
	}
	compressed := e.enc.EncodeAll(data, nil)
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	gcm, err := deriveGCM(e.password, salt)
	if err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, compressed, nil)
	f := frame{
		text:  sealed[:len(sealed)-tagLen],
		salt:  salt,
		nonce: nonce,
		tag:   sealed[len(sealed)-tagLen:],
	}
	return f.encode(), nil
}

// Decode decrypts and decompresses one or more concatenated frames. With an
// empty password or empty input, data is returned unchanged.
func Decode(data []byte, password string) ([]byte, error) {
	if password == "" || len(data) == 0 {
		return data, nil
	}
	frames, err := decodeFrames(data)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	var out bytes.Buffer
	for _, f := range frames {
		gcm, err := deriveGCM(password, f.salt)
		if err != nil {
			return nil, err
		}
		plain, err := gcm.Open(nil, f.nonce, append(append([]byte{}, f.text...), f.tag...), nil)
		if err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
		raw, err := dec.DecodeAll(plain, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
		out.Write(raw)
	}
	return out.Bytes(), nil
}
