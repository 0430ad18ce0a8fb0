// Copyright (c) 2021-2026 Rustam Gilyazov and Contributors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package megolm implements decryption of megolm group messages (the
// m.megolm.v1.aes-sha2 algorithm), the inbound session keyring and the
// import of exported room keys.
//
// Only the inbound half is implemented: sessions are received from other
// devices or from a key export, this package never creates outbound
// sessions.
package megolm

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// Algorithm is the matrix algorithm name.
	Algorithm = "m.megolm.v1.aes-sha2"

	messageVersion       = 0x03
	sessionSharingVer    = 0x02
	sessionExportVer     = 0x01
	macLen               = 8
	signatureLen         = ed25519.SignatureSize
	sessionExportLen     = 1 + 4 + ratchetLen + ed25519.PublicKeySize
	sessionSharingLength = sessionExportLen + signatureLen

	tagIndex      = 0x08
	tagCiphertext = 0x12
)

var (
	ErrBadVersion     = errors.New("megolm: unsupported version")
	ErrBadMessage     = errors.New("megolm: malformed message")
	ErrBadSignature   = errors.New("megolm: bad signature")
	ErrBadMAC         = errors.New("megolm: bad mac")
	ErrUnknownIndex   = errors.New("megolm: message index precedes the known session start")
	ErrBadSessionKey  = errors.New("megolm: malformed session key")
	ErrUnknownSession = errors.New("megolm: unknown session")
	ErrReplay         = errors.New("megolm: message index replayed")
)

// InboundSession is the receiving half of a megolm session.  Initial is the
// ratchet at the earliest known message index, it is never advanced in place
// so that every message from FirstIndex onwards can be decrypted.
type InboundSession struct {
	ID         string            `json:"session_id"`
	RoomID     string            `json:"room_id"`
	SenderKey  string            `json:"sender_key,omitempty"`
	SigningKey ed25519.PublicKey `json:"signing_key"`
	Initial    Ratchet           `json:"-"`
	Forwarded  bool              `json:"forwarded,omitempty"`

	// serialised form of Initial
	RatchetData []byte `json:"ratchet"`
	FirstIndex  uint32 `json:"first_index"`
}

// FirstKnownIndex returns the first message index the session can decrypt.
func (s *InboundSession) FirstKnownIndex() uint32 {
	return s.Initial.Counter
}

// flatten copies the ratchet into the serialised fields.
func (s *InboundSession) flatten() {
	s.RatchetData = append([]byte(nil), s.Initial.Data[:]...)
	s.FirstIndex = s.Initial.Counter
}

func (s *InboundSession) unflatten() error {
	if len(s.RatchetData) != ratchetLen || len(s.SigningKey) != ed25519.PublicKeySize {
		return ErrBadSessionKey
	}
	copy(s.Initial.Data[:], s.RatchetData)
	s.Initial.Counter = s.FirstIndex
	return nil
}

// decodeB64 decodes the unpadded base64 used by matrix, tolerating padding.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(s), "="))
}

func encodeB64(b []byte) string {
	return base64.RawStdEncoding.EncodeToString(b)
}

// NewInboundSession creates a session from the session key received in an
// m.room_key event (sharing format, signed) or in an m.forwarded_room_key
// event or key export (export format, unsigned).
func NewInboundSession(roomID, senderKey, sessionKey string) (*InboundSession, error) {
	data, err := decodeB64(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSessionKey, err)
	}
	if len(data) == 0 {
		return nil, ErrBadSessionKey
	}
	s := &InboundSession{RoomID: roomID, SenderKey: senderKey}
	switch data[0] {
	case sessionSharingVer:
		if len(data) != sessionSharingLength {
			return nil, ErrBadSessionKey
		}
		pub := ed25519.PublicKey(data[1+4+ratchetLen : sessionExportLen])
		if !ed25519.Verify(pub, data[:sessionExportLen], data[sessionExportLen:]) {
			return nil, ErrBadSignature
		}
	case sessionExportVer:
		if len(data) != sessionExportLen {
			return nil, ErrBadSessionKey
		}
		s.Forwarded = true
	default:
		return nil, ErrBadVersion
	}
	s.Initial.Counter = binary.BigEndian.Uint32(data[1:5])
	copy(s.Initial.Data[:], data[5:5+ratchetLen])
	s.SigningKey = append(ed25519.PublicKey(nil), data[5+ratchetLen:sessionExportLen]...)
	s.ID = encodeB64(s.SigningKey)
	s.flatten()
	return s, nil
}

// Export returns the session in the export format starting at the first
// known index.
func (s *InboundSession) Export() string {
	buf := make([]byte, 0, sessionExportLen)
	buf = append(buf, sessionExportVer)
	buf = binary.BigEndian.AppendUint32(buf, s.Initial.Counter)
	buf = append(buf, s.Initial.Data[:]...)
	buf = append(buf, s.SigningKey...)
	return encodeB64(buf)
}

type message struct {
	index      uint32
	ciphertext []byte
	macd       []byte // bytes covered by the MAC
	mac        []byte
	signed     []byte // bytes covered by the signature
	signature  []byte
}

func parseMessage(data []byte) (*message, error) {
	if len(data) < 1+macLen+signatureLen {
		return nil, ErrBadMessage
	}
	if data[0] != messageVersion {
		return nil, ErrBadVersion
	}
	end := len(data) - macLen - signatureLen
	m := &message{
		macd:      data[:end],
		mac:       data[end : end+macLen],
		signed:    data[:end+macLen],
		signature: data[end+macLen:],
	}
	var haveIndex bool
	rd := bytes.NewReader(data[1:end])
	for rd.Len() > 0 {
		tag, err := binary.ReadUvarint(rd)
		if err != nil {
			return nil, ErrBadMessage
		}
		switch {
		case tag == tagIndex:
			v, err := binary.ReadUvarint(rd)
			if err != nil || v > 0xffffffff {
				return nil, ErrBadMessage
			}
			m.index = uint32(v)
			haveIndex = true
		case tag == tagCiphertext:
			b, err := readBytes(rd)
			if err != nil {
				return nil, err
			}
			m.ciphertext = b
		case tag&0x7 == 0: // unknown varint
			if _, err := binary.ReadUvarint(rd); err != nil {
				return nil, ErrBadMessage
			}
		case tag&0x7 == 2: // unknown length-delimited
			if _, err := readBytes(rd); err != nil {
				return nil, err
			}
		default:
			return nil, ErrBadMessage
		}
	}
	if !haveIndex || len(m.ciphertext) == 0 {
		return nil, ErrBadMessage
	}
	return m, nil
}

func readBytes(rd *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(rd)
	if err != nil || n > uint64(rd.Len()) {
		return nil, ErrBadMessage
	}
	b := make([]byte, n)
	if _, err := rd.Read(b); err != nil {
		return nil, ErrBadMessage
	}
	return b, nil
}

// Decrypt decrypts the base64 encoded megolm message and returns the
// plaintext and its message index.
func (s *InboundSession) Decrypt(ciphertext string) ([]byte, uint32, error) {
	data, err := decodeB64(ciphertext)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	m, err := parseMessage(data)
	if err != nil {
		return nil, 0, err
	}
	if !ed25519.Verify(s.SigningKey, m.signed, m.signature) {
		return nil, m.index, ErrBadSignature
	}
	if m.index < s.Initial.Counter {
		return nil, m.index, ErrUnknownIndex
	}
	r := s.Initial // copy
	r.AdvanceTo(m.index)
	keys, err := r.keys()
	if err != nil {
		return nil, m.index, err
	}
	mac := hmac.New(sha256.New, keys.macKey)
	mac.Write(m.macd)
	if !hmac.Equal(mac.Sum(nil)[:macLen], m.mac) {
		return nil, m.index, ErrBadMAC
	}
	pt, err := decryptCBC(keys.aesKey, keys.iv, m.ciphertext)
	if err != nil {
		return nil, m.index, err
	}
	return pt, m.index, nil
}

func decryptCBC(key, iv, ct []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, ErrBadMessage
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	// PKCS#7
	pad := int(pt[len(pt)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(pt) {
		return nil, ErrBadMessage
	}
	for _, b := range pt[len(pt)-pad:] {
		if int(b) != pad {
			return nil, ErrBadMessage
		}
	}
	return pt[:len(pt)-pad], nil
}
