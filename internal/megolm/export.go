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

package megolm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	exportHeader  = "-----BEGIN MEGOLM SESSION DATA-----"
	exportFooter  = "-----END MEGOLM SESSION DATA-----"
	exportVersion = 0x01
	exportSaltLen = 16
	exportIVLen   = 16
	exportHMACLen = 32
)

var (
	ErrBadExport  = errors.New("megolm: malformed key export")
	ErrPassphrase = errors.New("megolm: wrong passphrase or corrupt key export")
)

// ExportedSession is one entry of the room key export.
type ExportedSession struct {
	Algorithm         string            `json:"algorithm"`
	RoomID            string            `json:"room_id"`
	SenderKey         string            `json:"sender_key"`
	SenderClaimedKeys map[string]string `json:"sender_claimed_keys,omitempty"`
	SessionID         string            `json:"session_id"`
	SessionKey        string            `json:"session_key"`
	ForwardingChain   []string          `json:"forwarding_curve25519_key_chain,omitempty"`
}

// ReadKeyExport decrypts the key export produced by Element ("Export E2E
// room keys") and returns the sessions.
func ReadKeyExport(r io.Reader, passphrase string) ([]ExportedSession, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data, err := unarmor(raw)
	if err != nil {
		return nil, err
	}
	const minLen = 1 + exportSaltLen + exportIVLen + 4 + exportHMACLen
	if len(data) < minLen {
		return nil, ErrBadExport
	}
	if data[0] != exportVersion {
		return nil, ErrBadVersion
	}
	salt := data[1 : 1+exportSaltLen]
	iv := data[1+exportSaltLen : 1+exportSaltLen+exportIVLen]
	rounds := binary.BigEndian.Uint32(data[1+exportSaltLen+exportIVLen:])
	body := data[1+exportSaltLen+exportIVLen+4 : len(data)-exportHMACLen]
	wantMAC := data[len(data)-exportHMACLen:]

	aesKey, macKey := exportKeys(passphrase, salt, int(rounds))
	mac := hmac.New(sha256.New, macKey)
	mac.Write(data[:len(data)-exportHMACLen])
	if !hmac.Equal(mac.Sum(nil), wantMAC) {
		return nil, ErrPassphrase
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(body))
	cipher.NewCTR(block, iv).XORKeyStream(plain, body)

	var sessions []ExportedSession
	if err := json.Unmarshal(plain, &sessions); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadExport, err)
	}
	return sessions, nil
}

func exportKeys(passphrase string, salt []byte, rounds int) (aesKey, macKey []byte) {
	k := pbkdf2.Key([]byte(passphrase), salt, rounds, 64, sha512.New)
	return k[:32], k[32:]
}

func unarmor(raw []byte) ([]byte, error) {
	s := string(raw)
	start := strings.Index(s, exportHeader)
	end := strings.Index(s, exportFooter)
	if start < 0 || end < start {
		return nil, ErrBadExport
	}
	body := strings.Join(strings.Fields(s[start+len(exportHeader):end]), "")
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(body, "=")); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadExport, err)
		}
	}
	return data, nil
}

// ImportSessions adds the exported sessions to the keyring and returns the
// number of sessions added.  Sessions of other algorithms are skipped.
func (k *Keyring) ImportSessions(sessions []ExportedSession) (int, error) {
	var n int
	var errs []error
	for _, es := range sessions {
		if es.Algorithm != Algorithm {
			continue
		}
		s, err := NewInboundSession(es.RoomID, es.SenderKey, es.SessionKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", es.SessionID, err))
			continue
		}
		if es.SessionID != "" && es.SessionID != s.ID {
			errs = append(errs, fmt.Errorf("session %s: %w: id mismatch", es.SessionID, ErrBadSessionKey))
			continue
		}
		if k.Add(s) {
			n++
		}
	}
	return n, errors.Join(errs...)
}
