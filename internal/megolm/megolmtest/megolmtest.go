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

// Package megolmtest provides the sending side of megolm for tests: an
// outbound group session and the room key export writer.
package megolmtest

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/ccbackup/chatbackup/internal/megolm"
)

const (
	messageVersion    = 0x03
	sessionSharingVer = 0x02
	tagIndex          = 0x08
	tagCiphertext     = 0x12
	macLen            = 8

	ExportHeader  = "-----BEGIN MEGOLM SESSION DATA-----"
	ExportFooter  = "-----END MEGOLM SESSION DATA-----"
	exportVersion = 0x01
)

func encodeB64(b []byte) string {
	return base64.RawStdEncoding.EncodeToString(b)
}

// OutboundSession is the sending half of a session.
type OutboundSession struct {
	priv    ed25519.PrivateKey
	ratchet megolm.Ratchet
}

// NewOutboundSession creates a session with the key material from rnd.
func NewOutboundSession(rnd io.Reader) (*OutboundSession, error) {
	_, priv, err := ed25519.GenerateKey(rnd)
	if err != nil {
		return nil, err
	}
	o := &OutboundSession{priv: priv}
	if _, err := io.ReadFull(rnd, o.ratchet.Data[:]); err != nil {
		return nil, err
	}
	return o, nil
}

// ID returns the session ID.
func (o *OutboundSession) ID() string {
	return encodeB64(o.priv.Public().(ed25519.PublicKey))
}

// Index returns the index of the next message.
func (o *OutboundSession) Index() uint32 {
	return o.ratchet.Counter
}

// AdvanceTo skips the messages up to the index.
func (o *OutboundSession) AdvanceTo(idx uint32) {
	if idx > o.ratchet.Counter {
		o.ratchet.AdvanceTo(idx)
	}
}

// SessionKey returns the signed session key at the current index, as shared
// in m.room_key events.
func (o *OutboundSession) SessionKey() string {
	buf := []byte{sessionSharingVer}
	buf = binary.BigEndian.AppendUint32(buf, o.ratchet.Counter)
	buf = append(buf, o.ratchet.Data[:]...)
	buf = append(buf, o.priv.Public().(ed25519.PublicKey)...)
	buf = append(buf, ed25519.Sign(o.priv, buf)...)
	return encodeB64(buf)
}

// Encrypt encrypts the plaintext with the current ratchet and advances it.
func (o *OutboundSession) Encrypt(plaintext []byte) (string, error) {
	keys := make([]byte, 80)
	if _, err := io.ReadFull(hkdf.New(sha256.New, o.ratchet.Data[:], nil, []byte("MEGOLM_KEYS")), keys); err != nil {
		return "", err
	}
	aesKey, macKey, iv := keys[:32], keys[32:64], keys[64:]
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", err
	}
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte(nil), plaintext...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	buf := []byte{messageVersion, tagIndex}
	buf = binary.AppendUvarint(buf, uint64(o.ratchet.Counter))
	buf = append(buf, tagCiphertext)
	buf = binary.AppendUvarint(buf, uint64(len(ct)))
	buf = append(buf, ct...)
	mac := hmac.New(sha256.New, macKey)
	mac.Write(buf)
	buf = append(buf, mac.Sum(nil)[:macLen]...)
	buf = append(buf, ed25519.Sign(o.priv, buf)...)

	o.ratchet.Advance()
	return encodeB64(buf), nil
}

// WriteKeyExport encrypts the sessions in the format of the room key export
// (the one read by megolm.ReadKeyExport).
func WriteKeyExport(w io.Writer, sessions []megolm.ExportedSession, passphrase string, rounds int, rnd io.Reader) error {
	plain, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	salt := make([]byte, 16)
	iv := make([]byte, 16)
	if _, err := io.ReadFull(rnd, salt); err != nil {
		return err
	}
	if _, err := io.ReadFull(rnd, iv); err != nil {
		return err
	}
	iv[8] &= 0x7f // leaves room for the counter, as other clients do
	k := pbkdf2.Key([]byte(passphrase), salt, rounds, 64, sha512.New)
	block, err := aes.NewCipher(k[:32])
	if err != nil {
		return err
	}
	body := make([]byte, len(plain))
	cipher.NewCTR(block, iv).XORKeyStream(body, plain)

	var buf bytes.Buffer
	buf.WriteByte(exportVersion)
	buf.Write(salt)
	buf.Write(iv)
	_ = binary.Write(&buf, binary.BigEndian, uint32(rounds))
	buf.Write(body)
	mac := hmac.New(sha256.New, k[32:])
	mac.Write(buf.Bytes())
	buf.Write(mac.Sum(nil))

	enc := base64.StdEncoding.EncodeToString(buf.Bytes())
	if _, err := fmt.Fprintln(w, ExportHeader); err != nil {
		return err
	}
	for len(enc) > 0 {
		n := min(len(enc), 76)
		if _, err := fmt.Fprintln(w, enc[:n]); err != nil {
			return err
		}
		enc = enc[n:]
	}
	_, err = fmt.Fprintln(w, ExportFooter)
	return err
}
