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
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

var ErrHashMismatch = errors.New("megolm: attachment hash mismatch")

// DecryptAttachment decrypts the AES-256-CTR encrypted attachment read from
// src into dst.  The SHA-256 of the ciphertext is verified when the whole
// payload was read, on mismatch ErrHashMismatch is returned and the caller
// must discard whatever was written to dst.
func DecryptAttachment(dst io.Writer, src io.Reader, key, iv, sha []byte) (int64, error) {
	if len(key) != 32 {
		return 0, fmt.Errorf("megolm: invalid attachment key length %d", len(key))
	}
	if len(iv) != aes.BlockSize {
		return 0, fmt.Errorf("megolm: invalid attachment iv length %d", len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return 0, err
	}
	h := sha256.New()
	r := cipher.StreamReader{
		S: cipher.NewCTR(block, iv),
		R: io.TeeReader(src, h),
	}
	n, err := io.Copy(dst, r)
	if err != nil {
		return n, err
	}
	if len(sha) > 0 && subtle.ConstantTimeCompare(h.Sum(nil), sha) != 1 {
		return n, ErrHashMismatch
	}
	return n, nil
}
