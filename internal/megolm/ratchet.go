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
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	ratchetParts     = 4
	ratchetPartLen   = sha256.Size
	ratchetLen       = ratchetParts * ratchetPartLen
	keysInfo         = "MEGOLM_KEYS"
	aesKeyLen        = 32
	macKeyLen        = 32
	aesIVLen         = 16
	derivedKeyLength = aesKeyLen + macKeyLen + aesIVLen
)

// Ratchet is the megolm ratchet state: four 256-bit parts R(0)..R(3) and the
// message index.  R(i) is rehashed every 2^(8*(3-i)) messages.
type Ratchet struct {
	Data    [ratchetLen]byte
	Counter uint32
}

// rehash sets R(to) = HMAC-SHA256(R(from), [to]).
func (r *Ratchet) rehash(from, to int) {
	mac := hmac.New(sha256.New, r.part(from))
	mac.Write([]byte{byte(to)})
	copy(r.Data[to*ratchetPartLen:(to+1)*ratchetPartLen], mac.Sum(nil))
}

func (r *Ratchet) part(i int) []byte {
	p := make([]byte, ratchetPartLen)
	copy(p, r.Data[i*ratchetPartLen:(i+1)*ratchetPartLen])
	return p
}

// Advance moves the ratchet forward by one message.
func (r *Ratchet) Advance() {
	mask := uint32(0x00ffffff)
	h := 0
	r.Counter++
	// figure out how much we need to rekey
	for h < ratchetParts {
		if r.Counter&mask == 0 {
			break
		}
		h++
		mask >>= 8
	}
	// update R(h)...R(3) based on R(h)
	for i := ratchetParts - 1; i >= h; i-- {
		r.rehash(h, i)
	}
}

// AdvanceTo moves the ratchet forward to the index to.  The number of
// rehash operations is bounded by 1024 regardless of the distance.
func (r *Ratchet) AdvanceTo(to uint32) {
	for i := 0; i < ratchetParts; i++ {
		shift := uint((ratchetParts - i - 1) * 8)
		mask := ^uint32(0) << shift

		// how many times do we need to rehash this part? '& 0xff' handles
		// the wraparound.
		steps := ((to >> shift) - (r.Counter >> shift)) & 0xff
		if steps == 0 {
			// counter is slightly larger than to, this only happens for
			// R(0) when to has wrapped around.
			if to < r.Counter {
				steps = 0x100
			} else {
				continue
			}
		}
		// all but the last step only bump R(i)
		for ; steps > 1; steps-- {
			r.rehash(i, i)
		}
		// the last step also bumps R(i+1)...R(3)
		for k := ratchetParts - 1; k >= i; k-- {
			r.rehash(i, k)
		}
		r.Counter = to & mask
	}
}

type messageKeys struct {
	aesKey []byte
	macKey []byte
	iv     []byte
}

// keys derives the message keys for the current ratchet position.
func (r *Ratchet) keys() (messageKeys, error) {
	kdf := hkdf.New(sha256.New, r.Data[:], nil, []byte(keysInfo))
	buf := make([]byte, derivedKeyLength)
	if _, err := io.ReadFull(kdf, buf); err != nil {
		return messageKeys{}, err
	}
	return messageKeys{
		aesKey: buf[:aesKeyLen],
		macKey: buf[aesKeyLen : aesKeyLen+macKeyLen],
		iv:     buf[aesKeyLen+macKeyLen:],
	}, nil
}
