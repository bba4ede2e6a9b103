package reader

import (
	"bytes"
	"crypto/md5"
	"crypto/rc4"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrPassword is returned when neither the user nor the owner password
// check accepts the supplied password.
var ErrPassword = errors.New("reader: incorrect password")

// passwordPad is the 32-byte string used to pad passwords (ISO 32000-1 7.6.3.3).
var passwordPad = [32]byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// security is the standard security handler for RC4 encryption (V 1 and 2).
// Once authenticated, key holds the file key.
type security struct {
	rev    int
	keyLen int // bytes
	owner  []byte
	user   []byte
	perms  uint32
	fileID []byte
	key    []byte
}

// newSecurity reads the /Encrypt dictionary named by the trailer.
func newSecurity(d *Document) (*security, error) {
	obj, err := d.resolveIfRef(d.trailer["Encrypt"])
	if err != nil {
		return nil, fmt.Errorf("resolving /Encrypt: %w", err)
	}
	enc, ok := obj.(Dict)
	if !ok {
		return nil, fmt.Errorf("/Encrypt is %T, not a dictionary", obj)
	}
	if filter := enc.GetName("Filter"); filter != "" && filter != "Standard" {
		return nil, fmt.Errorf("unsupported security handler /%s", filter)
	}
	if v, _ := enc.GetInt("V"); v > 2 {
		return nil, fmt.Errorf("unsupported encryption version V=%d", v)
	}

	s := &security{rev: 2, keyLen: 5}
	if r, ok := enc.GetInt("R"); ok {
		s.rev = int(r)
	}
	if n, ok := enc.GetInt("Length"); ok && n >= 40 && n <= 128 {
		s.keyLen = int(n) / 8
	}
	if p, ok := enc.GetInt("P"); ok {
		s.perms = uint32(int32(p))
	}
	s.owner = stringBytes(enc["O"])
	s.user = stringBytes(enc["U"])
	if ids := d.trailer.GetArray("ID"); len(ids) > 0 {
		s.fileID = stringBytes(ids[0])
	}
	return s, nil
}

func stringBytes(o Object) []byte {
	if s, ok := o.(String); ok {
		return s.Value
	}
	return nil
}

// authenticate tries password as the user password, then as the owner
// password, and keeps the resulting file key.
func (s *security) authenticate(password string) error {
	pw := []byte(password)
	if key := s.fileKey(pw); s.userMatches(key) {
		s.key = key
		return nil
	}
	if key := s.fileKey(s.userFromOwner(pw)); s.userMatches(key) {
		s.key = key
		return nil
	}
	return ErrPassword
}

func pad(pw []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, pw)
	copy(out[n:], passwordPad[:])
	return out
}

// fileKey derives the file key from a user password (algorithm 2).
func (s *security) fileKey(pw []byte) []byte {
	h := md5.New()
	h.Write(pad(pw))
	h.Write(s.owner)
	h.Write(binary.LittleEndian.AppendUint32(nil, s.perms))
	h.Write(s.fileID)
	sum := h.Sum(nil)
	if s.rev >= 3 {
		for range 50 {
			next := md5.Sum(sum[:s.keyLen])
			sum = next[:]
		}
	}
	return sum[:s.keyLen]
}

// userMatches checks key against the /U entry (algorithms 4 and 5).
func (s *security) userMatches(key []byte) bool {
	if s.rev == 2 {
		got := make([]byte, 32)
		rc4Pass(key, 0, got, passwordPad[:])
		return len(s.user) >= 32 && bytes.Equal(got, s.user[:32])
	}
	h := md5.New()
	h.Write(passwordPad[:])
	h.Write(s.fileID)
	got := h.Sum(nil)
	for i := 0; i <= 19; i++ {
		rc4Pass(key, byte(i), got, got)
	}
	return len(s.user) >= 16 && bytes.Equal(got, s.user[:16])
}

// userFromOwner recovers the padded user password from the /O entry using
// the owner password (algorithm 7).
func (s *security) userFromOwner(pw []byte) []byte {
	sum := md5.Sum(pad(pw))
	if s.rev >= 3 {
		for range 50 {
			sum = md5.Sum(sum[:])
		}
	}
	key := sum[:s.keyLen]
	out := bytes.Clone(s.owner)
	if s.rev == 2 {
		rc4Pass(key, 0, out, out)
		return out
	}
	for i := 19; i >= 0; i-- {
		rc4Pass(key, byte(i), out, out)
	}
	return out
}

// rc4Pass encrypts src into dst with key XORed byte-wise with x.
func rc4Pass(key []byte, x byte, dst, src []byte) {
	k := make([]byte, len(key))
	for i := range key {
		k[i] = key[i] ^ x
	}
	c, err := rc4.NewCipher(k)
	if err != nil {
		panic(err) // key length is always 1..16
	}
	c.XORKeyStream(dst, src)
}

// objectCipher returns the RC4 cipher for the strings and streams of one
// indirect object. fpdf encrypts all strings of an object with a single
// running cipher, so callers keep it for the whole object.
func (s *security) objectCipher(num, gen int) *rc4.Cipher {
	buf := bytes.Clone(s.key)
	buf = append(buf, byte(num), byte(num>>8), byte(num>>16), byte(gen), byte(gen>>8))
	sum := md5.Sum(buf)
	c, _ := rc4.NewCipher(sum[:min(len(s.key)+5, 16)])
	return c
}
