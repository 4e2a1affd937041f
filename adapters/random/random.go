// Package random provides Random implementations.
package random

import (
	"crypto/rand"
	"math/big"
	"sync"
)

const (
	minLength = 20
	maxLength = 100
)

// Real uses crypto/rand for secure randomness.
type Real struct{}

// Bytes generates n cryptographically secure random bytes.
func (Real) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// String generates a random string of digits and ASCII letters. Each character
// is a digit, an upper case or a lower case letter with equal odds. When n is
// not positive a length between 20 and 100 is picked.
func (r Real) String(n int) (string, error) {
	if n <= 0 {
		l, err := intn(maxLength - minLength + 1)
		if err != nil {
			return "", err
		}
		n = minLength + l
	}

	out := make([]byte, n)
	for i := range out {
		class, err := intn(3)
		if err != nil {
			return "", err
		}
		var c int
		switch class {
		case 0:
			c, err = intn(10)
			c += '0'
		case 1:
			c, err = intn(26)
			c += 'A'
		default:
			c, err = intn(26)
			c += 'a'
		}
		if err != nil {
			return "", err
		}
		out[i] = byte(c)
	}
	return string(out), nil
}

func intn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// Fake provides deterministic randomness for testing.
type Fake struct {
	mu      sync.Mutex
	counter int
	values  [][]byte // Preset values to return
	index   int
}

// NewFake creates a fake random source.
func NewFake() *Fake {
	return &Fake{}
}

// WithValues sets preset byte values to return.
func (f *Fake) WithValues(values ...[]byte) *Fake {
	f.values = values
	f.index = 0
	return f
}

// Bytes returns preset bytes or deterministic bytes based on counter.
func (f *Fake) Bytes(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.index < len(f.values) {
		v := f.values[f.index]
		f.index++
		if len(v) >= n {
			return v[:n], nil
		}
		result := make([]byte, n)
		copy(result, v)
		return result, nil
	}

	f.counter++
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte((f.counter + i) % 256)
	}
	return b, nil
}

// String returns a deterministic alphanumeric string. A non-positive n yields
// the minimum random length.
func (f *Fake) String(n int) (string, error) {
	if n <= 0 {
		n = minLength
	}
	b, err := f.Bytes(n)
	if err != nil {
		return "", err
	}
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	out := make([]byte, len(b))
	for i := range b {
		out[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(out), nil
}

// Reset resets the fake to initial state.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter = 0
	f.index = 0
}
