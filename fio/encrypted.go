package fio

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// ErrIntegrity is returned when an encrypted container fails authentication
// or is structurally invalid. It is distinct from fs.ErrNotExist, so callers
// can tell corruption apart from an absent file.
var ErrIntegrity = errors.New("integrity check failed")

// Container layout, all lengths fixed:
//
//	[0:4)   magic "SDE1"
//	[4:5)   container version
//	[5:6)   compression algorithm
//	[6:22)  scrypt salt
//	[22:34) GCM nonce
//	[34:)   ciphertext + tag
//
// The full header doubles as GCM additional data, so tampering with any
// header byte fails authentication along with the ciphertext.
const (
	containerVersion = 1

	saltSize   = 16
	nonceSize  = 12
	keySize    = 32
	headerSize = 4 + 1 + 1 + saltSize + nonceSize

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var containerMagic = [4]byte{'S', 'D', 'E', '1'}

// Encrypted is the transparently encrypting handler. Payloads are optionally
// compressed, then sealed with AES-256-GCM under a key derived from the
// passphrase via scrypt. Each file carries its own salt and nonce, so files
// written by different handler instances stay readable.
type Encrypted struct {
	passphrase []byte
	algo       Compression

	writeSalt [saltSize]byte
	writeAEAD cipher.AEAD

	mu       sync.Mutex
	keyCache map[[saltSize]byte]cipher.AEAD
}

// NewEncrypted creates an encrypting handler. The passphrase must be
// non-empty; algo selects the compression applied before encryption.
func NewEncrypted(passphrase string, algo Compression) (*Encrypted, error) {
	if passphrase == "" {
		return nil, errors.New("encryption passphrase must not be empty")
	}
	e := &Encrypted{
		passphrase: []byte(passphrase),
		algo:       algo,
		keyCache:   make(map[[saltSize]byte]cipher.AEAD),
	}
	if _, err := rand.Read(e.writeSalt[:]); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := e.derive(e.writeSalt)
	if err != nil {
		return nil, err
	}
	e.writeAEAD = aead
	e.keyCache[e.writeSalt] = aead
	return e, nil
}

// Ext returns ".sde".
func (*Encrypted) Ext() string { return ".sde" }

// derive runs the KDF for the given salt. Derived AEADs are cached because
// scrypt is deliberately expensive and salts repeat across a handler's files.
func (e *Encrypted) derive(salt [saltSize]byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(e.passphrase, salt[:], scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init failed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher init failed: %w", err)
	}
	return aead, nil
}

func (e *Encrypted) aeadFor(salt [saltSize]byte) (cipher.AEAD, error) {
	e.mu.Lock()
	if aead, ok := e.keyCache[salt]; ok {
		e.mu.Unlock()
		return aead, nil
	}
	e.mu.Unlock()

	aead, err := e.derive(salt)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.keyCache[salt] = aead
	e.mu.Unlock()
	return aead, nil
}

func (e *Encrypted) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// An empty payload writes an empty file. The absence of a container is
	// the "no data yet" marker and reads back as an empty payload.
	if len(data) == 0 {
		return writeFileAtomic(path, nil)
	}

	envelope, err := compress(data, e.algo)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", path, err)
	}

	header := make([]byte, headerSize)
	copy(header[0:4], containerMagic[:])
	header[4] = containerVersion
	header[5] = byte(e.algo)
	copy(header[6:6+saltSize], e.writeSalt[:])
	if _, err := rand.Read(header[6+saltSize : headerSize]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := header[6+saltSize : headerSize]

	sealed := e.writeAEAD.Seal(nil, nonce, envelope, header)
	return writeFileAtomic(path, append(header, sealed...))
}

func (e *Encrypted) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return []byte{}, nil
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%s: %w: container truncated", path, ErrIntegrity)
	}

	header := raw[:headerSize]
	if [4]byte(header[0:4]) != containerMagic {
		return nil, fmt.Errorf("%s: %w: bad container magic", path, ErrIntegrity)
	}
	if header[4] != containerVersion {
		return nil, fmt.Errorf("%s: %w: unsupported container version %d", path, ErrIntegrity, header[4])
	}
	algo := Compression(header[5])
	if algo > CompressionZstd {
		return nil, fmt.Errorf("%s: %w: unknown compression %d", path, ErrIntegrity, header[5])
	}

	aead, err := e.aeadFor([saltSize]byte(header[6 : 6+saltSize]))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", path, err)
	}
	nonce := header[6+saltSize : headerSize]

	envelope, err := aead.Open(nil, nonce, raw[headerSize:], header)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w: %w", path, ErrIntegrity, err)
	}

	data, err := decompress(envelope, algo)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrIntegrity, err)
	}
	return data, nil
}

func (*Encrypted) Exists(path string) (bool, error) { return exists(path) }

func (*Encrypted) Remove(path string) error { return remove(path) }

func (*Encrypted) Copy(ctx context.Context, src, dst string) error { return copyFile(ctx, src, dst) }

func (*Encrypted) Move(src, dst string) error { return move(src, dst) }

func (*Encrypted) Glob(pattern string) ([]string, error) { return filepath.Glob(pattern) }

func (*Encrypted) Size(path string) (int64, error) { return size(path) }

func (*Encrypted) EnsureDir(path string) error { return ensureDir(path) }
