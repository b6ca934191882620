// Package encryption implements the authenticated file format used for encrypted backups.
//
// An encrypted file is laid out as
//
//	MAGIC | IV (16 bytes) | TAG (32 bytes) | CIPHERTEXT
//
// CIPHERTEXT is AES-256-CBC with PKCS#7 padding and TAG is HMAC-SHA256 over
// CIPHERTEXT only. Both keys are derived from a passphrase with PBKDF2-SHA256.
// The tag is verified before any block is decrypted.
package encryption

import (
	"bufio"
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/rs/zerolog"
)

// Extension marks encrypted files.
const Extension = ".encrypted"

const (
	ivSize    = aes.BlockSize
	tagSize   = sha256.Size
	chunkSize = 80 * 1024 // multiple of the AES block size
)

var magic = []byte("MONGOBR-AES256")

// HeaderSize is the number of bytes preceding the ciphertext.
var HeaderSize = len(magic) + ivSize + tagSize

var (
	// ErrInvalidKey is returned for empty or too short passphrases.
	ErrInvalidKey = errors.New("invalid encryption key")
	// ErrInvalidFormat is returned when a file does not carry the expected header or length.
	ErrInvalidFormat = errors.New("not a valid encrypted backup file")
	// ErrTagMismatch is returned when the authentication tag does not verify.
	ErrTagMismatch = errors.New("authentication tag mismatch (wrong key or corrupted file)")
	// ErrInvalidPadding is returned when the decrypted plaintext carries broken padding.
	ErrInvalidPadding = errors.New("invalid padding")
)

// ProgressFunc receives the percentage of bytes processed.
type ProgressFunc func(percent int)

// Service defines the interface for file encryption.
type Service interface {
	Encrypt(ctx context.Context, sourcePath, destPath, key string, onProgress ProgressFunc) (string, error)
	Decrypt(ctx context.Context, sourcePath, destPath, key string, onProgress ProgressFunc) error
	IsEncrypted(path string) bool
	ValidateKey(key string) error
}

// Impl implements the encryption Service interface.
type Impl struct {
	logger zerolog.Logger
	random io.Reader
}

// New creates a new encryption service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		logger: logger,
		random: rand.Reader,
	}
}

// ValidateKey checks that key is usable for encryption.
func (s *Impl) ValidateKey(key string) error {
	return ValidateKey(key)
}

// IsEncrypted reports whether path carries the encrypted suffix and header.
func (s *Impl) IsEncrypted(path string) bool {
	if !strings.HasSuffix(strings.ToLower(path), Extension) {
		return false
	}

	f, err := os.Open(path) //nolint:gosec // path is controlled by caller
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, len(magic))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return bytes.Equal(head, magic)
}

// Encrypt writes sourcePath encrypted to destPath plus Extension and returns that path.
// A partially written file is removed on failure.
func (s *Impl) Encrypt(ctx context.Context, sourcePath, destPath, key string, onProgress ProgressFunc) (_ string, err error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	in, err := os.Open(sourcePath) //nolint:gosec // sourcePath is controlled by caller
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat source file: %w", err)
	}

	output := destPath + Extension
	start := time.Now()

	s.logger.Info().
		Str("source", sourcePath).
		Str("destination", output).
		Int64("size_bytes", info.Size()).
		Msg("encrypting file")

	keys := deriveKeys(key)

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(s.random, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	block, err := aes.NewCipher(keys.cipher)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	out, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // output is controlled by caller
	if err != nil {
		return "", fmt.Errorf("failed to create encrypted file: %w", err)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(output)
		}
	}()

	// The tag slot stays zeroed until the whole ciphertext has been hashed.
	header := make([]byte, 0, HeaderSize)
	header = append(header, magic...)
	header = append(header, iv...)
	header = append(header, make([]byte, tagSize)...)
	if _, err := out.Write(header); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	mac := hmac.New(sha256.New, keys.mac)
	bw := bufio.NewWriterSize(out, chunkSize)
	tracker := newProgress(info.Size(), onProgress)

	if err := encryptStream(ctx, in, io.MultiWriter(bw, mac), cipher.NewCBCEncrypter(block, iv), tracker); err != nil {
		return "", err
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("failed to write ciphertext: %w", err)
	}

	if _, err := out.WriteAt(mac.Sum(nil), int64(len(magic)+ivSize)); err != nil {
		return "", fmt.Errorf("failed to write authentication tag: %w", err)
	}

	s.logger.Info().
		Str("destination", output).
		Dur("duration", time.Since(start)).
		Msg("encryption completed")

	return output, nil
}

// Decrypt verifies and decrypts sourcePath into destPath.
// Nothing is written when the authentication tag does not verify.
func (s *Impl) Decrypt(ctx context.Context, sourcePath, destPath, key string, onProgress ProgressFunc) (err error) {
	if err := ValidateKey(key); err != nil {
		return err
	}

	in, err := os.Open(sourcePath) //nolint:gosec // sourcePath is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to open encrypted file: %w", err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat encrypted file: %w", err)
	}

	if info.Size() < int64(HeaderSize+aes.BlockSize) {
		return fmt.Errorf("%w: file too short", ErrInvalidFormat)
	}

	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(in, header); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if !bytes.Equal(header[:len(magic)], magic) {
		return fmt.Errorf("%w: missing header", ErrInvalidFormat)
	}

	iv := header[len(magic) : len(magic)+ivSize]
	storedTag := header[len(magic)+ivSize:]

	cipherLen := info.Size() - int64(HeaderSize)
	if cipherLen%aes.BlockSize != 0 {
		return fmt.Errorf("%w: truncated ciphertext", ErrInvalidFormat)
	}

	s.logger.Info().
		Str("source", sourcePath).
		Str("destination", destPath).
		Msg("decrypting file")

	start := time.Now()
	keys := deriveKeys(key)

	mac := hmac.New(sha256.New, keys.mac)
	if _, err := fsutil.CopyContext(ctx, mac, io.LimitReader(in, cipherLen)); err != nil {
		return fmt.Errorf("failed to authenticate ciphertext: %w", err)
	}
	if !hmac.Equal(storedTag, mac.Sum(nil)) {
		return ErrTagMismatch
	}

	if _, err := in.Seek(int64(HeaderSize), io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind encrypted file: %w", err)
	}

	block, err := aes.NewCipher(keys.cipher)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // destPath is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to create decrypted file: %w", err)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(destPath)
		}
	}()

	bw := bufio.NewWriterSize(out, chunkSize)
	tracker := newProgress(cipherLen, onProgress)

	if err := decryptStream(ctx, in, bw, cipher.NewCBCDecrypter(block, iv), cipherLen, tracker); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write plaintext: %w", err)
	}

	s.logger.Info().
		Str("destination", destPath).
		Dur("duration", time.Since(start)).
		Msg("decryption completed")

	return nil
}

func encryptStream(ctx context.Context, r io.Reader, w io.Writer, mode cipher.BlockMode, tracker *progress) error {
	buf := make([]byte, chunkSize+aes.BlockSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(r, buf[:chunkSize])
		last := false
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			last = true
		case err != nil:
			return fmt.Errorf("failed to read plaintext: %w", err)
		}

		chunk := buf[:n]
		if last {
			chunk = pkcs7Pad(buf, n)
		}

		mode.CryptBlocks(chunk, chunk)
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("failed to write ciphertext: %w", err)
		}
		tracker.add(int64(n))

		if last {
			return nil
		}
	}
}

func decryptStream(ctx context.Context, r io.Reader, w io.Writer, mode cipher.BlockMode, total int64, tracker *progress) error {
	buf := make([]byte, chunkSize)
	remaining := total

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := int64(chunkSize)
		if remaining < n {
			n = remaining
		}

		chunk := buf[:n]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return fmt.Errorf("failed to read ciphertext: %w", err)
		}

		mode.CryptBlocks(chunk, chunk)
		remaining -= n

		if remaining == 0 {
			var err error
			if chunk, err = pkcs7Unpad(chunk); err != nil {
				return err
			}
		}

		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("failed to write plaintext: %w", err)
		}
		tracker.add(n)
	}

	return nil
}

// pkcs7Pad pads buf[:n] in place; buf must have room for one extra block.
func pkcs7Pad(buf []byte, n int) []byte {
	padLen := aes.BlockSize - n%aes.BlockSize
	for i := n; i < n+padLen; i++ {
		buf[i] = byte(padLen)
	}
	return buf[:n+padLen]
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrInvalidPadding
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-padLen], nil
}

// progress reports every 10% step crossed.
type progress struct {
	total int64
	done  int64
	next  int64
	fn    ProgressFunc
}

func newProgress(total int64, fn ProgressFunc) *progress {
	return &progress{total: total, next: 10, fn: fn}
}

func (p *progress) add(n int64) {
	if p.fn == nil || p.total <= 0 {
		return
	}

	p.done += n
	percent := p.done * 100 / p.total
	if percent > 100 {
		percent = 100
	}
	if percent >= p.next {
		p.fn(int(percent))
		p.next = (percent/10 + 1) * 10
	}
}
