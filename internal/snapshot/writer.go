// Package snapshot writes and reads encrypted archives of a project's
// secrets. An archive is a magic header followed by one sealed block:
//
//	[Magic 8][BlockSize uint32][Salt+Nonce+Ciphertext]
//
// where the ciphertext is the zstd-compressed JSON encoding of the secret
// rows, sealed with a passphrase-derived AES-GCM key.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/robbiemu-homelab/keyvault/internal/model"
	"github.com/robbiemu-homelab/keyvault/internal/pkg/security"
)

// Archive header.
var MagicHeader = []byte("KVSNAP01")

type Writer struct {
	encoder    *zstd.Encoder
	passphrase string
}

func NewWriter(passphrase string) (*Writer, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &Writer{encoder: enc, passphrase: passphrase}, nil
}

// WriteArchive encodes, compresses, and seals the secrets into out.
func (w *Writer) WriteArchive(out io.Writer, secrets []model.Secret) error {
	raw, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to encode secrets: %w", err)
	}

	compressed := w.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))

	sealed, err := security.Seal(w.passphrase, compressed)
	if err != nil {
		return fmt.Errorf("failed to seal archive: %w", err)
	}

	if _, err := out.Write(MagicHeader); err != nil {
		return err
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(len(sealed))); err != nil {
		return err
	}
	_, err = out.Write(sealed)
	return err
}
