package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/robbiemu-homelab/keyvault/internal/model"
	"github.com/robbiemu-homelab/keyvault/internal/pkg/security"
)

var ErrInvalidHeader = errors.New("invalid snapshot header")

// Guards against absurd or corrupted block sizes before allocating.
const maxBlockSize = 1 << 30

type Reader struct {
	decoder    *zstd.Decoder
	passphrase string
}

func NewReader(passphrase string) (*Reader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Reader{decoder: dec, passphrase: passphrase}, nil
}

// ReadArchive validates the header, opens the sealed block, and returns the
// archived secret rows.
func (r *Reader) ReadArchive(in io.Reader) ([]model.Secret, error) {
	header := make([]byte, len(MagicHeader))
	if _, err := io.ReadFull(in, header); err != nil {
		return nil, ErrInvalidHeader
	}
	if !bytes.Equal(header, MagicHeader) {
		return nil, ErrInvalidHeader
	}

	var size uint32
	if err := binary.Read(in, binary.LittleEndian, &size); err != nil {
		return nil, ErrInvalidHeader
	}
	if size == 0 || size > maxBlockSize {
		return nil, ErrInvalidHeader
	}

	sealed := make([]byte, size)
	if _, err := io.ReadFull(in, sealed); err != nil {
		return nil, fmt.Errorf("failed to read archive block: %w", err)
	}

	compressed, err := security.Open(r.passphrase, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	raw, err := r.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress archive: %w", err)
	}

	var secrets []model.Secret
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return nil, fmt.Errorf("failed to decode secrets: %w", err)
	}
	return secrets, nil
}
