package event

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

const GenesisHashSeed = "NeuroVault:genesis:v1"

var ErrChainBroken = errors.New("event: hash chain broken")

// GenesisHash is the PrevHash of the first envelope.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// Digest calculates SHA-256(topic || 0x00 || payload)
func Digest(topic string, payload []byte) []byte {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write(payload)
	return h.Sum(nil)
}

// ChainHash calculates state_hash[N] = SHA-256(prev_hash || sequence || digest)
func ChainHash(prevHash [32]byte, sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()

	// Write prev_hash (32 bytes)
	hasher.Write(prevHash[:])

	// Write sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	// Write digest
	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Expected recomputes the StateHash the envelope should carry.
func (e Envelope) Expected() [32]byte {
	return ChainHash(e.PrevHash, e.Sequence, Digest(e.Topic(), e.Payload))
}

// ChainVerifier checks envelopes one at a time, in sequence order.
type ChainVerifier struct {
	sequence int64
	prevHash [32]byte
}

// NewChainVerifier starts from the genesis hash at sequence 0.
func NewChainVerifier() *ChainVerifier {
	return &ChainVerifier{prevHash: GenesisHash()}
}

// ResumeChainVerifier starts after an already trusted envelope.
func ResumeChainVerifier(sequence int64, hash [32]byte) *ChainVerifier {
	return &ChainVerifier{sequence: sequence, prevHash: hash}
}

func (v *ChainVerifier) Next(env Envelope) error {
	if env.Sequence != v.sequence+1 {
		return fmt.Errorf("%w: got sequence %d, want %d", ErrChainBroken, env.Sequence, v.sequence+1)
	}
	if env.PrevHash != v.prevHash {
		return fmt.Errorf("%w: sequence %d prev_hash %x, want %x", ErrChainBroken, env.Sequence, env.PrevHash, v.prevHash)
	}
	if want := env.Expected(); env.StateHash != want {
		return fmt.Errorf("%w: sequence %d state_hash %x, want %x", ErrChainBroken, env.Sequence, env.StateHash, want)
	}
	v.sequence = env.Sequence
	v.prevHash = env.StateHash
	return nil
}

// Head returns the last verified sequence and hash.
func (v *ChainVerifier) Head() (int64, [32]byte) {
	return v.sequence, v.prevHash
}
