package swapper

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Emap is the 512x512 matrix mapping ArcFace embeddings into the latent
// space the Inswapper generator expects.
type Emap [EmbeddingSize][EmbeddingSize]float32

// LoadEmap reads the matrix from its little-endian float32 binary dump.
func LoadEmap(path string) (*Emap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read emap file: %w", err)
	}

	expectedSize := EmbeddingSize * EmbeddingSize * 4
	if len(data) != expectedSize {
		return nil, fmt.Errorf("emap file size mismatch: expected %d, got %d", expectedSize, len(data))
	}

	var emap Emap
	for i := 0; i < EmbeddingSize; i++ {
		for j := 0; j < EmbeddingSize; j++ {
			offset := (i*EmbeddingSize + j) * 4
			bits := binary.LittleEndian.Uint32(data[offset : offset+4])
			emap[i][j] = math.Float32frombits(bits)
		}
	}
	return &emap, nil
}

// TransformEmbedding maps an embedding to the generator latent:
// latent = normalize(embedding @ emap).
func (e *Emap) TransformEmbedding(embedding *Embedding) *Embedding {
	var latent Embedding
	for j := 0; j < EmbeddingSize; j++ {
		var sum float32
		for i := 0; i < EmbeddingSize; i++ {
			sum += embedding[i] * e[i][j]
		}
		latent[j] = sum
	}

	var norm float64
	for _, v := range latent {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		norm = 1
	}
	for i := range latent {
		latent[i] /= float32(norm)
	}
	return &latent
}
