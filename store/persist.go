package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"rag/types"

	"go.etcd.io/bbolt"
)

const vectorsMagic = uint32(0x52414756) // "RAGV"

var bucketChunks = []byte("chunks")

// Snapshot is the unit persisted after every mutation: the embedding matrix
// plus the positionally aligned chunk texts and metadata.
type Snapshot struct {
	Dimension int
	Vectors   [][]float32
	Documents []string
	Metadata  []types.Metadata
}

type storedChunk struct {
	Text     string         `json:"text"`
	Metadata types.Metadata `json:"metadata"`
}

// FilePersister writes the store state as two artifacts under one
// directory: vectors.bin holds the raw embedding matrix, documents.db
// (bbolt) holds chunk texts and metadata under positional keys.
//
// Save order is vectors first, then documents. A load that finds the two
// artifacts disagreeing on the chunk count reports no previous state
// instead of restoring a torn snapshot.
type FilePersister struct {
	vectorsPath string
	db          *bbolt.DB
}

func NewFilePersister(dataDir string) (*FilePersister, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dataDir, "documents.db"), 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open documents db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChunks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &FilePersister{
		vectorsPath: filepath.Join(dataDir, "vectors.bin"),
		db:          db,
	}, nil
}

func (p *FilePersister) Close() error {
	return p.db.Close()
}

// Save writes the vectors file first, then rewrites the documents bucket in
// one transaction.
func (p *FilePersister) Save(snap *Snapshot) error {
	if err := p.saveVectors(snap); err != nil {
		return err
	}
	return p.saveDocuments(snap)
}

func (p *FilePersister) saveVectors(snap *Snapshot) error {
	tmp := p.vectorsPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create vectors file: %w", err)
	}

	header := [3]uint32{vectorsMagic, uint32(snap.Dimension), uint32(len(snap.Vectors))}
	if err := binary.Write(f, binary.LittleEndian, header[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}

	buf := make([]byte, 4)
	for _, vec := range snap.Vectors {
		for _, v := range vec {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := f.Write(buf); err != nil {
				f.Close()
				os.Remove(tmp)
				return err
			}
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p.vectorsPath)
}

func (p *FilePersister) saveDocuments(snap *Snapshot) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketChunks); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketChunks)
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		for i := range snap.Documents {
			data, err := json.Marshal(storedChunk{
				Text:     snap.Documents[i],
				Metadata: snap.Metadata[i],
			})
			if err != nil {
				return err
			}
			binary.BigEndian.PutUint64(key, uint64(i))
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load restores the last saved snapshot. It returns (nil, nil) when no
// prior state exists, and an error when the artifacts are unreadable or
// inconsistent with each other; callers treat both as an empty store.
func (p *FilePersister) Load() (*Snapshot, error) {
	vectors, dimension, err := p.loadVectors()
	if err != nil {
		return nil, err
	}
	if vectors == nil {
		return nil, nil
	}

	documents, metadata, err := p.loadDocuments()
	if err != nil {
		return nil, err
	}
	if len(documents) != len(vectors) {
		return nil, fmt.Errorf("artifact mismatch: %d vectors vs %d documents", len(vectors), len(documents))
	}

	return &Snapshot{
		Dimension: dimension,
		Vectors:   vectors,
		Documents: documents,
		Metadata:  metadata,
	}, nil
}

func (p *FilePersister) loadVectors() ([][]float32, int, error) {
	data, err := os.ReadFile(p.vectorsPath)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	if len(data) < 12 {
		return nil, 0, fmt.Errorf("vectors file truncated: %d bytes", len(data))
	}
	if binary.LittleEndian.Uint32(data[0:4]) != vectorsMagic {
		return nil, 0, fmt.Errorf("vectors file has wrong magic")
	}
	dimension := int(binary.LittleEndian.Uint32(data[4:8]))
	count := int(binary.LittleEndian.Uint32(data[8:12]))

	want := 12 + 4*dimension*count
	if len(data) != want {
		return nil, 0, fmt.Errorf("vectors file size mismatch: want %d bytes, got %d", want, len(data))
	}

	vectors := make([][]float32, count)
	off := 12
	for i := range vectors {
		vec := make([]float32, dimension)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		vectors[i] = vec
	}
	return vectors, dimension, nil
}

func (p *FilePersister) loadDocuments() ([]string, []types.Metadata, error) {
	var documents []string
	var metadata []types.Metadata

	err := p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var chunk storedChunk
			if err := json.Unmarshal(v, &chunk); err != nil {
				return fmt.Errorf("corrupt chunk record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			documents = append(documents, chunk.Text)
			metadata = append(metadata, chunk.Metadata)
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return documents, metadata, nil
}
