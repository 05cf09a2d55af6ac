package core

import (
	"bytes"
	"io"

	"github.com/mrsimpson/piddie-sync/pkg/syncerr"
)

// defaultChunkSize is the maximum size, in bytes, of a single FileChunk
// produced by ChunkContent. It bounds the amount of memory a streaming
// transfer holds at any one time.
const defaultChunkSize = 256 * 1024

// FileChunk is one piece of a chunked content transfer. Concatenating
// Content across all chunks of a stream in ChunkIndex order and verifying
// the whole-file hash against the stream's metadata must succeed on the
// receiver.
type FileChunk struct {
	// Content is this chunk's raw bytes.
	Content []byte
	// ChunkIndex is this chunk's zero-based position in the stream.
	ChunkIndex int
	// TotalChunks is the total number of chunks in the stream.
	TotalChunks int
	// ChunkHash is the SHA-256 hex digest of Content.
	ChunkHash string
}

// FileContentStream is a finite, ordered producer of chunks for a single
// file transfer. It is restartable only by re-requesting the content from
// the source target; Close must always be called to release any
// underlying file handle, even if the stream was not fully drained.
type FileContentStream interface {
	// Metadata returns the metadata describing the file being streamed.
	Metadata() FileMetadata
	// Next returns the next chunk in the stream, or io.EOF once exhausted.
	Next() (FileChunk, error)
	// Close releases any resources held by the stream. It is safe to call
	// Close multiple times and after the stream is exhausted.
	Close() error
}

// sliceStream is a FileContentStream backed by an in-memory byte slice,
// chunked eagerly at construction. It is the stream implementation used by
// both the in-memory and local filesystem backings, since both already hold
// (or can cheaply produce) the full content before streaming begins.
type sliceStream struct {
	metadata FileMetadata
	chunks   []FileChunk
	position int
	closed   bool
}

// NewContentStream builds a FileContentStream over content, splitting it
// into chunks of at most defaultChunkSize bytes. A zero-length file yields a
// single empty chunk, so receivers never need to special-case chunk count.
func NewContentStream(metadata FileMetadata, content []byte) FileContentStream {
	var chunks []FileChunk
	if len(content) == 0 {
		chunks = []FileChunk{{
			Content:     nil,
			ChunkIndex:  0,
			TotalChunks: 1,
			ChunkHash:   HashContent(nil),
		}}
	} else {
		total := (len(content) + defaultChunkSize - 1) / defaultChunkSize
		chunks = make([]FileChunk, 0, total)
		for i := 0; i < total; i++ {
			start := i * defaultChunkSize
			end := start + defaultChunkSize
			if end > len(content) {
				end = len(content)
			}
			piece := content[start:end]
			chunks = append(chunks, FileChunk{
				Content:     piece,
				ChunkIndex:  i,
				TotalChunks: total,
				ChunkHash:   HashContent(piece),
			})
		}
	}
	return &sliceStream{metadata: metadata, chunks: chunks}
}

// Metadata implements FileContentStream.Metadata.
func (s *sliceStream) Metadata() FileMetadata {
	return s.metadata
}

// Next implements FileContentStream.Next.
func (s *sliceStream) Next() (FileChunk, error) {
	if s.closed || s.position >= len(s.chunks) {
		return FileChunk{}, io.EOF
	}
	chunk := s.chunks[s.position]
	s.position++
	return chunk, nil
}

// Close implements FileContentStream.Close.
func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// DrainAndVerify reads every chunk from stream, concatenates the content,
// and verifies the result hashes to the value declared by the stream's
// metadata. It always calls stream.Close, even on error, to avoid handle
// leaks (spec.md §3, FileContentStream lifecycle).
func DrainAndVerify(stream FileContentStream) ([]byte, error) {
	defer stream.Close()

	metadata := stream.Metadata()
	var buffer bytes.Buffer
	expectedIndex := 0
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, syncerr.Wrap(syncerr.KindContentRetrievalFailed, err, "unable to read content chunk")
		}
		if chunk.ChunkIndex != expectedIndex {
			return nil, syncerr.New(syncerr.KindContentRetrievalFailed, "content stream delivered chunks out of order")
		}
		if HashContent(chunk.Content) != chunk.ChunkHash {
			return nil, syncerr.New(syncerr.KindHashMismatch, "chunk content does not match its declared hash")
		}
		buffer.Write(chunk.Content)
		expectedIndex++
	}

	content := buffer.Bytes()
	if metadata.Kind == EntryKindFile && HashContent(content) != metadata.Hash {
		return nil, syncerr.New(syncerr.KindHashMismatch, "streamed content does not match declared file hash")
	}

	return content, nil
}
