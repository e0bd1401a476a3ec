package content

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ObjectStore is the narrow interface the resolver needs from the
// out-of-scope object-storage subsystem (spec.md 1: "persistent
// observability storage... out of scope, specified only by the
// interfaces the core consumes"). internal/storage provides the concrete
// filesystem/S3/disabled implementations.
type ObjectStore interface {
	// Put writes data under a content-addressed key and returns the
	// storage path it was written to (e.g. "observability/files/<sha>.<ext>").
	Put(ctx context.Context, sha256Hex, ext string, data []byte) (path string, err error)
	// Configured reports whether object storage is actually wired up.
	// A resolver asked to store a file with Configured() == false must
	// fail the call (spec.md 4.1: "absence of object-storage
	// configuration causes an explicit 'object storage not configured'
	// error").
	Configured() bool
}

// FetchContext bundles the collaborators Resolve needs to turn a FileBlock
// into bytes: an HTTP client for URL sources and an object store to
// persist the result. ObjectStore may be nil only when FetchAndEncode is
// false for the whole call (URL blocks pass through unresolved).
type FetchContext struct {
	HTTPClient *http.Client
	Store      ObjectStore
}

// ResolvedFile is a File block after Resolve has fetched/decoded its bytes
// and written them to the object store.
type ResolvedFile struct {
	MIMEType    string
	Filename    string
	Detail      string
	SHA256Hex   string
	StoragePath string
}

// ResolvedBlock mirrors Block but with File replaced by ResolvedFile.
type ResolvedBlock struct {
	Block
	ResolvedFile *ResolvedFile
}

// ResolvedMessage mirrors Message over ResolvedBlock.
type ResolvedMessage struct {
	Role    Role
	Content []ResolvedBlock
}

// ResolvedInput is the client Input after every File block has been
// materialized to bytes-plus-storage-path (spec.md section 3).
type ResolvedInput struct {
	System   *System
	Messages []ResolvedMessage
}

// Input is the wire-level request body before resolution: free-form system
// plus an ordered list of messages.
type Input struct {
	System   *System
	Messages []Message
}

// Resolve walks an Input and materializes every File block. When
// fetchAndEncode is false, File blocks are passed through untouched (their
// ResolvedFile is left nil and the original Block is kept) — this matches
// the coordinator's fetch_and_encode_input_files_before_inference flag
// (spec.md 4.8 step 1).
func Resolve(ctx context.Context, fc FetchContext, in Input, fetchAndEncode bool) (*ResolvedInput, error) {
	out := &ResolvedInput{System: in.System}

	for _, msg := range in.Messages {
		rm := ResolvedMessage{Role: msg.Role}
		for _, block := range msg.Content {
			if block.Type != BlockTypeFile || !fetchAndEncode {
				rm.Content = append(rm.Content, ResolvedBlock{Block: block})
				continue
			}

			resolved, err := resolveFile(ctx, fc, block.File)
			if err != nil {
				return nil, err
			}
			rm.Content = append(rm.Content, ResolvedBlock{Block: block, ResolvedFile: resolved})
		}
		out.Messages = append(out.Messages, rm)
	}

	return out, nil
}

func resolveFile(ctx context.Context, fc FetchContext, f *FileBlock) (*ResolvedFile, error) {
	if f == nil {
		return nil, fmt.Errorf("content: resolving nil file block")
	}

	var data []byte
	var err error

	switch f.Source {
	case FileSourceBase64:
		data, err = base64.StdEncoding.DecodeString(f.Base64)
		if err != nil {
			return nil, fmt.Errorf("content: decoding base64 file: %w", err)
		}
	case FileSourceURL:
		data, err = fetchURL(ctx, fc.HTTPClient, f.URL)
		if err != nil {
			return nil, fmt.Errorf("content: fetching file url: %w", err)
		}
	default:
		return nil, fmt.Errorf("content: unknown file source %q", f.Source)
	}

	if fc.Store == nil || !fc.Store.Configured() {
		return nil, fmt.Errorf("content: object storage not configured")
	}

	sum := sha256.Sum256(data)
	shaHex := hex.EncodeToString(sum[:])
	ext := extensionFor(f.MIMEType, f.Filename)

	path, err := fc.Store.Put(ctx, shaHex, ext, data)
	if err != nil {
		return nil, fmt.Errorf("content: storing resolved file: %w", err)
	}

	return &ResolvedFile{
		MIMEType:    f.MIMEType,
		Filename:    f.Filename,
		Detail:      f.Detail,
		SHA256Hex:   shaHex,
		StoragePath: path,
	}, nil
}

func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating file fetch request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// extensionFor infers a storage file extension from a MIME type, falling
// back to whatever extension the client-supplied filename already has.
func extensionFor(mimeType, filename string) string {
	if idx := strings.LastIndex(mimeType, "/"); idx >= 0 && idx+1 < len(mimeType) {
		return mimeType[idx+1:]
	}
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		return filename[idx+1:]
	}
	return "bin"
}
