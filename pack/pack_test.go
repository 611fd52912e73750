package pack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pithecene-io/ferry/media/mediatest"
	"github.com/pithecene-io/ferry/types"
)

func writeArtifact(t *testing.T, data []byte) types.Artifact {
	t.Helper()
	p := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return types.Artifact{Path: p, SizeBytes: int64(len(data))}
}

// sparseArtifact creates a file of the given size without writing its bytes.
func sparseArtifact(t *testing.T, size int64) types.Artifact {
	t.Helper()
	p := filepath.Join(t.TempDir(), "video.mp4")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return types.Artifact{Path: p, SizeBytes: size}
}

func TestPackage_UnderCeilingIsWholeFile(t *testing.T) {
	// 50,000,000 bytes fit under the 48 MiB default ceiling.
	art := sparseArtifact(t, 50_000_000)
	unit, err := New(Config{}, nil, nil).Package(context.Background(), art)
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if unit.Kind != types.DeliveryWholeFile || unit.File != art {
		t.Errorf("unexpected unit %+v", unit)
	}
}

func TestPackage_SplitsWithoutReencode(t *testing.T) {
	if testing.Short() {
		t.Skip("writes 100 MB of chunks")
	}
	art := sparseArtifact(t, 100_000_000)
	unit, err := New(Config{Ceiling: 50_000_000}, nil, nil).Package(context.Background(), art)
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if unit.Kind != types.DeliveryChunkSet || len(unit.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %+v", unit)
	}
	for i, c := range unit.Chunks {
		if c.Index != i+1 || c.SizeBytes != 50_000_000 || c.TotalCount != 2 {
			t.Errorf("chunk %d = %+v", i, c)
		}
	}
}

func TestSplit_ConcatenationReproducesArtifact(t *testing.T) {
	for _, tc := range []struct{ size, ceiling int64 }{
		{1000, 300},
		{1000, 250},
		{1000, 1000},
		{1001, 1000},
		{7, 1},
	} {
		t.Run(fmt.Sprintf("%d/%d", tc.size, tc.ceiling), func(t *testing.T) {
			data := make([]byte, tc.size)
			for i := range data {
				data[i] = byte(i*13 + 5)
			}
			art := writeArtifact(t, data)

			chunks, err := Split(art, tc.ceiling)
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}
			wantCount := int((tc.size + tc.ceiling - 1) / tc.ceiling)
			if len(chunks) != wantCount {
				t.Fatalf("got %d chunks, want %d", len(chunks), wantCount)
			}

			var joined bytes.Buffer
			for i, c := range chunks {
				if c.SizeBytes > tc.ceiling {
					t.Errorf("chunk %d exceeds the ceiling: %d", c.Index, c.SizeBytes)
				}
				if i < len(chunks)-1 && c.SizeBytes != tc.ceiling {
					t.Errorf("non-final chunk %d has %d bytes, want %d", c.Index, c.SizeBytes, tc.ceiling)
				}
				if c.Index != i+1 || c.TotalCount != wantCount {
					t.Errorf("chunk numbering %+v", c)
				}
				b, err := os.ReadFile(c.Path)
				if err != nil {
					t.Fatal(err)
				}
				joined.Write(b)
			}
			if !bytes.Equal(joined.Bytes(), data) {
				t.Error("concatenated chunks differ from the artifact")
			}
		})
	}
}

func TestSplit_MissingArtifact(t *testing.T) {
	_, err := Split(types.Artifact{Path: filepath.Join(t.TempDir(), "gone.mp4"), SizeBytes: 10}, 4)
	if !errors.Is(err, types.ErrPackagingFailed) {
		t.Fatalf("expected ErrPackagingFailed, got %v", err)
	}
}

func TestPackage_ReencodeFits(t *testing.T) {
	fake := &mediatest.Runner{OutputSize: func([]string) int64 { return 400 }}
	art := writeArtifact(t, make([]byte, 1000))

	unit, err := New(Config{Ceiling: 500, Reencode: true, MaxHeight: 480}, fake.Toolchain(), nil).
		Package(context.Background(), art)
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if unit.Kind != types.DeliveryWholeFile || !unit.Reencoded {
		t.Fatalf("expected re-encoded whole file, got %+v", unit)
	}
	if unit.File.SizeBytes != 400 || unit.File.Path == art.Path {
		t.Errorf("unexpected file %+v", unit.File)
	}
	call := fake.FFmpegCalls()[0]
	if !strings.Contains(call, `scale=-2:min(480\,ih)`) {
		t.Errorf("expected height cap in %s", call)
	}
}

func TestPackage_ReencodeTooLargeSplitsOriginal(t *testing.T) {
	fake := &mediatest.Runner{OutputSize: func([]string) int64 { return 700 }}
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	art := writeArtifact(t, data)

	unit, err := New(Config{Ceiling: 500, Reencode: true}, fake.Toolchain(), nil).
		Package(context.Background(), art)
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if unit.Kind != types.DeliveryChunkSet || len(unit.Chunks) != 2 {
		t.Fatalf("expected 2 chunks of the original, got %+v", unit)
	}
	if unit.TotalBytes() != 1000 {
		t.Errorf("chunks must cover the original artifact, got %d bytes", unit.TotalBytes())
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(art.Path), "video.small.mp4")); !os.IsNotExist(err) {
		t.Error("oversized re-encode should be removed")
	}
}

func TestPackage_ReencodeFailureFallsBackToSplit(t *testing.T) {
	fake := &mediatest.Runner{FFmpegErr: errors.New("encoder not found")}
	art := writeArtifact(t, make([]byte, 1000))

	unit, err := New(Config{Ceiling: 300, Reencode: true}, fake.Toolchain(), nil).
		Package(context.Background(), art)
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if unit.Kind != types.DeliveryChunkSet || len(unit.Chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %+v", unit)
	}
}
