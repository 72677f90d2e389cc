package derived

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shotforge/internal/storage"
)

type stubGenerator struct {
	out   string
	err   error
	calls int
}

func (s *stubGenerator) Generate(ctx context.Context, req Request) (string, error) {
	s.calls++
	return s.out, s.err
}

func TestStaticGeneratorUsesShotContext(t *testing.T) {
	out, err := NewStaticGenerator().Generate(context.Background(), Request{
		Prompt:         "A knight crossing a bridge, at dusk",
		WorkStyle:      "dark fantasy",
		WorkBackground: "misty valley",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := "slow camera push-in, Dark Fantasy mood, Misty Valley setting, focus on a knight crossing a bridge"
	if out != want {
		t.Fatalf("out = %q, want %q", out, want)
	}
}

func TestFallbackUsesSecondaryOnError(t *testing.T) {
	primary := &stubGenerator{err: errors.New("quota exceeded")}
	secondary := &stubGenerator{out: "pan right"}
	out, err := NewFallback(primary, secondary, nil).Generate(context.Background(), Request{JobID: "j"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "pan right" || primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("out = %q primary=%d secondary=%d", out, primary.calls, secondary.calls)
	}
}

func TestFallbackSkipsSecondaryWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	secondary := &stubGenerator{out: "x"}
	_, err := NewFallback(&stubGenerator{err: context.Canceled}, secondary, nil).Generate(ctx, Request{})
	if err == nil || secondary.calls != 0 {
		t.Fatalf("err = %v secondary calls = %d", err, secondary.calls)
	}
}

func TestRecorderStoresArtifact(t *testing.T) {
	fs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	rec := NewRecorder(&stubGenerator{out: "dolly in"}, fs, nil)
	out, err := rec.Generate(context.Background(), Request{JobID: "shot-3", AttemptID: "a1"})
	if err != nil || out != "dolly in" {
		t.Fatalf("out = %q err = %v", out, err)
	}
	data, err := fs.Read(context.Background(), storage.ArtifactKey("shot-3", "a1"))
	if err != nil || string(data) != "dolly in" {
		t.Fatalf("stored = %q err = %v", data, err)
	}
}

func TestCleanMotion(t *testing.T) {
	if got := cleanMotion(`"Motion: slow tilt up"`, 0); got != "slow tilt up" {
		t.Fatalf("cleanMotion = %q", got)
	}
	if got := cleanMotion(strings.Repeat("镜", 10), 4); got != "镜镜镜镜" {
		t.Fatalf("truncate = %q", got)
	}
}

func TestBuildInstructionIncludesContext(t *testing.T) {
	got := buildInstruction(Request{ShotNumber: 7, Prompt: "rainy street", WorkStyle: "noir"})
	for _, want := range []string{"Shot number: 7", "Image prompt: rainy street", "Style: noir"} {
		if !strings.Contains(got, want) {
			t.Fatalf("instruction missing %q: %s", want, got)
		}
	}
	if imageMIME("https://cdn/x.JPG?sig=1") != "image/jpeg" {
		t.Fatalf("mime = %s", imageMIME("https://cdn/x.JPG?sig=1"))
	}
}
