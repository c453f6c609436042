package pdfgen

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create jpeg fixture: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 30, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 150, B: 220, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create png fixture: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
}

func newTestAssembler(t *testing.T) *Assembler {
	t.Helper()
	assembler, err := NewAssembler()
	if err != nil {
		t.Fatalf("NewAssembler returned error: %v", err)
	}
	return assembler
}

func TestNewAssemblerBuildsImportConfig(t *testing.T) {
	// レイアウト記述がpdfcpuに受理されることを確認する
	if _, err := NewAssembler(); err != nil {
		t.Fatalf("NewAssembler returned error: %v", err)
	}
}

func TestAssembleAllImages(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "c.jpg"),
	}
	writeJPEG(t, paths[0])
	writePNG(t, paths[1])
	writeJPEG(t, paths[2])

	images := []ImageInput{
		{ID: "a", Path: paths[0]},
		{ID: "b", Path: paths[1]},
		{ID: "c", Path: paths[2]},
	}

	var calls int
	outPath := filepath.Join(dir, "out.pdf")
	result, err := newTestAssembler(t).Assemble(context.Background(), images, outPath, func(processed, total int) {
		calls++
		if total != 3 {
			t.Errorf("unexpected total in progress callback: %d", total)
		}
	})
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}

	if result.Embedded != 3 {
		t.Fatalf("Embedded = %d, want 3", result.Embedded)
	}
	if result.PageCount != 3 {
		t.Fatalf("PageCount = %d, want 3", result.PageCount)
	}
	if result.OutputSize <= 0 {
		t.Fatalf("OutputSize = %d, want > 0", result.OutputSize)
	}
	if calls != 3 {
		t.Fatalf("progress callback called %d times, want 3", calls)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("output file missing: %v", err)
	}
}

func TestAssembleSkipsMissingImage(t *testing.T) {
	dir := t.TempDir()
	okPath := filepath.Join(dir, "ok.jpg")
	writeJPEG(t, okPath)

	images := []ImageInput{
		{ID: "ok", Path: okPath},
		{ID: "missing", Path: filepath.Join(dir, "nope.jpg")},
	}

	result, err := newTestAssembler(t).Assemble(context.Background(), images, filepath.Join(dir, "out.pdf"), nil)
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}

	if result.Embedded != 1 {
		t.Fatalf("Embedded = %d, want 1", result.Embedded)
	}
	if result.PageCount != 1 {
		t.Fatalf("PageCount = %d, want 1", result.PageCount)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("unexpected outcomes: %#v", result.Outcomes)
	}
	if result.Outcomes[0].ID != "ok" || !result.Outcomes[0].OK {
		t.Fatalf("outcome[0] = %#v, want ok", result.Outcomes[0])
	}
	if result.Outcomes[1].OK || result.Outcomes[1].Reason == "" {
		t.Fatalf("outcome[1] = %#v, want failure with reason", result.Outcomes[1])
	}
}

func TestAssembleSkipsUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	okPath := filepath.Join(dir, "ok.png")
	writePNG(t, okPath)
	textPath := filepath.Join(dir, "fake.jpg")
	if err := os.WriteFile(textPath, []byte("not an image at all"), 0o644); err != nil {
		t.Fatalf("failed to create fixture: %v", err)
	}

	images := []ImageInput{
		{ID: "ok", Path: okPath},
		{ID: "fake", Path: textPath},
	}

	result, err := newTestAssembler(t).Assemble(context.Background(), images, filepath.Join(dir, "out.pdf"), nil)
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	if result.Embedded != 1 {
		t.Fatalf("Embedded = %d, want 1", result.Embedded)
	}
	if result.Outcomes[1].OK {
		t.Fatalf("expected unsupported format to be skipped: %#v", result.Outcomes[1])
	}
}

func TestAssembleFailsWhenNothingEmbeds(t *testing.T) {
	dir := t.TempDir()
	images := []ImageInput{
		{ID: "x", Path: filepath.Join(dir, "x.jpg")},
		{ID: "y", Path: filepath.Join(dir, "y.jpg")},
	}

	outPath := filepath.Join(dir, "out.pdf")
	_, err := newTestAssembler(t).Assemble(context.Background(), images, outPath, nil)
	if err == nil {
		t.Fatal("expected error when no image can be embedded")
	}

	genErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("unexpected error type: %T", err)
	}
	if genErr.Code != "ASSEMBLY_FAILED" {
		t.Fatalf("unexpected error code: %s", genErr.Code)
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output file, stat err=%v", statErr)
	}
}

func TestAssembleRejectsEmptyInput(t *testing.T) {
	_, err := newTestAssembler(t).Assemble(context.Background(), nil, filepath.Join(t.TempDir(), "out.pdf"), nil)
	if err == nil {
		t.Fatal("expected error for empty input")
	}
	genErr, ok := err.(*Error)
	if !ok || genErr.Code != "INVALID_INPUT" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAssembleHonorsContextCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	writeJPEG(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAssembler(t).Assemble(ctx, []ImageInput{{ID: "a", Path: path}}, filepath.Join(dir, "out.pdf"), nil)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
