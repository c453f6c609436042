// Package pdfgen は画像列から1つのPDFドキュメントを組み立てる機能を提供します。
package pdfgen

import (
	"context"
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ページレイアウト: A4固定、アスペクト比を保ったままページ内に収まる最大サイズへ拡縮し、上下左右とも中央寄せ。
const importDescription = "form:A4, pos:c, sc:1.0 rel"

// ImageInput は組み立て対象の画像1枚を表します。
type ImageInput struct {
	ID   string // 画像の識別子（結果報告用）
	Path string // ステージング済みファイルのパス
}

// ImageOutcome は画像1枚ごとの埋め込み結果を表します。
type ImageOutcome struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Result は組み立ての成果を表します。
type Result struct {
	OutputPath string
	OutputSize int64
	PageCount  int
	Embedded   int
	Outcomes   []ImageOutcome
}

// ProgressFunc は画像1枚を処理するたびに呼ばれる進捗コールバックです。
type ProgressFunc func(processed, total int)

// Assembler は順序付き画像列を1ページ1画像のPDFへ変換します。
type Assembler struct {
	imp *pdfcpu.Import
}

// NewAssembler は Assembler を初期化します。
func NewAssembler() (*Assembler, error) {
	imp, err := pdfapi.Import(importDescription, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("failed to build import config: %w", err)
	}
	return &Assembler{imp: imp}, nil
}

// Assemble は画像を順番に outPath のPDFへ埋め込みます。
// 欠損ファイルや未対応フォーマットは1枚単位の失敗として記録し、処理を継続します。
// 1枚も埋め込めなかった場合のみ致命的エラーを返します。
func (a *Assembler) Assemble(ctx context.Context, images []ImageInput, outPath string, report ProgressFunc) (*Result, error) {
	if len(images) == 0 {
		return nil, newError("INVALID_INPUT", "変換対象の画像が指定されていません。", nil)
	}

	// 前回の残骸があれば作り直す
	_ = os.Remove(outPath)

	result := &Result{
		OutputPath: outPath,
		Outcomes:   make([]ImageOutcome, 0, len(images)),
	}

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome := a.embedOne(img, outPath)
		if outcome.OK {
			result.Embedded++
		}
		result.Outcomes = append(result.Outcomes, outcome)

		if report != nil {
			report(i+1, len(images))
		}
	}

	if result.Embedded == 0 {
		_ = os.Remove(outPath)
		return nil, newError("ASSEMBLY_FAILED",
			fmt.Sprintf("%d枚の画像のうち1枚もPDFへ埋め込めませんでした。", len(images)), nil)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, newError("ASSEMBLY_FAILED", "出力ファイルの確認に失敗しました。", err)
	}
	result.OutputSize = info.Size()

	pages, err := pdfapi.PageCountFile(outPath)
	if err != nil {
		return nil, newError("ASSEMBLY_FAILED", "出力ファイルのページ数取得に失敗しました。", err)
	}
	result.PageCount = pages

	return result, nil
}

func (a *Assembler) embedOne(img ImageInput, outPath string) ImageOutcome {
	outcome := ImageOutcome{ID: img.ID}

	if _, err := os.Stat(img.Path); err != nil {
		outcome.Reason = "画像ファイルが存在しません。"
		return outcome
	}

	mime, err := mimetype.DetectFile(img.Path)
	if err != nil {
		outcome.Reason = "画像フォーマットを判定できませんでした。"
		return outcome
	}
	if !mime.Is("image/jpeg") && !mime.Is("image/png") {
		outcome.Reason = fmt.Sprintf("未対応の画像フォーマットです: %s", mime.String())
		return outcome
	}

	// 出力ファイルが既に存在する場合はページが追記される
	if err := pdfapi.ImportImagesFile([]string{img.Path}, outPath, a.imp, nil); err != nil {
		outcome.Reason = "画像のPDFへの埋め込みに失敗しました。"
		return outcome
	}

	outcome.OK = true
	return outcome
}
