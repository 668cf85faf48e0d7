package quizstudio

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	docx "github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// FileExtractor turns uploaded documents into content parts. It understands plain
// text, Word, PDF and Excel documents, images and audio.
type FileExtractor struct{}

func NewFileExtractor() *FileExtractor { return &FileExtractor{} }

// Extract dispatches on the file extension first and the MIME type second.
func (e *FileExtractor) Extract(ctx context.Context, file SourceFile) ([]ContentPart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext := strings.ToLower(path.Ext(file.Name))
	mimeType := detectMimeType(file)

	var (
		parts []ContentPart
		err   error
	)
	switch {
	case ext == ".txt" || ext == ".md":
		parts, err = extractText(file.Data)
	case ext == ".docx":
		parts, err = extractDocx(file.Data)
	case ext == ".pdf":
		parts, err = extractPDF(file.Data)
	case ext == ".xlsx":
		parts, err = extractXlsx(file.Data)
	case strings.HasPrefix(mimeType, "image/"), strings.HasPrefix(mimeType, "audio/"):
		parts = []ContentPart{inlinePart(mimeType, file.Data)}
	default:
		return nil, fmt.Errorf("%w: %s (upload a .docx, .pdf, .txt, .md, .xlsx, image or audio file)", ErrUnsupportedFile, file.Name)
	}
	if err != nil {
		return nil, err
	}
	Logger().Debug("extracted file", zap.String("file", file.Name), zap.String("mime", mimeType), zap.Int("parts", len(parts)))
	return parts, nil
}

func detectMimeType(file SourceFile) string {
	if file.MimeType != "" && file.MimeType != "application/octet-stream" {
		return file.MimeType
	}
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(file.Name))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(file.Data)
}

func inlinePart(mimeType string, data []byte) ContentPart {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return ContentPart{InlineData: &InlineData{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

func extractText(data []byte) ([]ContentPart, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("text file is not valid UTF-8")
	}
	return []ContentPart{{Text: string(data)}}, nil
}

// extractDocx renders the document body as text and replaces every picture with an
// "[Image N]" placeholder. The image parts follow the text in drawing order, so the
// N-th image part is the one placeholder N refers to.
func extractDocx(data []byte) ([]ContentPart, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	if doc.Document.XMLName.Local == "" {
		return nil, fmt.Errorf("failed to open docx: word/document.xml is missing")
	}

	r := &docxRenderer{doc: doc}
	var sb strings.Builder
	for _, item := range doc.Document.Body.Items {
		var line string
		switch it := item.(type) {
		case *docx.Paragraph:
			line = r.paragraph(it)
		case *docx.Table:
			line = r.table(it)
		}
		if line = strings.TrimRight(line, " "); line != "" {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return append([]ContentPart{{Text: strings.TrimSpace(sb.String())}}, r.images...), nil
}

type docxRenderer struct {
	doc    *docx.Docx
	images []ContentPart
}

func (r *docxRenderer) paragraph(p *docx.Paragraph) string {
	var sb strings.Builder
	for _, child := range p.Children {
		switch c := child.(type) {
		case *docx.Run:
			r.run(&sb, c)
		case *docx.Hyperlink:
			r.run(&sb, &c.Run)
		}
	}
	return sb.String()
}

func (r *docxRenderer) run(sb *strings.Builder, run *docx.Run) {
	for _, child := range run.Children {
		switch c := child.(type) {
		case *docx.Text:
			sb.WriteString(c.Text)
		case *docx.Tab:
			sb.WriteByte('\t')
		case *docx.BarterRabbet:
			sb.WriteByte('\n')
		case *docx.Drawing:
			sb.WriteString(r.drawing(c))
		}
	}
}

// table renders one line per row with the cells separated by tabs.
func (r *docxRenderer) table(t *docx.Table) string {
	rows := make([]string, 0, len(t.TableRows))
	for _, row := range t.TableRows {
		cells := make([]string, 0, len(row.TableCells))
		for _, cell := range row.TableCells {
			var texts []string
			for _, p := range cell.Paragraphs {
				if text := strings.TrimSpace(r.paragraph(p)); text != "" {
					texts = append(texts, text)
				}
			}
			for _, nested := range cell.Tables {
				texts = append(texts, r.table(nested))
			}
			cells = append(cells, strings.Join(texts, " "))
		}
		rows = append(rows, strings.Join(cells, "\t"))
	}
	return strings.Join(rows, "\n")
}

// drawing resolves the picture's relationship id to its media file. Every drawing
// gets its own image part, even when several show the same file.
func (r *docxRenderer) drawing(d *docx.Drawing) string {
	var graphic *docx.AGraphic
	switch {
	case d.Inline != nil:
		graphic = d.Inline.Graphic
	case d.Anchor != nil:
		graphic = d.Anchor.Graphic
	}
	if graphic == nil || graphic.GraphicData == nil || graphic.GraphicData.Pic == nil || graphic.GraphicData.Pic.BlipFill == nil {
		return ""
	}

	target, err := r.doc.ReferTarget(graphic.GraphicData.Pic.BlipFill.Blip.Embed)
	if err != nil {
		return " [Image Source Not Found] "
	}
	media := r.doc.Media(path.Base(target))
	if media == nil {
		return " [Image Source Not Found] "
	}
	mimeType := mime.TypeByExtension(strings.ToLower(path.Ext(target)))
	if !strings.HasPrefix(mimeType, "image/") {
		return " [Unsupported Image] "
	}
	r.images = append(r.images, inlinePart(mimeType, media.Data))
	return fmt.Sprintf(" [Image %d] ", len(r.images))
}

// extractPDF reads the text layer page by page. Pages without text, such as scans,
// contribute nothing.
func extractPDF(data []byte) ([]ContentPart, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	fonts := make(map[string]*pdf.Font)
	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := page.Font(name)
				fonts[name] = &font
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return []ContentPart{{Text: strings.Join(pages, "\n\n")}}, nil
}

// extractXlsx renders every sheet as tab-separated rows under a "Sheet: name" header.
func extractXlsx(data []byte) ([]ContentPart, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	var parts []ContentPart
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Sheet: %s\n", sheet)
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
		parts = append(parts, ContentPart{Text: sb.String()})
	}

	images, err := xlsxImages(f)
	if err != nil {
		return nil, err
	}
	return append(parts, images...), nil
}

func xlsxImages(f *excelize.File) ([]ContentPart, error) {
	var parts []ContentPart
	for _, sheet := range f.GetSheetList() {
		cells, err := f.GetPictureCells(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to list pictures of %s: %w", sheet, err)
		}
		sort.Strings(cells)
		for _, cell := range cells {
			pics, err := f.GetPictures(sheet, cell)
			if err != nil {
				return nil, fmt.Errorf("failed to read picture %s!%s: %w", sheet, cell, err)
			}
			for _, pic := range pics {
				mimeType := mime.TypeByExtension(pic.Extension)
				if mimeType == "" {
					continue
				}
				parts = append(parts, inlinePart(mimeType, pic.File))
			}
		}
	}
	return parts, nil
}

var imageReference = regexp.MustCompile(`\[Image (\d+)\]`)

// mergeParts flattens the parts of several files in order. Each document numbers
// its images from 1, so placeholders are shifted by the number of images the
// earlier files contributed and "[Image N]" names the N-th image of the result.
func mergeParts(perFile [][]ContentPart) []ContentPart {
	var (
		all    []ContentPart
		images int
	)
	for _, parts := range perFile {
		for _, p := range parts {
			if images > 0 && p.InlineData == nil {
				p.Text = shiftImageReferences(p.Text, images)
			}
			all = append(all, p)
		}
		images += countImages(parts)
	}
	return all
}

func shiftImageReferences(text string, offset int) string {
	return imageReference.ReplaceAllStringFunc(text, func(ref string) string {
		n, err := strconv.Atoi(imageReference.FindStringSubmatch(ref)[1])
		if err != nil {
			return ref
		}
		return fmt.Sprintf("[Image %d]", n+offset)
	})
}

func isImagePart(p ContentPart) bool {
	return p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "image/")
}

func countImages(parts []ContentPart) int {
	n := 0
	for _, p := range parts {
		if isImagePart(p) {
			n++
		}
	}
	return n
}
