package quizstudio

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const (
	wordNamespaces = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" ` +
		`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" ` +
		`xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing" ` +
		`xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
		`xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture"`
	imageRelType = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
)

// inlinePicture is a run holding an inline drawing of the picture behind rID.
func inlinePicture(rID string) string {
	return `<w:r><w:drawing><wp:inline distT="0" distB="0" distL="0" distR="0">` +
		`<wp:extent cx="914400" cy="914400"/><wp:docPr id="1" name="Picture 1"/>` +
		`<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">` +
		`<pic:pic><pic:nvPicPr><pic:cNvPr id="0" name="image"/><pic:cNvPicPr/></pic:nvPicPr>` +
		`<pic:blipFill><a:blip r:embed="` + rID + `"/><a:stretch><a:fillRect/></a:stretch></pic:blipFill>` +
		`</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing></w:r>`
}

func wordDocument(body string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document ` + wordNamespaces + `><w:body>` + body + `</w:body></w:document>`)
}

// wordRels maps relationship ids to targets relative to word/.
func wordRels(targets map[string]string) []byte {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for id, target := range targets {
		fmt.Fprintf(&sb, `<Relationship Id="%s" Type="%s" Target="%s"/>`, id, imageRelType, target)
	}
	sb.WriteString(`</Relationships>`)
	return []byte(sb.String())
}

func buildDocx(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// buildPDF writes a minimal PDF with one Helvetica text line per page.
func buildPDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	var objects []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, text := range pages {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestFileExtractor_Text(t *testing.T) {
	parts, err := NewFileExtractor().Extract(context.Background(), SourceFile{Name: "notes.MD", Data: []byte("# Cells\nUnits of life.")})
	require.NoError(t, err)
	assert.Equal(t, []ContentPart{{Text: "# Cells\nUnits of life."}}, parts)

	_, err = NewFileExtractor().Extract(context.Background(), SourceFile{Name: "bad.txt", Data: []byte{0xff, 0xfe, 0x00}})
	assert.Error(t, err)
}

func TestFileExtractor_Docx(t *testing.T) {
	leaf := []byte("\x89PNG\r\n\x1a\nleaf")
	root := []byte("\xff\xd8\xffroot")
	body := `<w:p><w:r><w:t>Photosynthesis</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t xml:space="preserve">Light </w:t></w:r><w:r><w:t>becomes sugar.</w:t></w:r></w:p>` +
		`<w:p>` + inlinePicture("rId8") + `<w:r><w:t>Leaf diagram</w:t></w:r></w:p>` +
		`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Stage</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Output</w:t></w:r></w:p></w:tc></w:tr></w:tbl>` +
		`<w:p>` + inlinePicture("rId7") + `</w:p>` +
		`<w:p>` + inlinePicture("rId8") + `</w:p>` +
		`<w:p>` + inlinePicture("rId99") + `</w:p>` +
		`<w:p>` + inlinePicture("rId9") + `</w:p>` +
		`<w:p></w:p>`
	data := buildDocx(t, map[string][]byte{
		"word/document.xml":            wordDocument(body),
		"word/_rels/document.xml.rels": wordRels(map[string]string{"rId7": "media/image1.jpeg", "rId8": "media/image2.png", "rId9": "media/oleObject1.bin"}),
		"word/media/image1.jpeg":       root,
		"word/media/image2.png":        leaf,
		"word/media/oleObject1.bin":    []byte("embedded"),
	})

	parts, err := NewFileExtractor().Extract(context.Background(), SourceFile{Name: "lesson.docx", Data: data})
	require.NoError(t, err)
	require.Len(t, parts, 4)

	assert.Equal(t, "Photosynthesis\n"+
		"Light becomes sugar.\n"+
		" [Image 1] Leaf diagram\n"+
		"Stage\tOutput\n"+
		" [Image 2]\n"+
		" [Image 3]\n"+
		" [Image Source Not Found]\n"+
		" [Unsupported Image]", parts[0].Text)

	// Images follow drawing order, not the order of the media folder.
	assert.Equal(t, &InlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(leaf)}, parts[1].InlineData)
	assert.Equal(t, &InlineData{MimeType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(root)}, parts[2].InlineData)
	assert.Equal(t, parts[1].InlineData, parts[3].InlineData, "a reused picture gets its own part")
}

func TestFileExtractor_DocxImagesAcrossFiles(t *testing.T) {
	first := []byte("\x89PNG\r\n\x1a\nfirst")
	second := []byte("\x89PNG\r\n\x1a\nsecond")
	docA := buildDocx(t, map[string][]byte{
		"word/document.xml":            wordDocument(`<w:p><w:r><w:t>Cell</w:t></w:r>` + inlinePicture("rId1") + `</w:p>`),
		"word/_rels/document.xml.rels": wordRels(map[string]string{"rId1": "media/image1.png"}),
		"word/media/image1.png":        first,
	})
	docB := buildDocx(t, map[string][]byte{
		"word/document.xml":            wordDocument(`<w:p><w:r><w:t>Leaf</w:t></w:r>` + inlinePicture("rId1") + `</w:p>`),
		"word/_rels/document.xml.rels": wordRels(map[string]string{"rId1": "media/image1.png"}),
		"word/media/image1.png":        second,
	})

	var captured []ContentPart
	gen := generatorFunc(func(_ context.Context, parts []ContentPart, _ GenerationParams) ([]Question, error) {
		captured = parts
		return []Question{short("Which organ?", "Leaf")}, nil
	})
	store := NewStore(NewMemoryBackend())
	store.Load()
	m := NewJobManager(store, NewFileExtractor(), gen, JobManagerOptions{Language: LangEnglish})
	m.Submit([]SourceFile{{Name: "a.docx", Data: docA}, {Name: "b.docx", Data: docB}}, "Biology", GenerationParams{})
	m.Wait()

	require.Len(t, captured, 4)
	assert.Equal(t, "Cell [Image 1]", captured[0].Text)
	assert.Equal(t, "Leaf [Image 2]", captured[2].Text, "numbering continues across files")

	resolved := resolveImagePlaceholders([]Question{{Image: "[Image 2]"}}, captured)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(second), resolved[0].Image)
}

func TestMergeParts(t *testing.T) {
	img := func(data string) ContentPart { return ContentPart{InlineData: &InlineData{MimeType: "image/png", Data: data}} }
	audio := ContentPart{InlineData: &InlineData{MimeType: "audio/mpeg", Data: "snd"}}

	merged := mergeParts([][]ContentPart{
		{{Text: "[Image 1] and [Image 2]"}, img("a1"), img("a2")},
		{audio},
		{{Text: "see [Image 1]; [Image] stays"}, img("b1")},
		{{Text: "[Image 1]"}, img("c1")},
	})
	assert.Equal(t, []ContentPart{
		{Text: "[Image 1] and [Image 2]"}, img("a1"), img("a2"),
		audio,
		{Text: "see [Image 3]; [Image] stays"}, img("b1"),
		{Text: "[Image 4]"}, img("c1"),
	}, merged)
	assert.Nil(t, mergeParts(nil))
}

func TestFileExtractor_PDF(t *testing.T) {
	data := buildPDF(t, "Cells are the units of life.", "", "Mitochondria make energy.")

	parts, err := NewFileExtractor().Extract(context.Background(), SourceFile{Name: "biology.PDF", Data: data})
	require.NoError(t, err)
	assert.Equal(t, []ContentPart{{Text: "Cells are the units of life.\n\nMitochondria make energy."}}, parts)

	parts, err = NewFileExtractor().Extract(context.Background(), SourceFile{Name: "scan.pdf", Data: buildPDF(t, "")})
	require.NoError(t, err)
	assert.Empty(t, parts, "a PDF without a text layer yields nothing")

	_, err = NewFileExtractor().Extract(context.Background(), SourceFile{Name: "broken.pdf", Data: []byte("not a pdf")})
	assert.ErrorContains(t, err, "failed to open pdf")
}

func TestFileExtractor_DocxWithoutDocument(t *testing.T) {
	data := buildDocx(t, map[string][]byte{"word/styles.xml": []byte("<styles/>")})

	_, err := NewFileExtractor().Extract(context.Background(), SourceFile{Name: "broken.docx", Data: data})
	assert.ErrorContains(t, err, "word/document.xml is missing")
}

func TestFileExtractor_Xlsx(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Terms"))
	require.NoError(t, f.SetSheetRow("Terms", "A1", &[]interface{}{"Term", "Meaning"}))
	require.NoError(t, f.SetSheetRow("Terms", "A2", &[]interface{}{"Cell", "Unit of life"}))
	_, err := f.NewSheet("Extra")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Extra", "A1", 42))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	parts, err := NewFileExtractor().Extract(context.Background(), SourceFile{Name: "glossary.xlsx", Data: buf.Bytes()})
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "Sheet: Terms\nTerm\tMeaning\nCell\tUnit of life\n", parts[0].Text)
	assert.Equal(t, "Sheet: Extra\n42\n", parts[1].Text)
}

func TestFileExtractor_Media(t *testing.T) {
	parts, err := NewFileExtractor().Extract(context.Background(), SourceFile{Name: "diagram.png", Data: []byte("img")})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, &InlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString([]byte("img"))}, parts[0].InlineData)

	parts, err = NewFileExtractor().Extract(context.Background(), SourceFile{Name: "lecture", MimeType: "audio/mpeg; codecs=mp3", Data: []byte("snd")})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "audio/mpeg", parts[0].InlineData.MimeType)
}

func TestFileExtractor_Unsupported(t *testing.T) {
	_, err := NewFileExtractor().Extract(context.Background(), SourceFile{Name: "paper.odt", MimeType: "application/vnd.oasis.opendocument.text", Data: []byte("PK")})
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewFileExtractor().Extract(ctx, SourceFile{Name: "notes.txt", Data: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
}
