// Package classifier assigns a fiscal document type to raw upload bytes.
// Structured payloads are classified from their markup signatures; scanned
// payloads go through a text extraction collaborator and fuzzy matching.
package classifier

import (
	"bytes"
	"context"
	"encoding/xml"
	"log/slog"
	"strings"

	"github.com/notaflow/notaflow/internal/domain"
)

// TextExtractor turns a scanned payload into plain text. The vision backend
// satisfies this; the classifier treats extraction failure as an unknown
// document, never as a pipeline error.
type TextExtractor interface {
	Transcribe(ctx context.Context, payload []byte, format domain.SourceFormat) (string, error)
}

// Classifier maps payloads to document types.
type Classifier struct {
	text TextExtractor
	log  *slog.Logger
}

// New builds a classifier. text may be nil, in which case scanned payloads
// classify as Unknown.
func New(text TextExtractor, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{text: text, log: log}
}

// Classify inspects the document payload and returns its type. Unknown is a
// valid terminal outcome, not an error.
func (c *Classifier) Classify(ctx context.Context, doc domain.DocumentRecord) (domain.DocumentType, error) {
	if doc.Format == domain.SourceFormatXML {
		return classifyMarkup(doc.Payload), nil
	}

	if c.text == nil {
		c.log.Debug("no text extractor configured, classifying scan as unknown",
			"document_id", doc.ID)
		return domain.DocumentTypeUnknown, nil
	}
	text, err := c.text.Transcribe(ctx, doc.Payload, doc.Format)
	if err != nil {
		c.log.Warn("text extraction failed during classification",
			"document_id", doc.ID, "error", err)
		return domain.DocumentTypeUnknown, nil
	}
	return classifyText(text), nil
}

// classifyMarkup resolves the type from the root element signature. NFe and
// NFCe share a root; they are told apart by the fiscal model code.
func classifyMarkup(payload []byte) domain.DocumentType {
	root, ok := rootElement(payload)
	if !ok {
		return domain.DocumentTypeUnknown
	}
	switch {
	case root == "nfeProc" || root == "NFe" || root == "enviNFe":
		if modelCode(payload) == "65" {
			return domain.DocumentTypeNFCe
		}
		return domain.DocumentTypeNFe
	case root == "cteProc" || root == "CTe":
		return domain.DocumentTypeCTe
	case root == "CFe":
		return domain.DocumentTypeSAT
	case strings.Contains(strings.ToLower(root), "nfse"):
		return domain.DocumentTypeNFSe
	default:
		return domain.DocumentTypeUnknown
	}
}

// rootElement returns the local name of the first start element.
func rootElement(payload []byte) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, true
		}
	}
}

// modelCode scans for the <mod> element of the ide block. Model 55 is an
// NFe, 65 an NFCe.
func modelCode(payload []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	inMod := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inMod = t.Name.Local == "mod"
		case xml.CharData:
			if inMod {
				return strings.TrimSpace(string(t))
			}
		case xml.EndElement:
			inMod = false
		}
	}
}

// textSignatures maps normalized marker phrases to document types. Order
// matters: more specific markers come first so an NFCe is not swallowed by
// the generic NFe markers.
var textSignatures = []struct {
	markers []string
	docType domain.DocumentType
}{
	{[]string{"nfc-e", "nfce", "nota fiscal de consumidor"}, domain.DocumentTypeNFCe},
	{[]string{"cupom fiscal eletronico", "extrato no. sat", "sat no."}, domain.DocumentTypeSAT},
	{[]string{"conhecimento de transporte", "ct-e", "dacte"}, domain.DocumentTypeCTe},
	{[]string{"nota fiscal de servico", "nfs-e", "nfse", "issqn"}, domain.DocumentTypeNFSe},
	{[]string{"danfe", "nota fiscal eletronica", "nf-e"}, domain.DocumentTypeNFe},
}

// classifyText fuzzy-matches extracted text against the signature table.
// Accents are stripped so OCR output with mangled diacritics still matches.
func classifyText(text string) domain.DocumentType {
	norm := normalize(text)
	for _, sig := range textSignatures {
		for _, m := range sig.markers {
			if strings.Contains(norm, m) {
				return sig.docType
			}
		}
	}
	return domain.DocumentTypeUnknown
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

func normalize(s string) string {
	return accentReplacer.Replace(strings.ToLower(s))
}

// SniffFormat derives the source format from the file name, falling back to
// payload inspection when the extension is missing or unrecognized.
func SniffFormat(fileName string, payload []byte) domain.SourceFormat {
	lower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lower, ".xml"):
		return domain.SourceFormatXML
	case strings.HasSuffix(lower, ".pdf"):
		return domain.SourceFormatPDF
	case strings.HasSuffix(lower, ".png"), strings.HasSuffix(lower, ".jpg"),
		strings.HasSuffix(lower, ".jpeg"), strings.HasSuffix(lower, ".tiff"):
		return domain.SourceFormatImage
	}
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("<")):
		return domain.SourceFormatXML
	case bytes.HasPrefix(payload, []byte("%PDF")):
		return domain.SourceFormatPDF
	default:
		return domain.SourceFormatImage
	}
}
