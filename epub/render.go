package epub

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const defaultStyleCSS = `@charset "utf-8";

html { font-family: serif; }
body { margin: 0; padding: 0 1.2em; line-height: 1.6; }
img { max-width: 100%; height: auto; }
pre, code { font-family: ui-monospace, Menlo, Consolas, monospace; }
pre { overflow-x: auto; padding: 0.75em; background: #f6f8fa; border-radius: 6px; }
blockquote { margin: 1em 0; padding: 0 1em; border-left: 4px solid #ddd; color: #333; }
`

func renderContainerXML() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`
}

func renderNavXHTML(title, lang string, chapters []chapterSpec) string {
	var out strings.Builder
	out.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	out.WriteString("<!DOCTYPE html>\n")
	fmt.Fprintf(&out, "<html xmlns=\"http://www.w3.org/1999/xhtml\" xmlns:epub=\"http://www.idpf.org/2007/ops\" lang=\"%s\" xml:lang=\"%s\">\n", xmlEscape(lang), xmlEscape(lang))
	out.WriteString("<head>\n")
	fmt.Fprintf(&out, "  <title>%s</title>\n", xmlEscape(title))
	out.WriteString("  <meta charset=\"utf-8\" />\n")
	out.WriteString("  <link rel=\"stylesheet\" type=\"text/css\" href=\"style.css\" />\n")
	out.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&out, "  <h1>%s</h1>\n", xmlEscape(title))
	out.WriteString("  <nav epub:type=\"toc\" id=\"toc\">\n    <ol>\n")
	for _, ch := range chapters {
		fmt.Fprintf(&out, "      <li><a href=\"%s.xhtml\">%s</a></li>\n", xmlEscape(ch.stem), xmlEscape(ch.title))
	}
	out.WriteString("    </ol>\n  </nav>\n</body>\n</html>\n")
	return out.String()
}

func renderTocNCX(title string, id uuid.UUID, chapters []chapterSpec) string {
	var out strings.Builder
	out.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	out.WriteString("<!DOCTYPE ncx PUBLIC \"-//NISO//DTD ncx 2005-1//EN\" \"http://www.daisy.org/z3986/2005/ncx-2005-1.dtd\">\n")
	out.WriteString("<ncx xmlns=\"http://www.daisy.org/z3986/2005/ncx/\" version=\"2005-1\">\n  <head>\n")
	fmt.Fprintf(&out, "    <meta name=\"dtb:uid\" content=\"urn:uuid:%s\" />\n", xmlEscape(id.String()))
	out.WriteString("    <meta name=\"dtb:depth\" content=\"1\" />\n")
	out.WriteString("    <meta name=\"dtb:totalPageCount\" content=\"0\" />\n")
	out.WriteString("    <meta name=\"dtb:maxPageNumber\" content=\"0\" />\n  </head>\n")
	fmt.Fprintf(&out, "  <docTitle><text>%s</text></docTitle>\n", xmlEscape(title))
	out.WriteString("  <navMap>\n")
	for idx, ch := range chapters {
		play := idx + 1
		fmt.Fprintf(&out, "    <navPoint id=\"navPoint-%d\" playOrder=\"%d\">\n", play, play)
		fmt.Fprintf(&out, "      <navLabel><text>%s</text></navLabel>\n", xmlEscape(ch.title))
		fmt.Fprintf(&out, "      <content src=\"%s.xhtml\" />\n", xmlEscape(ch.stem))
		out.WriteString("    </navPoint>\n")
	}
	out.WriteString("  </navMap>\n</ncx>\n")
	return out.String()
}

func renderContentOPF(title, lang string, id uuid.UUID, modified string, chapters []chapterSpec, assets []assetSpec) string {
	var out strings.Builder
	out.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	fmt.Fprintf(&out, "<package xmlns=\"http://www.idpf.org/2007/opf\" unique-identifier=\"bookid\" version=\"3.0\" xml:lang=\"%s\">\n", xmlEscape(lang))
	out.WriteString("  <metadata xmlns:dc=\"http://purl.org/dc/elements/1.1/\">\n")
	fmt.Fprintf(&out, "    <dc:identifier id=\"bookid\">urn:uuid:%s</dc:identifier>\n", xmlEscape(id.String()))
	fmt.Fprintf(&out, "    <dc:title>%s</dc:title>\n", xmlEscape(title))
	fmt.Fprintf(&out, "    <dc:language>%s</dc:language>\n", xmlEscape(lang))
	fmt.Fprintf(&out, "    <meta property=\"dcterms:modified\">%s</meta>\n", xmlEscape(modified))
	out.WriteString("  </metadata>\n  <manifest>\n")
	out.WriteString("    <item id=\"nav\" href=\"nav.xhtml\" media-type=\"application/xhtml+xml\" properties=\"nav\" />\n")
	out.WriteString("    <item id=\"ncx\" href=\"toc.ncx\" media-type=\"application/x-dtbncx+xml\" />\n")
	out.WriteString("    <item id=\"css\" href=\"style.css\" media-type=\"text/css\" />\n")
	for _, ch := range chapters {
		fmt.Fprintf(&out, "    <item id=\"%s\" href=\"%s.xhtml\" media-type=\"application/xhtml+xml\" />\n", xmlEscape(ch.stem), xmlEscape(ch.stem))
	}
	for idx, asset := range assets {
		fmt.Fprintf(&out, "    <item id=\"asset-%d\" href=\"assets/%s\" media-type=\"%s\" />\n", idx+1, xmlEscape(asset.relPath), xmlEscape(mediaTypeForAsset(asset.relPath)))
	}
	out.WriteString("  </manifest>\n  <spine toc=\"ncx\">\n")
	for _, ch := range chapters {
		fmt.Fprintf(&out, "    <itemref idref=\"%s\" />\n", xmlEscape(ch.stem))
	}
	out.WriteString("  </spine>\n</package>\n")
	return out.String()
}

func wrapXHTMLDocument(title, lang, bodyHTML string) string {
	var out strings.Builder
	out.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n<!DOCTYPE html>\n")
	fmt.Fprintf(&out, "<html xmlns=\"http://www.w3.org/1999/xhtml\" lang=\"%s\" xml:lang=\"%s\">\n", xmlEscape(lang), xmlEscape(lang))
	out.WriteString("<head>\n")
	fmt.Fprintf(&out, "  <title>%s</title>\n", xmlEscape(title))
	out.WriteString("  <meta charset=\"utf-8\" />\n")
	out.WriteString("  <link rel=\"stylesheet\" type=\"text/css\" href=\"style.css\" />\n")
	out.WriteString("</head>\n<body>\n")
	out.WriteString(bodyHTML)
	if !strings.HasSuffix(bodyHTML, "\n") {
		out.WriteString("\n")
	}
	out.WriteString("</body>\n</html>\n")
	return out.String()
}
