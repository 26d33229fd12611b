package content

import (
	"bytes"
	_ "embed"
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// shell is the fixed HTML head prepended to every rendered text response.
// Generated pages append content after it and rely on the browser to close
// the document.
//
//go:embed shell.html
var shell string

// Content is a fully-decided HTTP response candidate.
// It is computed before authorization so the approval prompt can describe
// exactly what would be returned.
type Content struct {
	// Status is the HTTP status code.
	Status int

	// ContentType is the value for the Content-Type header.
	ContentType string

	// Body is the in-memory response body. Ignored when FilePath is set.
	Body []byte

	// FilePath, when non-empty, is a file to stream verbatim from disk.
	// Used for non-text files so binaries round-trip byte-identical.
	FilePath string

	// Description is a human-readable account of what this response does,
	// shown to the operator in approval prompts.
	Description string
}

// Renderer turns resolved targets into response candidates.
type Renderer struct {
	// ownerName appears in generated pages ("If you are '<name>' owner ...").
	ownerName string

	// convert turns markdown source into HTML. Held as a function so tests
	// can exercise the conversion-failure path.
	convert func(source []byte, w io.Writer) error
}

// NewRenderer creates a renderer. ownerName is the advertised host name
// embedded in generated error pages.
func NewRenderer(ownerName string) *Renderer {
	md := newMarkdown()
	return &Renderer{
		ownerName: ownerName,
		convert: func(source []byte, w io.Writer) error {
			return md.Convert(source, w)
		},
	}
}

// newMarkdown configures the goldmark engine: GitHub-flavored markdown with
// typographic replacements and chroma syntax highlighting. WithUnsafe keeps
// raw HTML in documents, matching how the preview treats author content.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Typographer,
			highlighting.NewHighlighting(
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			goldmarkhtml.WithUnsafe(),
		),
	)
}

// Render produces the response candidate for a resolved target.
// Failures are folded into the candidate (500 pages with the error text);
// Render itself never fails, so the listener cannot crash on bad content.
func (r *Renderer) Render(target Target) Content {
	switch target.Kind {
	case KindFile:
		return r.renderFile(target)
	case KindDirectory:
		return r.renderListing(target)
	default:
		return r.NotFound(target.RequestPath)
	}
}

func (r *Renderer) renderFile(target Target) Content {
	desc := fmt.Sprintf("'%s' file was requested and its content will be returned and parsed if needed.", target.RequestPath)
	if target.IndexName != "" {
		desc = fmt.Sprintf("'%s' was requested and '%s' was found. Its content will be returned and parsed if needed.",
			target.RequestPath, target.IndexName)
	}

	switch strings.ToLower(filepath.Ext(target.Path)) {
	case ".md", ".markdown":
		return r.renderMarkdown(target.Path, desc)
	case ".html", ".htm":
		return r.renderRawHTML(target.Path, desc)
	default:
		return r.renderStatic(target.Path, desc)
	}
}

func (r *Renderer) renderMarkdown(fsPath, desc string) Content {
	source, err := os.ReadFile(fsPath)
	if err != nil {
		return r.errorPage(err)
	}

	var buf bytes.Buffer
	if err := r.convert(source, &buf); err != nil {
		// Fail open with a diagnostic: the raw source plus the parse error,
		// never an empty body.
		body := shell + "\n<h1>Error</h1><p>" + html.EscapeString(err.Error()) +
			"</p><pre>" + html.EscapeString(string(source)) + "</pre>"
		return Content{
			Status:      http.StatusInternalServerError,
			ContentType: "text/html; charset=utf-8",
			Body:        []byte(body),
			Description: fmt.Sprintf("'%s' could not be parsed; its raw source will be returned with the error.", fsPath),
		}
	}

	return Content{
		Status:      http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(shell + buf.String()),
		Description: desc,
	}
}

func (r *Renderer) renderRawHTML(fsPath, desc string) Content {
	source, err := os.ReadFile(fsPath)
	if err != nil {
		return r.errorPage(err)
	}
	return Content{
		Status:      http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(shell + string(source)),
		Description: desc,
	}
}

// renderStatic streams any other file verbatim with its natural content type.
// The body stays on disk until the gate releases the response.
func (r *Renderer) renderStatic(fsPath, desc string) Content {
	if _, err := os.Stat(fsPath); err != nil {
		return r.errorPage(err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(fsPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return Content{
		Status:      http.StatusOK,
		ContentType: contentType,
		FilePath:    fsPath,
		Description: desc,
	}
}

func (r *Renderer) renderListing(target Target) Content {
	entries, err := os.ReadDir(target.Path)
	if err != nil {
		return r.errorPage(err)
	}

	var names []string
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(shell)
	fmt.Fprintf(&b, "\n<h1>Files in %s</h1>", html.EscapeString(target.RequestPath))
	for _, name := range names {
		href := path.Join(target.RequestPath, name)
		fmt.Fprintf(&b, "<a href='%s'>%s</a><br/>", href, html.EscapeString(name))
	}

	return Content{
		Status:      http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(b.String()),
		Description: fmt.Sprintf("'%s' was requested but no index file was found. A list of files will be returned.", target.RequestPath),
	}
}

// NotFound builds the 404 page for a request path.
func (r *Renderer) NotFound(requestPath string) Content {
	body := fmt.Sprintf("%s\n<h1>Error 404</h1>File not found. If you are '%s' owner, you can add the file into the docshare local directory.",
		shell, html.EscapeString(r.ownerName))
	return Content{
		Status:      http.StatusNotFound,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(body),
		Description: fmt.Sprintf("'%s' was requested but a 404 error will be returned.", requestPath),
	}
}

// Denied builds the page served when the operator refuses a request.
func (r *Renderer) Denied() Content {
	body := fmt.Sprintf("%s\n<h1>Access denied</h1>The owner of '%s' denied access to this device.",
		shell, html.EscapeString(r.ownerName))
	return Content{
		Status:      http.StatusForbidden,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(body),
		Description: "access denied by the device owner",
	}
}

// errorPage builds a 500 response carrying the failure description.
func (r *Renderer) errorPage(err error) Content {
	body := "<h1>Error</h1><p>" + html.EscapeString(err.Error()) + "</p>"
	return Content{
		Status:      http.StatusInternalServerError,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(body),
		Description: fmt.Sprintf("an error page will be returned: %v", err),
	}
}
