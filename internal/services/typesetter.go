package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/Lllllllleong/bookletflow/internal/imposition"
	"github.com/Lllllllleong/bookletflow/internal/models"
)

const texJobName = "booklet"

var texTemplate = template.Must(template.New("booklet").Parse(`\documentclass[{{.Paper}}]{article}
\usepackage{pdfpages}
\begin{document}
{{- range .Includes}}
\includepdf[{{.Options}}]{ {{- $.Source -}} }
{{- end}}
\end{document}
`))

// TypesetJob describes the imposed document handed to the typesetter.
type TypesetJob struct {
	Layout models.Layout
	// Source is the file name of the prepared PDF inside the work directory.
	Source string
	// Pages is the number of real pages in Source.
	Pages int
	// Sequence is the page order of a 2-up booklet, with blanks already
	// masked. It is unused for single-leaf and crop-only jobs.
	Sequence    []imposition.Entry
	CropOnly    bool
	ExtraPages  int
	InnerMargin int
	OuterMargin int
	PageScale   float64
}

type texInclude struct {
	Options string
}

type texDocument struct {
	Paper    string
	Source   string
	Includes []texInclude
}

// RenderTeX returns the LaTeX source that imposes job with pdfpages.
func RenderTeX(job TypesetJob) (string, error) {
	if job.Source == "" || strings.ContainsAny(job.Source, "{}%\\ ") {
		return "", fmt.Errorf("unusable source file name %q", job.Source)
	}
	doc := texDocument{Source: job.Source}

	switch {
	case job.CropOnly:
		doc.Paper = "a4paper"
		pages := []string{"1-" + strconv.Itoa(job.Pages)}
		for range job.ExtraPages {
			pages = append(pages, "{}")
		}
		doc.Includes = []texInclude{{Options: "pages={" + strings.Join(pages, ",") + "}"}}

	case job.Layout == models.LayoutTwoUp:
		doc.Paper = "a4paper,landscape"
		doc.Includes = []texInclude{{
			Options: fmt.Sprintf("pages={%s},nup=2x1,delta=%dpt 0", imposition.Format(job.Sequence), job.InnerMargin),
		}}

	default:
		doc.Paper = "a5paper"
		// Recto pages shift away from the fold, versos towards it.
		shift := job.InnerMargin/2 - job.OuterMargin/2
		for p := range job.Pages + job.ExtraPages {
			page := "{}"
			if p < job.Pages {
				page = strconv.Itoa(p + 1)
			}
			offset := shift
			if p%2 == 1 {
				offset = -shift
			}
			doc.Includes = append(doc.Includes, texInclude{
				Options: fmt.Sprintf("pages={%s},offset=%dpt 0,scale=%f", page, offset, job.PageScale),
			})
		}
	}

	var buf bytes.Buffer
	if err := texTemplate.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("failed to render LaTeX source: %w", err)
	}
	return buf.String(), nil
}

// LaTeX typesets imposition jobs with pdflatex and the pdfpages package.
type LaTeX struct {
	Command string
}

// Typeset renders job into dir and returns the path of the imposed PDF.
func (l *LaTeX) Typeset(ctx context.Context, dir string, job TypesetJob) (string, error) {
	src, err := RenderTeX(job)
	if err != nil {
		return "", err
	}
	texPath := filepath.Join(dir, texJobName+".tex")
	if err := os.WriteFile(texPath, []byte(src), 0o644); err != nil {
		return "", fmt.Errorf("failed to write LaTeX source: %w", err)
	}

	cmd := exec.CommandContext(ctx, l.Command, "-interaction=nonstopmode", "-halt-on-error", texJobName+".tex")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("typesetter %q failed: %w: %s", l.Command, err, lastLines(out, 10))
	}
	slog.Debug("Typesetting finished.", "command", l.Command, "tex", texPath)
	return filepath.Join(dir, texJobName+".pdf"), nil
}

func lastLines(b []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
