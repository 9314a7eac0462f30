// Package prompts holds the embedded system instruction used for
// question quality analysis.
package prompts

import (
	"bytes"
	"embed"
	"sync"
	"text/template"
)

//go:embed analysis.txt
var promptFS embed.FS

var (
	loadOnce sync.Once
	loadErr  error
	tmpl     *template.Template
)

// Data is the template input for one analysis prompt.
type Data struct {
	Question string
}

func load() {
	content, err := promptFS.ReadFile("analysis.txt")
	if err != nil {
		loadErr = err
		return
	}
	tmpl, loadErr = template.New("analysis").Parse(string(content))
}

// BuildAnalysisPrompt renders the full prompt for one formatted
// question.
func BuildAnalysisPrompt(question string) (string, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return "", loadErr
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, Data{Question: question}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
