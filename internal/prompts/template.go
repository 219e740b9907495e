// Package prompts assembles extraction prompts from embedded templates.
//
// Assembly is pure: the same input always yields the same prompt text, so a
// prompt hash identifies exactly what was sent for a row.
package prompts

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"text/template"
)

//go:embed system.tmpl
var systemPromptTmpl string

//go:embed user.tmpl
var userPromptTmpl string

//go:embed repair.tmpl
var repairPromptTmpl string

var (
	systemTemplate = template.Must(template.New("system").Parse(systemPromptTmpl))
	userTemplate   = template.Must(template.New("user").Parse(userPromptTmpl))
	repairTemplate = template.Must(template.New("repair").Parse(repairPromptTmpl))
)

// Version identifies the embedded template set. Runs record it so a result
// file can be traced back to the prompts that produced it.
var Version = HashText(systemPromptTmpl + "\x00" + userPromptTmpl + "\x00" + repairPromptTmpl)[:12]

// HashText returns a SHA256 hash of the text for change detection.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}
