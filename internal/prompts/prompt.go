package prompts

import (
	"strings"
	"unicode/utf8"

	"github.com/jackzampolin/sieve/internal/examples"
)

// maxRepairEcho bounds how much of a bad answer is echoed back.
const maxRepairEcho = 12000

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Input is everything a prompt is built from.
type Input struct {
	Description string
	// Schema is the rendered shape of the expected answer.
	Schema    string
	Examples  []examples.Example
	Text      string
	Reasoning bool
}

// Prompt is an assembled request: system instructions, the user turn and,
// after a repair, the follow-up exchange.
type Prompt struct {
	System string
	User   string
	Turns  []Message
}

// Assemble builds the prompt for one row. Sections appear in a fixed order:
// instructions, task description, expected format, examples, row text.
func Assemble(in Input) (Prompt, error) {
	system, err := render(systemTemplate, in)
	if err != nil {
		return Prompt{}, err
	}
	user, err := render(userTemplate, in)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		System: strings.TrimSpace(system),
		User:   strings.TrimSpace(user),
	}, nil
}

// Repair extends p with the model's previous answer and the problems found
// in it, asking for a corrected answer.
func Repair(p Prompt, lastOutput string, issue error, reasoning bool) (Prompt, error) {
	lastOutput = strings.TrimSpace(lastOutput)
	if len(lastOutput) > maxRepairEcho {
		cut := maxRepairEcho
		for cut > 0 && !utf8.RuneStart(lastOutput[cut]) {
			cut--
		}
		lastOutput = lastOutput[:cut] + "\n...[truncated]"
	}
	issueText := "the answer is not valid JSON"
	if issue != nil {
		issueText = issue.Error()
	}

	text, err := render(repairTemplate, struct {
		Issue     string
		Reasoning bool
	}{Issue: issueText, Reasoning: reasoning})
	if err != nil {
		return Prompt{}, err
	}

	out := Prompt{
		System: p.System,
		User:   p.User,
		Turns:  make([]Message, 0, len(p.Turns)+2),
	}
	out.Turns = append(out.Turns, p.Turns...)
	out.Turns = append(out.Turns,
		Message{Role: "assistant", Content: lastOutput},
		Message{Role: "user", Content: strings.TrimSpace(text)},
	)
	return out, nil
}

// Messages returns the prompt as chat turns.
func (p Prompt) Messages() []Message {
	msgs := make([]Message, 0, 2+len(p.Turns))
	if p.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: p.System})
	}
	msgs = append(msgs, Message{Role: "user", Content: p.User})
	return append(msgs, p.Turns...)
}

// Text concatenates every turn, separated by blank lines.
func (p Prompt) Text() string {
	msgs := p.Messages()
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n\n")
}

// Hash identifies the prompt text.
func (p Prompt) Hash() string {
	return HashText(p.Text())
}
