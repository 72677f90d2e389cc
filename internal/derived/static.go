package derived

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StaticGenerator builds a motion prompt from the shot context alone.
type StaticGenerator struct {
	maxLength int
}

func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{maxLength: DefaultMaxLength}
}

func (s *StaticGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := cases.Title(language.Und)
	var b strings.Builder
	b.WriteString(defaultMotion)
	if style := strings.TrimSpace(req.WorkStyle); style != "" {
		fmt.Fprintf(&b, ", %s mood", c.String(style))
	}
	if bg := strings.TrimSpace(req.WorkBackground); bg != "" {
		fmt.Fprintf(&b, ", %s setting", c.String(bg))
	}
	if subject := firstClause(req.Prompt); subject != "" {
		fmt.Fprintf(&b, ", focus on %s", subject)
	}
	return cleanMotion(b.String(), s.maxLength), nil
}

func firstClause(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if i := strings.IndexAny(prompt, ",.;\n"); i >= 0 {
		prompt = prompt[:i]
	}
	return strings.ToLower(strings.TrimSpace(prompt))
}
