// Package prompt implements the line-based console dialogue: query, movie and
// variant selection, and playback confirmation.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/italolelis/mover/internal/catalog"
)

var (
	ErrEmptyQuery       = errors.New("empty search query")
	ErrInvalidSelection = errors.New("invalid selection")
)

// SelectionError is an answer that does not name one of the listed entries.
type SelectionError struct {
	Input string
	Count int
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid selection %q: choose a number between 1 and %d", e.Input, e.Count)
}

func (e *SelectionError) Is(target error) bool { return target == ErrInvalidSelection }

// ParseSelection turns a 1-based answer into a 0-based index into a list of count entries.
func ParseSelection(input string, count int) (int, error) {
	input = strings.TrimSpace(input)

	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > count {
		return 0, &SelectionError{Input: input, Count: count}
	}

	return n - 1, nil
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6AC1"))
	indexStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9B9B9B"))
	linkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	askStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#7EC8E3"))
)

// Prompter reads answers line by line from in and writes the dialogue to out.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	// MagnetLink, when set, is used to print each variant's link next to it.
	MagnetLink func(v catalog.Variant, displayName string) string
}

func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}

	return strings.TrimSpace(line), nil
}

func (p *Prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, askStyle.Render(question)+" ")
	return p.readLine()
}

// Query asks for the movie to search for.
func (p *Prompter) Query() (string, error) {
	q, err := p.ask("Enter a movie name:")
	if err != nil {
		return "", err
	}

	if q == "" {
		return "", ErrEmptyQuery
	}

	return q, nil
}

// ChooseMovie lists movies and returns the picked one. A single result is picked without asking.
func (p *Prompter) ChooseMovie(movies []catalog.Movie) (catalog.Movie, error) {
	if len(movies) == 0 {
		return catalog.Movie{}, catalog.ErrNoMoviesFound
	}

	for i, m := range movies {
		fmt.Fprintf(p.out, "%s %s\n", indexStyle.Render(fmt.Sprintf("[%d]", i+1)), headingStyle.Render(m.Heading()))

		details := fmt.Sprintf("    rating %.1f", m.Rating)
		if m.Runtime > 0 {
			details += fmt.Sprintf(" | %d min", m.Runtime)
		}
		if len(m.Genres) > 0 {
			details += " | " + strings.Join(m.Genres, ", ")
		}
		details += " | " + humanize.Comma(int64(len(m.Variants))) + " variants"

		fmt.Fprintln(p.out, detailStyle.Render(details))
	}

	if len(movies) == 1 {
		return movies[0], nil
	}

	idx, err := p.choose(len(movies))
	if err != nil {
		return catalog.Movie{}, err
	}

	return movies[idx], nil
}

// ChooseVariant lists the movie's variants and returns the picked one.
func (p *Prompter) ChooseVariant(movie catalog.Movie) (catalog.Variant, error) {
	if err := movie.CheckVariants(); err != nil {
		return catalog.Variant{}, err
	}

	fmt.Fprintln(p.out, headingStyle.Render(movie.Heading()))

	for i, v := range movie.Variants {
		fmt.Fprintf(p.out, "%s %s\n", indexStyle.Render(fmt.Sprintf("[%d]", i+1)), v)

		if p.MagnetLink != nil {
			fmt.Fprintln(p.out, linkStyle.Render("    "+p.MagnetLink(v, movie.Title)))
		}
	}

	idx, err := p.choose(len(movie.Variants))
	if err != nil {
		return catalog.Variant{}, err
	}

	return movie.Variants[idx], nil
}

func (p *Prompter) choose(count int) (int, error) {
	answer, err := p.ask(fmt.Sprintf("Select [1-%d]:", count))
	if err != nil {
		return 0, err
	}

	return ParseSelection(answer, count)
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (p *Prompter) Confirm(question string) (bool, error) {
	answer, err := p.ask(question + " [y/N]:")
	if err != nil {
		return false, err
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Println writes a plain line to the dialogue output.
func (p *Prompter) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}
