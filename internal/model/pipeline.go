package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyPipeline = errors.New("pipeline has no commands")

// Expr is a single argument of a command. It is resolved to a string
// when the pipeline gets compiled into processes.
type Expr interface {
	Eval() (string, error)
	String() string
}

// Cloner is implemented by expressions carrying mutable state. Pipeline.Clone
// uses it to produce a deep copy.
type Cloner interface {
	Clone() Expr
}

// Literal is a constant word.
type Literal string

func (l Literal) Eval() (string, error) {
	return string(l), nil
}

func (l Literal) String() string {
	if l == "" {
		return `""`
	}
	if strings.ContainsAny(string(l), " \t\n|<>`'\"") {
		return "'" + strings.ReplaceAll(string(l), "'", `'\''`) + "'"
	}
	return string(l)
}

// Command is one stage of a pipeline: its first argument names the program.
type Command struct {
	Args []Expr
}

// Cmd builds a Command out of literal words.
func Cmd(words ...string) Command {
	args := make([]Expr, len(words))
	for i, w := range words {
		args[i] = Literal(w)
	}
	return Command{Args: args}
}

// Argv evaluates all the arguments.
func (c Command) Argv() ([]string, error) {
	if len(c.Args) == 0 {
		return nil, errors.New("command has no arguments")
	}
	argv := make([]string, len(c.Args))
	for i, a := range c.Args {
		if a == nil {
			return nil, fmt.Errorf("argument %d is nil", i)
		}
		s, err := a.Eval()
		if err != nil {
			return nil, fmt.Errorf("evaluating argument %d (%s): %w", i, a, err)
		}
		argv[i] = s
	}
	return argv, nil
}

func (c Command) String() string {
	words := make([]string, 0, len(c.Args))
	for _, a := range c.Args {
		if a == nil {
			continue
		}
		words = append(words, a.String())
	}
	return strings.Join(words, " ")
}

// Pipeline is an ordered list of commands whose standard streams are chained together.
type Pipeline struct {
	Commands      []Command
	InputFile     string
	OutputFile    string
	CaptureOutput bool
}

// Clone returns a deep copy, so the caller can keep mutating its own value.
func (p Pipeline) Clone() Pipeline {
	ret := Pipeline{
		Commands:      make([]Command, len(p.Commands)),
		InputFile:     p.InputFile,
		OutputFile:    p.OutputFile,
		CaptureOutput: p.CaptureOutput,
	}
	for i, c := range p.Commands {
		args := make([]Expr, len(c.Args))
		for j, a := range c.Args {
			if cl, ok := a.(Cloner); ok {
				a = cl.Clone()
			}
			args[j] = a
		}
		ret.Commands[i] = Command{Args: args}
	}
	return ret
}

// Validate checks the structure, not the resolvability of the arguments.
func (p Pipeline) Validate() error {
	if len(p.Commands) == 0 {
		return ErrEmptyPipeline
	}
	for i, c := range p.Commands {
		if len(c.Args) == 0 {
			return fmt.Errorf("command %d has no arguments", i)
		}
	}
	return nil
}

// String renders the pipeline the way a user would type it, for example
//
//	cat | tr a-z A-Z < in.txt > out.txt
//
// Captured pipelines are wrapped in backquotes.
func (p Pipeline) String() string {
	var sb strings.Builder
	for i, c := range p.Commands {
		if i > 0 {
			sb.WriteString(" | ")
		}
		sb.WriteString(c.String())
	}
	if p.InputFile != "" {
		sb.WriteString(" < ")
		sb.WriteString(Literal(p.InputFile).String())
	}
	if p.OutputFile != "" {
		sb.WriteString(" > ")
		sb.WriteString(Literal(p.OutputFile).String())
	}
	if p.CaptureOutput {
		return "`" + sb.String() + "`"
	}
	return sb.String()
}
