package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/poiesic/policyrag/ai"
	"github.com/poiesic/policyrag/rag"
	"github.com/poiesic/policyrag/search"
	"github.com/urfave/cli/v2"
)

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer questions about policies with the chat model",
		ArgsUsage: "[question]",
		Action:    askAction,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:  "top-k",
				Usage: "Number of policies given to the model (0 uses the configured value)",
			},
			&cli.BoolFlag{
				Name:  "sources",
				Usage: "List the policies each answer was based on",
				Value: true,
			},
		}, filterFlags()...),
	}
}

func askAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	var opts []rag.Option
	if k := c.Int("top-k"); k > 0 {
		opts = append(opts, rag.WithTopK(k))
	}
	assistant, err := db.NewAssistant(opts...)
	if err != nil {
		return err
	}

	session := &chatSession{
		assistant: assistant,
		filters:   filtersFrom(c),
		sources:   c.Bool("sources"),
		out:       os.Stdout,
	}

	if c.NArg() > 0 {
		return session.ask(c.Context, strings.Join(c.Args().Slice(), " "))
	}
	return session.loop(c.Context, os.Stdin)
}

type asker interface {
	Ask(ctx context.Context, q rag.Question) (*rag.Answer, error)
}

// chatSession keeps the conversation history between questions.
type chatSession struct {
	assistant asker
	filters   search.Filters
	history   []ai.Message
	sources   bool
	out       io.Writer
}

func (s *chatSession) ask(ctx context.Context, question string) error {
	spinner := getSpinner("Thinking...")
	answer, err := s.assistant.Ask(ctx, rag.Question{
		Text:    question,
		History: s.history,
		Filters: s.filters,
	})
	_ = spinner.Clear()
	_ = spinner.Finish()
	if err != nil {
		return err
	}

	s.history = append(s.history,
		ai.Message{Role: ai.RoleUser, Content: question},
		ai.Message{Role: ai.RoleAssistant, Content: answer.Text},
	)

	fmt.Fprintln(s.out, color.CyanString("Assistant:"), answer.Text)
	if s.sources && len(answer.Sources) > 0 {
		fmt.Fprintln(s.out, color.HiBlackString("Sources:"))
		for i, source := range answer.Sources {
			printResult(s.out, i+1, source)
		}
	}
	return nil
}

func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	color.Cyan("Ask about youth policies (type 'exit' to quit)\n")
	userPrompt := color.New(color.FgGreen).FprintfFunc()

	scanner := bufio.NewScanner(in)
	for {
		userPrompt(s.out, "\nYou: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch question {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := s.ask(ctx, question); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			color.Red("Error: %v\n", err)
		}
	}
}
