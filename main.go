package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"labelqa/internal/app"
	"labelqa/internal/config"
)

func main() {
	_ = godotenv.Load() // optional .env for local runs

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "labelqa: %v\n", err)
		os.Exit(2)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return usageError()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Interrupt received, shutting down")
		cancel()
	}()

	switch args[0] {
	case "validate":
		return runValidate(ctx, args[1:])
	case "gate":
		return runGate(ctx, args[1:])
	case "augment":
		return runAugment(ctx, args[1:])
	case "audit":
		return runAudit(ctx, args[1:])
	case "sweep":
		return runSweep(ctx, args[1:])
	case "feedback":
		return runFeedback(ctx, args[1:])
	case "stats":
		return runStats(ctx, args[1:])
	default:
		return usageError()
	}
}

func runValidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	inPath := fs.String("in", "", "path to input items jsonl")
	outPath := fs.String("out", "", "path to write outcomes jsonl")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" || *outPath == "" {
		return errors.New("validate requires -in and -out")
	}

	a, err := app.New(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ValidateFile(ctx, *inPath, *outPath); err != nil {
		return err
	}
	fmt.Printf("outcomes: %s\n", *outPath)
	return nil
}

func runGate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gate", flag.ContinueOnError)
	inPath := fs.String("in", "", "path to input pairs jsonl")
	refPath := fs.String("ref", "", "path to reference corpus jsonl (optional)")
	outPath := fs.String("out", "", "path to write reports jsonl")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" || *outPath == "" {
		return errors.New("gate requires -in and -out")
	}

	a, err := app.New(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.GateFile(*inPath, *refPath, *outPath); err != nil {
		return err
	}
	fmt.Printf("reports: %s\n", *outPath)
	return nil
}

func runAugment(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("augment", flag.ContinueOnError)
	inPath := fs.String("in", "", "path to input seeds jsonl")
	outPath := fs.String("out", "", "path to write samples jsonl")
	validate := fs.Bool("validate", false, "run accepted samples through consensus validation")
	hardNegatives := fs.Bool("hard-negatives", true, "ask for one near-boundary variant per seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" || *outPath == "" {
		return errors.New("augment requires -in and -out")
	}

	a, err := app.New(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.AugmentFile(ctx, *inPath, *outPath, *validate, *hardNegatives); err != nil {
		return err
	}
	fmt.Printf("samples: %s\n", *outPath)
	return nil
}

func runAudit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	inPath := fs.String("in", "", "path to corpus items jsonl")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" {
		return errors.New("audit requires -in")
	}

	a, err := app.New(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.AuditFile(*inPath)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(payload))
	return nil
}

func runSweep(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.New(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	a.Sweep(ctx)
	return nil
}

func runFeedback(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("feedback", flag.ContinueOnError)
	text := fs.String("text", "", "the reviewed text")
	predicted := fs.String("predicted", "", "domain the classifier predicted")
	correct := fs.String("correct", "", "domain the reviewer settled on")
	confidence := fs.Float64("confidence", 0.5, "confidence the classifier reported")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *text == "" || *predicted == "" || *correct == "" {
		return errors.New("feedback requires -text, -predicted and -correct")
	}

	a, err := app.New(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.RecordFeedback(*text, *predicted, *correct, *confidence); err != nil {
		return err
	}
	fmt.Printf("feedback: %s -> %s\n", *predicted, *correct)
	return nil
}

func runStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.New(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Stats()
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(payload))
	return nil
}

func usageError() error {
	return errors.New("usage: labelqa <validate|gate|augment|audit|sweep|feedback|stats> [flags]")
}
