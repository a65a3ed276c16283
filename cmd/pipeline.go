package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/audiolibrelab/fluidcycle/internal/report"
	"github.com/audiolibrelab/fluidcycle/internal/service"
)

// executePipeline runs the pipeline steps that follow startStep
func executePipeline(ctx context.Context, svc service.Service, startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := []rune(strings.ToLower(pipeline))

	startIndex := -1
	for i, step := range steps {
		if step == startStep {
			startIndex = i
			break
		}
	}

	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	for i := startIndex + 1; i < len(steps); i++ {
		fmt.Printf("Pipeline: executing step '%c'...\n", steps[i])
		if err := runStep(ctx, svc, steps[i]); err != nil {
			return err
		}
	}

	return nil
}

// runStep executes one pipeline step with console output
func runStep(ctx context.Context, svc service.Service, step rune) error {
	switch step {
	case 'g':
		res, err := svc.Generate()
		if err != nil {
			return fmt.Errorf("pipeline generate failed: %w", err)
		}
		printGenerated(res)
		fmt.Println("Pipeline: generation completed")

	case 'i':
		if err := printInfo(svc); err != nil {
			return fmt.Errorf("pipeline info failed: %w", err)
		}

	case 'p':
		if err := playTimeline(ctx, svc); err != nil {
			return fmt.Errorf("pipeline play failed: %w", err)
		}
		fmt.Println("Pipeline: playback completed")

	default:
		return fmt.Errorf("unknown pipeline step: '%c' (valid: g=generate, i=info, p=play)", step)
	}
	return nil
}

// playTimeline plays the saved timeline until done or interrupted by a signal
func playTimeline(ctx context.Context, svc service.Service) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := svc.Play(ctx, service.PlayOptions{
		Simulate: simulate,
		Observer: report.NewConsole(os.Stdout),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Ticks: %d, writes: %d, elapsed: %.2fs\n", res.Ticks, res.Writes, res.Elapsed.Seconds())
	return nil
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}
	return service.ValidatePipeline(strings.ToLower(pipeline))
}
