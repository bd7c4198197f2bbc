package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"

	"github.com/triggerfi/chainflow/pkg/log"
	"github.com/triggerfi/chainflow/pkg/models"
	"github.com/triggerfi/chainflow/pkg/registry"
	"github.com/triggerfi/chainflow/pkg/workflow"
)

var ErrInvalidWorkflows = errors.New("invalid workflow definitions found")

// NewValidateCommand checks every workflow document in the workflows
// directory: schema shape, model semantics, struct tags and that every
// referenced token resolves on the target network.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate workflow definitions against the token registry",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workflows-path",
				Usage:   "Directory containing workflow definition documents",
				Value:   "./workflows",
				Sources: cli.EnvVars("CHAINFLOW_WORKFLOWS_PATH"),
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Chain network (mainnet, testnet)",
				Value:   "mainnet",
				Sources: cli.EnvVars("CHAINFLOW_NETWORK"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("chainflow").With("action", "validate")

			tokens, err := registry.New(registry.Network(command.String("network")))
			if err != nil {
				return err
			}

			repository, err := workflow.NewFileRepository(command.String("workflows-path"), logger)
			if err != nil {
				return err
			}

			entries, err := os.ReadDir(command.String("workflows-path"))
			if err != nil {
				return fmt.Errorf("failed to read workflows directory: %w", err)
			}

			validate := validator.New(validator.WithRequiredStructEnabled())
			now := time.Now().UTC()

			_, _ = fmt.Fprintln(os.Stdout, "Workflow Definition Validation Results:")
			_, _ = fmt.Fprintln(os.Stdout, "=======================================")

			valid := 0
			invalid := 0

			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
					continue
				}

				id := strings.TrimSuffix(entry.Name(), ".json")

				_, _ = fmt.Fprintf(os.Stdout, "\nDocument: %s\n", entry.Name())

				definition, err := repository.FetchByID(ctx, id)
				if err != nil {
					invalid++

					_, _ = fmt.Fprintf(os.Stdout, "  INVALID: %s\n", err)

					continue
				}

				problems := make([]string, 0)

				if err := validate.Struct(definition); err != nil {
					problems = append(problems, err.Error())
				}

				if definition.Trigger.Kind == models.TriggerKindTime {
					if _, ok := definition.Trigger.NextFireAt(now); !ok {
						problems = append(problems, "time schedule has no future fire time")
					}
				}

				if definition.Trigger.Token != "" {
					if _, err := tokens.TokenHash(definition.Trigger.Token); err != nil {
						problems = append(problems, err.Error())
					}
				}

				for i, action := range definition.Actions {
					if token := action.Token(); token != "" {
						if _, err := tokens.TokenHash(token); err != nil {
							problems = append(problems, fmt.Sprintf("action %d: %s", i, err))
						}
					}
				}

				if len(problems) == 0 {
					valid++

					_, _ = fmt.Fprintln(os.Stdout, "  OK")

					continue
				}

				invalid++

				for _, problem := range problems {
					_, _ = fmt.Fprintf(os.Stdout, "  INVALID: %s\n", problem)
				}
			}

			_, _ = fmt.Fprintf(os.Stdout, "\nValid: %d, Invalid: %d\n", valid, invalid)

			if invalid > 0 {
				return fmt.Errorf("%w: %d of %d", ErrInvalidWorkflows, invalid, valid+invalid)
			}

			return nil
		},
	}
}
