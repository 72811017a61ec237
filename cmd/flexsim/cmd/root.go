package cmd

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flexsimproject/flexsim/internal/common/flexcontext"
	"github.com/flexsimproject/flexsim/internal/configuration"
	"github.com/flexsimproject/flexsim/internal/engine"
	"github.com/flexsimproject/flexsim/internal/policy"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flexsim <configuration>",
		Short: "Simulate an elastic batch system driven by an external scheduling policy.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulation,
	}
	cmd.Flags().String("logLevel", "", "Log level; overrides the FLEXSIM_LOG_LEVEL environment variable.")
	return cmd
}

func runSimulation(cmd *cobra.Command, args []string) error {
	logLevel, err := cmd.Flags().GetString("logLevel")
	if err != nil {
		return err
	}
	if logLevel == "" {
		logLevel = os.Getenv("FLEXSIM_LOG_LEVEL")
	}
	logger := logrus.New()
	if logLevel != "" {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}

	runId := uuid.New().String()
	ctx := flexcontext.New(cmd.Context(), logrus.NewEntry(logger).WithField("run", runId))

	config, err := configuration.Load(args[0])
	if err != nil {
		return err
	}
	if config.ZmqUrl == "" {
		return errors.New("zmq_url has to be specified")
	}

	ctx.Infof("starting simulation run %s", runId)
	simulation, err := engine.New(ctx, config, policy.NewZmqClient(config.ZmqUrl))
	if err != nil {
		return err
	}

	if config.ShowProgressBar {
		var bar *progressbar.ProgressBar
		simulation.Driver().SetProgressObserver(func(terminated, total int) {
			if bar == nil {
				bar = progressbar.Default(int64(total), "jobs")
			}
			_ = bar.Set(terminated)
		})
	}

	if err := simulation.Run(); err != nil {
		return err
	}
	ctx.Infof("simulation finished at virtual time %g", simulation.Engine().Now())
	return nil
}
