package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/paulober/pyboard-serial-com/internal/dispatch"
	"github.com/paulober/pyboard-serial-com/internal/events"
	"github.com/paulober/pyboard-serial-com/internal/logging"
	"github.com/paulober/pyboard-serial-com/internal/session"
	"github.com/paulober/pyboard-serial-com/internal/transport"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the command protocol on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
}

func runServe(cmd *cobra.Command, flags *rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	initLogging(cfg)

	if cfg.Serial.Device == "" {
		return errors.New("no serial device given (use --device or PICOSERD_DEVICE)")
	}
	logger := logging.WithPort(cfg.Serial.Device)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		logger.Info().Msg("stdin is a terminal; the reply stream is meant for a parent process")
	}

	tport, err := transport.OpenSerial(cfg.Serial.Device, cfg.Serial.BaudRate)
	if err != nil {
		return err
	}

	sess := session.New(tport, cfg.Protocol, logger)
	if err := sess.Open(true); err != nil {
		tport.Close()
		return err
	}
	logger.Info().Str("session", sess.ID).Msg("session open")

	pub := events.NewInMemoryPublisher()
	defer pub.Close()
	if err := pub.Subscribe("serve-log", events.Filter{}, func(e *events.Event) {
		logger.Debug().Str("event", string(e.Type)).Str("session", e.SessionID).Msg("session event")
	}); err != nil {
		return err
	}
	pub.Publish(&events.Event{Type: events.TypeSessionOpened, SessionID: sess.ID})

	d := dispatch.New(sess, cmd.InOrStdin(), cmd.OutOrStdout(), cfg.Serial.Device, pub, logger)
	return d.Run()
}
