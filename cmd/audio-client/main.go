// main package for the audio-client command line tool.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/audio-service/internal/backend"
)

// Flag names.
const (
	flagServer   = "server"
	flagTimeout  = "timeout"
	flagVerbose  = "verbose"
	flagLanguage = "language"
	flagText     = "text"
	flagTextFile = "text-file"
	flagOutput   = "output"
	flagSpeaker  = "speaker"
	flagInstruct = "instruct"
	flagEmotion  = "emotion"
	flagClone    = "clone"
	flagRefAudio = "ref-audio"
	flagRefText  = "ref-text"
	flagSpeed    = "speed"
	flagNFEStep  = "nfe-step"
	flagSender   = "sender"
)

// Flag descriptions.
const (
	flagServerDesc   = "Audio service base URL"
	flagTimeoutDesc  = "Request timeout"
	flagVerboseDesc  = "Enable verbose logging"
	flagLanguageDesc = "Language code (e.g. de, en)"
	flagTextDesc     = "Text to convert to speech"
	flagTextFileDesc = "File containing the text to convert"
	flagOutputDesc   = "Output file path (.wav)"
	flagSpeakerDesc  = "Preset speaker name"
	flagInstructDesc = "Voice style instruction"
	flagEmotionDesc  = "Emotion label selecting the voice style"
	flagCloneDesc    = "Clone the reference voice instead of using a preset speaker"
	flagRefAudioDesc = "Reference recording for voice cloning"
	flagRefTextDesc  = "Transcript of the reference recording"
	flagSpeedDesc    = "Speech speed (0.25-4.0)"
	flagNFEStepDesc  = "Synthesis steps (1-128)"
	flagSenderDesc   = "Message sender"
)

// Defaults.
const (
	defaultServer     = "http://localhost:8100"
	defaultTimeout    = 10 * time.Minute
	defaultOutputFile = "output.wav"
	logFileName       = "audio-client.log"
	logFileVerbose    = "audio-client-verbose.log"
)

// Error and log messages.
const (
	errFailedToInitLogger = "failed to initialize logger: %w"
	errEitherTextOrFile   = "either --text or --text-file must be provided"
	errCannotSpecifyBoth  = "cannot specify both --text and --text-file"
	msgServiceHealthy     = "Audio service is healthy"
	msgGenerated          = "Generated: %s (%s ms, %s)\n"
	logClientInitialized  = "Audio client initialized (server: %s)"
)

// app carries the state shared by all subcommands.
type app struct {
	server  string
	timeout time.Duration
	verbose bool
	out     io.Writer
	client  *backend.Client
	log     *logger.Logger
}

func newRootCommand(out io.Writer) *cobra.Command {
	application := &app{out: out}

	root := &cobra.Command{
		Use:           "audio-client",
		Short:         "Client for the audio service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return application.setup()
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return application.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&application.server, flagServer, defaultServer, flagServerDesc)
	flags.DurationVar(&application.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flags.BoolVar(&application.verbose, flagVerbose, false, flagVerboseDesc)

	root.AddCommand(
		application.healthCommand(),
		application.speakersCommand(),
		application.transcribeCommand(),
		application.synthesizeCommand(),
		application.analyzeCommand(),
	)

	return root
}

func (a *app) setup() error {
	fileName := logFileName
	if a.verbose {
		fileName = logFileVerbose
	}

	log, err := logger.New(os.TempDir(), fileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLogger, err)
	}

	client, err := backend.NewClient(a.server, a.timeout)
	if err != nil {
		_ = log.Close()

		return err
	}

	a.log = log
	a.client = client
	a.log.Info(logClientInitialized, a.server)

	return nil
}

func (a *app) close() error {
	if a.log == nil {
		return nil
	}

	return a.log.Close()
}

func main() {
	err := newRootCommand(os.Stdout).Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
