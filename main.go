package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chitti/api"
	"chitti/capture"
	"chitti/chat"
	"chitti/config"
	"chitti/playback"
	"chitti/presence"
	"chitti/server"
	"chitti/tui"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("base-url", "", "Assistant backend base URL")
	rootCmd.PersistentFlags().String("strategy", "", "Capture strategy: auto, native, or manual")
	rootCmd.PersistentFlags().String("deepgram-api-key", "", "Deepgram API key")
	rootCmd.PersistentFlags().String("elevenlabs-api-key", "", "ElevenLabs API key")
	rootCmd.PersistentFlags().String("gemini-api-key", "", "Gemini API key")

	viper.BindPFlag(config.KeyBaseURL, rootCmd.PersistentFlags().Lookup("base-url"))
	viper.BindPFlag(config.KeyStrategy, rootCmd.PersistentFlags().Lookup("strategy"))
	viper.BindPFlag(config.KeyDeepgramAPIKey, rootCmd.PersistentFlags().Lookup("deepgram-api-key"))
	viper.BindPFlag(config.KeyElevenlabsAPIKey, rootCmd.PersistentFlags().Lookup("elevenlabs-api-key"))
	viper.BindPFlag(config.KeyGeminiAPIKey, rootCmd.PersistentFlags().Lookup("gemini-api-key"))

	serveCmd.Flags().IntP("port", "p", 5001, "Port for the backend server")
	viper.BindPFlag(config.KeyServePort, serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	config.SetDefaults()

	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}
	viper.SetConfigType("yaml")
	viper.SetConfigName(".chitti")

	viper.SetEnvPrefix("CHITTI")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logger.Debug("using config file", "path", viper.ConfigFileUsed())
	}
}

var rootCmd = &cobra.Command{
	Use:   "chitti",
	Short: "A tutorial page with a voice assistant",
	Long:  "Chitti renders a tutorial document, reads it aloud, and answers questions by text or voice.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(args)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [document.md]",
	Short: "Open the tutorial page and chat popup",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(args)
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Have the assistant speak the given text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := api.New(config.BaseURL(), logger)
		pres := presence.New()
		player := playback.New(pres, logger)

		audio, err := client.Speak(ctx, strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("speech unavailable: %w", err)
		}
		if err := player.Play(audio, "paragraph-click"); err != nil {
			return err
		}
		for player.Speaking() {
			time.Sleep(100 * time.Millisecond)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a development backend for the tutorial page",
	RunE: func(cmd *cobra.Command, args []string) error {
		var synth server.Synthesizer
		var stt server.Transcriber
		var chatter server.Chatter

		if key := config.ElevenlabsAPIKey(); key != "" {
			synth = server.NewElevenLabsSynthesizer(key)
		} else {
			logger.Warn("no elevenlabs api key; speech synthesis disabled")
		}
		if key := config.DeepgramAPIKey(); key != "" {
			stt = server.NewDeepgramTranscriber(key)
		} else {
			logger.Warn("no deepgram api key; speech recognition disabled")
		}
		if key := config.GeminiAPIKey(); key != "" {
			g, err := server.NewGeminiChatter(cmd.Context(), key)
			if err != nil {
				return err
			}
			defer g.Close()
			chatter = g
		} else {
			logger.Warn("no gemini api key; chat disabled")
		}

		return server.New(synth, stt, chatter, logger).ListenAndServe(config.ServePort())
	},
}

func runChat(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	document := ""
	if len(args) == 1 {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading document: %w", err)
		}
		document = string(raw)
	}

	pres := presence.New()
	player := playback.New(pres, logger)
	ctrl := capture.NewController(pres, logger)

	recognizer := capture.NewRecognizer(
		config.DeepgramAPIKey(),
		capture.NewFFmpegMic(config.MicFormat(), config.MicDevice(), capture.EncodingPCM16),
		ctrl,
		logger,
	)
	recorder := capture.NewRecorder(
		capture.NewFFmpegMic(config.MicFormat(), config.MicDevice(), capture.EncodingOgg),
		ctrl,
		config.RecordLimit(),
		config.MinRecordingBytes(),
		logger,
	)

	strategy, err := pickStrategy(config.Strategy(), recognizer, recorder)
	if err != nil {
		logger.Warn("voice input unavailable", "error", err)
	} else {
		ctrl.Use(strategy)
		logger.Info("capture strategy", "name", strategy.Name())
	}

	client := api.New(config.BaseURL(), logger)
	orch := chat.New(client, player, ctrl, pres, logger)
	ctrl.OnResult = func(r capture.Result) { orch.HandleCaptureResult(ctx, r) }
	ctrl.OnError = orch.HandleCaptureError

	if err := tui.Run(ctx, orch, pres, document); err != nil {
		return err
	}

	if entries := orch.Entries(); len(entries) > 0 {
		fmt.Println("\nConversation:")
		orch.RenderTable(os.Stdout)
	}
	return nil
}

var errNoCapture = errors.New("neither capture strategy is available")

// pickStrategy resolves the configured capture strategy, asking the user
// when both are possible and the choice is left on auto.
func pickStrategy(name string, native, manual capture.Strategy) (capture.Strategy, error) {
	resolved, prompt, err := resolveStrategy(name, native.Available(), manual.Available())
	if err != nil {
		return nil, err
	}
	if prompt {
		if err := huh.NewSelect[string]().
			Title("How should I listen to you?").
			Options(
				huh.NewOption("Live recognition (shows your words)", "native"),
				huh.NewOption("Plain recording (sends your voice)", "manual"),
			).
			Value(&resolved).
			Run(); err != nil {
			// No terminal for the prompt; recognition is the richer default.
			resolved = "native"
		}
	}
	if resolved == "native" {
		return native, nil
	}
	return manual, nil
}

// resolveStrategy is the capability query: which strategy to use, and
// whether the user should be asked.
func resolveStrategy(name string, nativeOK, manualOK bool) (string, bool, error) {
	switch name {
	case "native":
		if !nativeOK {
			return "", false, errors.New("native recognition is not available")
		}
		return "native", false, nil
	case "manual":
		if !manualOK {
			return "", false, errors.New("manual recording is not available")
		}
		return "manual", false, nil
	default:
		switch {
		case nativeOK && manualOK:
			return "native", true, nil
		case nativeOK:
			return "native", false, nil
		case manualOK:
			return "manual", false, nil
		default:
			return "", false, errNoCapture
		}
	}
}

func main() {
	logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	log.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("command failed", "error", err)
	}
}
