package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/book-expert/audio-service/internal/backend"
)

// Service endpoints.
const (
	pathSpeakers   = "/speakers"
	pathTranscribe = "/transcribe"
	pathSynthesize = "/synthesize"
	pathAnalyze    = "/analyze"
)

var (
	errEitherText = errors.New(errEitherTextOrFile)
	errBothText   = errors.New(errCannotSpecifyBoth)
	errNoText     = errors.New("--text must be provided")
)

type synthesizeFlags struct {
	text     string
	textFile string
	output   string
	speaker  string
	language string
	instruct string
	emotion  string
	clone    bool
	refAudio string
	refText  string
	speed    float64
	nfeStep  int
}

func (a *app) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check audio service health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := a.get(cmd.Context(), "/health")
			if err != nil {
				a.log.Error("Health check failed: %v", err)

				return err
			}

			fmt.Fprintln(a.out, msgServiceHealthy)

			return a.printJSON(body)
		},
	}
}

func (a *app) speakersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "speakers",
		Short: "List preset speakers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := a.get(cmd.Context(), pathSpeakers)
			if err != nil {
				return err
			}

			var listing struct {
				Speakers []string `json:"speakers"`
			}

			decodeErr := json.Unmarshal(body, &listing)
			if decodeErr != nil {
				return fmt.Errorf("failed to decode speakers: %w", decodeErr)
			}

			for _, speaker := range listing.Speakers {
				fmt.Fprintln(a.out, speaker)
			}

			return nil
		},
	}
}

func (a *app) transcribeCommand() *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]string{}
			if language != "" {
				fields["language"] = language
			}

			body, contentType, err := multipartForm(fields, "file", args[0])
			if err != nil {
				return err
			}

			resp, err := a.client.Post(cmd.Context(), pathTranscribe, contentType, body)
			if err != nil {
				a.log.Error("Transcription of %s failed: %v", args[0], err)

				return err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}

			return a.printJSON(data)
		},
	}

	cmd.Flags().StringVar(&language, flagLanguage, "", flagLanguageDesc)

	return cmd
}

func (a *app) synthesizeCommand() *cobra.Command {
	var flags synthesizeFlags

	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Convert text to speech",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.synthesize(cmd.Context(), flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.text, flagText, "", flagTextDesc)
	f.StringVar(&flags.textFile, flagTextFile, "", flagTextFileDesc)
	f.StringVarP(&flags.output, flagOutput, "o", defaultOutputFile, flagOutputDesc)
	f.StringVar(&flags.speaker, flagSpeaker, "", flagSpeakerDesc)
	f.StringVar(&flags.language, flagLanguage, "", flagLanguageDesc)
	f.StringVar(&flags.instruct, flagInstruct, "", flagInstructDesc)
	f.StringVar(&flags.emotion, flagEmotion, "", flagEmotionDesc)
	f.BoolVar(&flags.clone, flagClone, false, flagCloneDesc)
	f.StringVar(&flags.refAudio, flagRefAudio, "", flagRefAudioDesc)
	f.StringVar(&flags.refText, flagRefText, "", flagRefTextDesc)
	f.Float64Var(&flags.speed, flagSpeed, 0, flagSpeedDesc)
	f.IntVar(&flags.nfeStep, flagNFEStep, 0, flagNFEStepDesc)

	return cmd
}

func (a *app) synthesize(ctx context.Context, flags synthesizeFlags) error {
	text, err := resolveText(flags.text, flags.textFile)
	if err != nil {
		return err
	}

	fields := map[string]string{
		"text":     text,
		"speaker":  flags.speaker,
		"language": flags.language,
		"instruct": flags.instruct,
		"emotion":  flags.emotion,
		"ref_text": flags.refText,
	}

	if flags.clone {
		fields["clone"] = "true"
	}

	if flags.speed != 0 {
		fields["speed"] = strconv.FormatFloat(flags.speed, 'f', -1, 64)
	}

	if flags.nfeStep != 0 {
		fields["nfe_step"] = strconv.Itoa(flags.nfeStep)
	}

	body, contentType, err := multipartForm(fields, "ref_audio", flags.refAudio)
	if err != nil {
		return err
	}

	a.log.Info("Synthesizing %d characters to %s", len(text), flags.output)

	resp, err := a.client.Post(ctx, pathSynthesize, contentType, body)
	if err != nil {
		a.log.Error("Synthesis failed: %v", err)

		return err
	}
	defer resp.Body.Close()

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audio: %w", err)
	}

	dirErr := os.MkdirAll(filepath.Dir(flags.output), 0o755)
	if dirErr != nil {
		return fmt.Errorf("failed to create output directory: %w", dirErr)
	}

	writeErr := os.WriteFile(flags.output, audioData, 0o644)
	if writeErr != nil {
		return fmt.Errorf("failed to write %s: %w", flags.output, writeErr)
	}

	fmt.Fprintf(a.out, msgGenerated, flags.output, resp.Header.Get("X-Duration-Ms"), resp.Header.Get("X-Provider"))

	return nil
}

func (a *app) analyzeCommand() *cobra.Command {
	var text, sender string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Resolve the emotion of a message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if text == "" {
				return errNoText
			}

			resp, err := a.client.PostJSON(cmd.Context(), pathAnalyze,
				map[string]string{"text": text, "sender": sender}, backend.ContentTypeJSON)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}

			return a.printJSON(data)
		},
	}

	cmd.Flags().StringVar(&text, flagText, "", flagTextDesc)
	cmd.Flags().StringVar(&sender, flagSender, "", flagSenderDesc)

	return cmd
}

func (a *app) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.BaseURL()+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return data, nil
}

func (a *app) printJSON(data []byte) error {
	var pretty bytes.Buffer

	indentErr := json.Indent(&pretty, data, "", "  ")
	if indentErr != nil {
		return fmt.Errorf("failed to format response: %w", indentErr)
	}

	fmt.Fprintln(a.out, pretty.String())

	return nil
}

func resolveText(text, textFile string) (string, error) {
	switch {
	case text == "" && textFile == "":
		return "", errEitherText
	case text != "" && textFile != "":
		return "", errBothText
	case text != "":
		return text, nil
	}

	data, err := os.ReadFile(textFile)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", textFile, err)
	}

	return string(data), nil
}

// multipartForm encodes fields and, when path is set, the file at path under fileField.
func multipartForm(fields map[string]string, fileField, path string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	for key, value := range fields {
		if value == "" {
			continue
		}

		fieldErr := writer.WriteField(key, value)
		if fieldErr != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, fieldErr)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
		}

		part, err := writer.CreateFormFile(fileField, filepath.Base(path))
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}

		_, err = part.Write(data)
		if err != nil {
			return nil, "", fmt.Errorf("failed to write form file: %w", err)
		}
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", closeErr)
	}

	return &buf, writer.FormDataContentType(), nil
}
