// Command xraycore is the composition root and stdio transport for the
// Jira Xray tool-call bridge: it wires configuration, authentication,
// GraphQL dispatch, JQL validation, and identifier resolution into a
// tool facade, then serves newline-delimited JSON tool calls on stdin,
// writing one JSON response per line to stdout.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/xray-tool-bridge/core/internal/config"
	"github.com/xray-tool-bridge/core/internal/graphqlclient"
	"github.com/xray-tool-bridge/core/internal/jql"
	"github.com/xray-tool-bridge/core/internal/jsonutil"
	"github.com/xray-tool-bridge/core/internal/resolve"
	"github.com/xray-tool-bridge/core/internal/tooling"
	"github.com/xray-tool-bridge/core/internal/xrayauth"
	"github.com/xray-tool-bridge/core/internal/xrayerrors"
)

const perCallTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(logger); err != nil {
		logger.Error("xraycore exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	if err := config.LoadDotEnvIntoEnvironment(".env"); err != nil {
		logger.Warn("no .env file loaded", "reason", err)
	}

	creds, err := config.Load(config.EnvSource{})
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	httpClient := &http.Client{Timeout: perCallTimeout}
	authMgr := xrayauth.NewManager(creds, httpClient)
	gqlClient := graphqlclient.New(creds.BaseURL, authMgr, httpClient)
	validator := jql.NewValidator()
	resolver := resolve.New(gqlClient)

	facade := tooling.NewFacade()
	facade.Register(tooling.GetTest(resolver, gqlClient))
	facade.Register(tooling.ExecuteJQLQuery(validator, gqlClient))
	facade.Register(tooling.AddTestsToExecution(resolver, gqlClient))
	facade.Register(tooling.UpdateTest(resolver, gqlClient))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("xraycore ready", "base_url", creds.BaseURL)
	return serveStdio(ctx, logger, facade, os.Stdin, os.Stdout)
}

// callEnvelope is one line of tool-call input.
type callEnvelope struct {
	ID        string              `json:"id"`
	Tool      string              `json:"tool"`
	Arguments jsonutil.RawMessage `json:"arguments"`
}

// resultEnvelope is one line of tool-call output.
type resultEnvelope struct {
	ID     string              `json:"id"`
	Result any                 `json:"result,omitempty"`
	Error  *xrayerrors.Envelope `json:"error,omitempty"`
}

func serveStdio(ctx context.Context, logger *slog.Logger, facade *tooling.Facade, in *os.File, out *os.File) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var call callEnvelope
		if err := jsonutil.Unmarshal(line, &call); err != nil {
			writeResult(writer, resultEnvelope{Error: envelopePtr(xrayerrors.ToEnvelope(&xrayerrors.ValidationError{Reason: "malformed tool-call envelope: " + err.Error()}))})
			continue
		}
		if call.ID == "" {
			call.ID = uuid.NewString()
		}

		callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
		result, failure := facade.Invoke(callCtx, call.Tool, call.Arguments)
		cancel()

		if failure != nil {
			logger.Error("tool call failed", "id", call.ID, "tool", call.Tool, "type", failure.Type)
			writeResult(writer, resultEnvelope{ID: call.ID, Error: failure})
			continue
		}
		writeResult(writer, resultEnvelope{ID: call.ID, Result: result})
	}
}

func envelopePtr(e xrayerrors.Envelope) *xrayerrors.Envelope { return &e }

func writeResult(w *bufio.Writer, r resultEnvelope) {
	encoded, err := jsonutil.Marshal(r)
	if err != nil {
		// Marshaling our own envelope type cannot fail in practice; if it
		// ever does there is nothing meaningful left to report upstream.
		return
	}
	w.Write(encoded)
	w.WriteByte('\n')
	w.Flush()
}
